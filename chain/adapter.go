package chain

import (
	"context"
	"math/big"

	"github.com/mezonai/msig/types"
)

// PrivateKey is the raw private key material handed out by the keystore.
// secp256k1 chains use the 32 byte scalar, ed25519 chains the 32 byte seed.
type PrivateKey []byte

// Asset selects the coin a transfer moves. An empty TokenAddr means the
// chain's native coin.
type Asset struct {
	Symbol    string `json:"symbol"`
	TokenAddr string `json:"token_addr,omitempty"`
	Decimals  uint8  `json:"decimals"`
}

func (a Asset) IsNative() bool { return a.TokenAddr == "" }

type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// TransferRequest is a single signer transfer. Value is in human units.
type TransferRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Asset Asset  `json:"asset"`
	// Fee overrides the fee setting of the adapter, chain specific encoding
	Fee string `json:"fee,omitempty"`
}

type TxStatus int

const (
	TxPending TxStatus = iota
	TxSuccess
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxSuccess:
		return "success"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

type TxResult struct {
	Hash        string   `json:"hash"`
	Status      TxStatus `json:"status"`
	BlockHeight uint64   `json:"block_height"`
	Fee         string   `json:"fee"`
	Reason      string   `json:"reason,omitempty"`
}

type MultisigAddressResult struct {
	Address       string `json:"address"`
	Salt          string `json:"salt"`
	AuthorityAddr string `json:"authority_addr"`
}

// MultisigTxRequest describes a transfer out of a multisig account.
type MultisigTxRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Value      string `json:"value"`
	Expiration int64  `json:"expiration"`
	Notes      string `json:"notes,omitempty"`
}

// BuiltTx is the unsigned transaction. RawData is opaque outside the
// adapter that produced it, MsgHash is what every signer signs.
type BuiltTx struct {
	RawData string `json:"raw_data"`
	MsgHash string `json:"msg_hash"`
}

// Permission is a Tron signer group on an existing account.
type Permission struct {
	Address      string   `json:"address"`
	PermissionID int      `json:"permission_id"`
	Threshold    int      `json:"threshold"`
	Keys         []string `json:"keys"`
}

type DeployResult struct {
	DeployHash    string `json:"deploy_hash"`
	FeeHash       string `json:"fee_hash"`
	Address       string `json:"address"`
	Salt          string `json:"salt"`
	AuthorityAddr string `json:"authority_addr"`
}

// TxAdapter covers plain single signer operations on a chain.
type TxAdapter interface {
	Balance(ctx context.Context, address string, asset Asset) (*big.Int, error)
	Decimals(ctx context.Context, tokenAddr string) (uint8, error)
	TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error)
	EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error)
	Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error)
	BlockHeight(ctx context.Context) (uint64, error)
	QueryTxResult(ctx context.Context, hash string) (*TxResult, error)
}

// MultisigAdapter covers the multisig lifecycle. Implementations keep no
// state between calls besides their RPC client.
type MultisigAdapter interface {
	MultisigAddress(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*MultisigAddressResult, error)
	BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, key PrivateKey) (*BuiltTx, error)
	BuildMultisigWithPermission(ctx context.Context, req *MultisigTxRequest, perm *Permission, asset Asset, key PrivateKey) (*BuiltTx, error)
	SignMultisigTx(ctx context.Context, account *types.MultisigAccount, address string, key PrivateKey, rawData string) (string, error)
	EstimateMultisigFee(ctx context.Context, queue *types.MultisigQueueEntry, asset Asset, sigs []*types.MultisigSignature) (string, error)
	DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, fee string, key PrivateKey) (*DeployResult, error)
	ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, key PrivateKey, fee string) (string, error)
}

// KeyCodec maps key material to the chain's address and public key encoding.
type KeyCodec interface {
	AddressFromKey(key PrivateKey) (address string, pubkey string, err error)
	ValidateAddress(address string) error
}

// Adapter is everything the coordinator needs from one chain.
type Adapter interface {
	TxAdapter
	MultisigAdapter
	KeyCodec
	ChainCode() types.ChainCode
	NativeAsset() Asset
}
