package chain

import (
	"context"
	"crypto/ecdsa"
	stderrors "errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

const (
	evmNativeDecimals   = 18
	evmTransferGas      = 21000
	evmExecGasFallback  = 150000
	evmTokenGasFallback = 200000
	evmDeployGas        = 350000
)

// Canonical Safe v1.3.0 deployments.
const (
	DefaultSafeFactory         = "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"
	DefaultSafeSingleton       = "0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552"
	DefaultSafeFallbackHandler = "0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"
)

// EVMClient is the part of ethclient.Client the adapter uses.
type EVMClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

type EVMConfig struct {
	Chain           types.ChainCode
	Symbol          string
	ChainID         *big.Int
	SafeFactory     string
	SafeSingleton   string
	FallbackHandler string
}

// EVMAdapter drives Safe multisig wallets on EVM chains.
type EVMAdapter struct {
	cfg    EVMConfig
	client EVMClient
}

func NewEVMAdapter(cfg EVMConfig, client EVMClient) *EVMAdapter {
	if cfg.SafeFactory == "" {
		cfg.SafeFactory = DefaultSafeFactory
	}
	if cfg.SafeSingleton == "" {
		cfg.SafeSingleton = DefaultSafeSingleton
	}
	if cfg.FallbackHandler == "" {
		cfg.FallbackHandler = DefaultSafeFallbackHandler
	}
	return &EVMAdapter{cfg: cfg, client: client}
}

// DialEVM connects to rpcURL and builds the adapter.
func DialEVM(ctx context.Context, cfg EVMConfig, rpcURL string) (*EVMAdapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", cfg.Chain, err)
	}
	if cfg.ChainID == nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s chain id: %w", cfg.Chain, err)
		}
		cfg.ChainID = id
	}
	return NewEVMAdapter(cfg, client), nil
}

func (a *EVMAdapter) ChainCode() types.ChainCode { return a.cfg.Chain }

func (a *EVMAdapter) NativeAsset() Asset {
	return Asset{Symbol: a.cfg.Symbol, Decimals: evmNativeDecimals}
}

func (a *EVMAdapter) chain() string { return string(a.cfg.Chain) }

func (a *EVMAdapter) AddressFromKey(key PrivateKey) (string, string, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", "", errors.Wrap(err, errors.KindAuth, errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	return crypto.PubkeyToAddress(priv.PublicKey).Hex(), hexutil.Encode(crypto.CompressPubkey(&priv.PublicKey)), nil
}

func (a *EVMAdapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return invalidAddress(a.chain(), address)
	}
	return nil
}

func (a *EVMAdapter) parseAddress(address string) (common.Address, error) {
	if err := a.ValidateAddress(address); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(address), nil
}

func (a *EVMAdapter) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	return out, nil
}

func (a *EVMAdapter) Balance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	owner, err := a.parseAddress(address)
	if err != nil {
		return nil, err
	}
	if asset.IsNative() {
		bal, err := a.client.BalanceAt(ctx, owner, nil)
		return bal, classifyRPC(a.chain(), err)
	}
	token, err := a.parseAddress(asset.TokenAddr)
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, errors.Internal(err)
	}
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected balanceOf result: %v", err))
	}
	return values[0].(*big.Int), nil
}

func (a *EVMAdapter) Decimals(ctx context.Context, tokenAddr string) (uint8, error) {
	if tokenAddr == "" {
		return evmNativeDecimals, nil
	}
	info, err := a.TokenInfo(ctx, tokenAddr)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

func (a *EVMAdapter) TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error) {
	if tokenAddr == "" {
		return &TokenInfo{Symbol: a.cfg.Symbol, Name: a.cfg.Symbol, Decimals: evmNativeDecimals}, nil
	}
	token, err := a.parseAddress(tokenAddr)
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{}
	for _, method := range []string{"decimals", "symbol", "name"} {
		data, err := erc20ABI.Pack(method)
		if err != nil {
			return nil, errors.Internal(err)
		}
		out, err := a.call(ctx, token, data)
		if err != nil {
			return nil, err
		}
		values, err := erc20ABI.Unpack(method, out)
		if err != nil || len(values) == 0 {
			return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected %s result: %v", method, err))
		}
		switch method {
		case "decimals":
			info.Decimals = values[0].(uint8)
		case "symbol":
			info.Symbol = values[0].(string)
		case "name":
			info.Name = values[0].(string)
		}
	}
	return info, nil
}

func (a *EVMAdapter) gasPrice(ctx context.Context, fee string) (*big.Int, error) {
	if fee != "" {
		price, ok := new(big.Int).SetString(fee, 10)
		if !ok || price.Sign() <= 0 {
			return nil, errors.Validationf(errors.ErrCodeInvalidAmount, "invalid gas price %q", fee)
		}
		return price, nil
	}
	price, err := a.client.SuggestGasPrice(ctx)
	return price, classifyRPC(a.chain(), err)
}

// transferCall returns the destination, value and calldata moving value of asset to to.
func (a *EVMAdapter) transferCall(ctx context.Context, to string, value string, asset Asset) (common.Address, *big.Int, []byte, error) {
	recipient, err := a.parseAddress(to)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	decimals, err := a.Decimals(ctx, asset.TokenAddr)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	amount, err := ToBaseUnits(value, decimals)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	if asset.IsNative() {
		return recipient, amount.ToBig(), nil, nil
	}
	token, err := a.parseAddress(asset.TokenAddr)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	data, err := erc20ABI.Pack("transfer", recipient, amount.ToBig())
	if err != nil {
		return common.Address{}, nil, nil, errors.Internal(err)
	}
	return token, big.NewInt(0), data, nil
}

func (a *EVMAdapter) EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error) {
	from, err := a.parseAddress(req.From)
	if err != nil {
		return "", err
	}
	to, value, data, err := a.transferCall(ctx, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	price, err := a.gasPrice(ctx, req.Fee)
	if err != nil {
		return "", err
	}
	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		gas = evmTransferGas
		if !req.Asset.IsNative() {
			gas = evmTokenGasFallback
		}
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(gas))
	return FromBaseUnits(fee, evmNativeDecimals), nil
}

// send signs and broadcasts a legacy transaction from key.
func (a *EVMAdapter) send(ctx context.Context, key PrivateKey, to common.Address, value *big.Int, data []byte, fee string, fallbackGas uint64) (string, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", errors.Wrap(err, errors.KindAuth, errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	from := crypto.PubkeyToAddress(priv.PublicKey)

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", classifyRPC(a.chain(), err)
	}
	price, err := a.gasPrice(ctx, fee)
	if err != nil {
		return "", err
	}
	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
			return "", rejected(a.chain(), errors.ErrCodeInsufficientBalance, err.Error())
		}
		logx.Warn("CHAIN", "gas estimation failed, using fallback", "chain", a.chain(), "error", err)
		gas = fallbackGas
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(a.cfg.ChainID), priv)
	if err != nil {
		return "", errors.Internal(err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	return signed.Hash().Hex(), nil
}

func (a *EVMAdapter) Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error) {
	to, value, data, err := a.transferCall(ctx, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	gas := uint64(evmTransferGas)
	if !req.Asset.IsNative() {
		gas = evmTokenGasFallback
	}
	return a.send(ctx, key, to, value, data, req.Fee, gas)
}

func (a *EVMAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	n, err := a.client.BlockNumber(ctx)
	return n, classifyRPC(a.chain(), err)
}

func (a *EVMAdapter) QueryTxResult(ctx context.Context, hash string) (*TxResult, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if stderrors.Is(err, ethereum.NotFound) {
		return &TxResult{Hash: hash, Status: TxPending}, nil
	}
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	res := &TxResult{Hash: hash, Status: TxFailed}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		res.Status = TxSuccess
	}
	if receipt.BlockNumber != nil {
		res.BlockHeight = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		fee := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		res.Fee = FromBaseUnits(fee, evmNativeDecimals)
	}
	return res, nil
}

// safeSaltNonce returns the stored salt nonce or one derived from the account id.
func safeSaltNonce(account *types.MultisigAccount) (*big.Int, error) {
	if account.Salt != "" {
		n, ok := new(big.Int).SetString(account.Salt, 10)
		if !ok {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "invalid salt %q", account.Salt)
		}
		return n, nil
	}
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(account.ID))[:8]), nil
}

func (a *EVMAdapter) owners(members []*types.MultisigMember) ([]common.Address, error) {
	owners := make([]common.Address, 0, len(members))
	for _, m := range members {
		addr, err := a.parseAddress(m.Address)
		if err != nil {
			return nil, err
		}
		owners = append(owners, addr)
	}
	sort.Slice(owners, func(i, j int) bool {
		return strings.ToLower(owners[i].Hex()) < strings.ToLower(owners[j].Hex())
	})
	return owners, nil
}

func (a *EVMAdapter) createProxyCall(account *types.MultisigAccount, members []*types.MultisigMember) ([]byte, *big.Int, error) {
	owners, err := a.owners(members)
	if err != nil {
		return nil, nil, err
	}
	salt, err := safeSaltNonce(account)
	if err != nil {
		return nil, nil, err
	}
	zero := common.Address{}
	initializer, err := safeABI.Pack("setup", owners, big.NewInt(int64(account.Threshold)),
		zero, []byte{}, common.HexToAddress(a.cfg.FallbackHandler), zero, big.NewInt(0), zero)
	if err != nil {
		return nil, nil, errors.Internal(err)
	}
	data, err := safeABI.Pack("createProxyWithNonce", common.HexToAddress(a.cfg.SafeSingleton), initializer, salt)
	if err != nil {
		return nil, nil, errors.Internal(err)
	}
	return data, salt, nil
}

// MultisigAddress simulates the proxy creation to learn the CREATE2 address.
func (a *EVMAdapter) MultisigAddress(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*MultisigAddressResult, error) {
	from, err := a.parseAddress(account.InitiatorAddr)
	if err != nil {
		return nil, err
	}
	data, salt, err := a.createProxyCall(account, members)
	if err != nil {
		return nil, err
	}
	factory := common.HexToAddress(a.cfg.SafeFactory)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &factory, Data: data}, nil)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	values, err := safeABI.Unpack("createProxyWithNonce", out)
	if err != nil || len(values) == 0 {
		return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected createProxyWithNonce result: %v", err))
	}
	return &MultisigAddressResult{
		Address: values[0].(common.Address).Hex(),
		Salt:    salt.String(),
	}, nil
}

func (a *EVMAdapter) DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, fee string, key PrivateKey) (*DeployResult, error) {
	addr, err := a.MultisigAddress(ctx, account, members)
	if err != nil {
		return nil, err
	}
	deploying := *account
	deploying.Salt = addr.Salt
	data, _, err := a.createProxyCall(&deploying, members)
	if err != nil {
		return nil, err
	}
	hash, err := a.send(ctx, key, common.HexToAddress(a.cfg.SafeFactory), big.NewInt(0), data, fee, evmDeployGas)
	if err != nil {
		return nil, err
	}
	return &DeployResult{DeployHash: hash, Address: addr.Address, Salt: addr.Salt}, nil
}

type safeTxPayload struct {
	Safe       string `json:"safe"`
	To         string `json:"to"`
	Value      string `json:"value"`
	Data       string `json:"data"`
	Nonce      string `json:"nonce"`
	SafeTxHash string `json:"safe_tx_hash"`
}

func decodeSafeTx(chain, raw string) (*safeTxPayload, error) {
	var p safeTxPayload
	if err := jsonx.UnmarshalFromString(raw, &p); err != nil {
		return nil, invalidPayload(chain, err)
	}
	if p.SafeTxHash == "" || p.Safe == "" {
		return nil, invalidPayload(chain, fmt.Errorf("incomplete safe transaction"))
	}
	return &p, nil
}

func (a *EVMAdapter) BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	safe, err := a.parseAddress(account.Address)
	if err != nil {
		return nil, err
	}
	to, value, data, err := a.transferCall(ctx, req.To, req.Value, asset)
	if err != nil {
		return nil, err
	}

	nonceData, err := safeABI.Pack("nonce")
	if err != nil {
		return nil, errors.Internal(err)
	}
	out, err := a.call(ctx, safe, nonceData)
	if err != nil {
		return nil, err
	}
	values, err := safeABI.Unpack("nonce", out)
	if err != nil || len(values) == 0 {
		return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected nonce result: %v", err))
	}
	nonce := values[0].(*big.Int)

	zero := common.Address{}
	hashCall, err := safeABI.Pack("getTransactionHash", to, value, data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), zero, zero, nonce)
	if err != nil {
		return nil, errors.Internal(err)
	}
	out, err = a.call(ctx, safe, hashCall)
	if err != nil {
		return nil, err
	}
	values, err = safeABI.Unpack("getTransactionHash", out)
	if err != nil || len(values) == 0 {
		return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected getTransactionHash result: %v", err))
	}
	hash := values[0].([32]byte)

	payload := safeTxPayload{
		Safe:       safe.Hex(),
		To:         to.Hex(),
		Value:      value.String(),
		Data:       hexutil.Encode(data),
		Nonce:      nonce.String(),
		SafeTxHash: hexutil.Encode(hash[:]),
	}
	raw, err := jsonx.MarshalToString(payload)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &BuiltTx{RawData: raw, MsgHash: payload.SafeTxHash}, nil
}

func (a *EVMAdapter) BuildMultisigWithPermission(context.Context, *MultisigTxRequest, *Permission, Asset, PrivateKey) (*BuiltTx, error) {
	return nil, errors.Validation(errors.ErrCodeUnsupported, "permission based multisig is only available on tron").WithChain(a.chain())
}

func (a *EVMAdapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, address string, key PrivateKey, rawData string) (string, error) {
	p, err := decodeSafeTx(a.chain(), rawData)
	if err != nil {
		return "", err
	}
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", errors.Wrap(err, errors.KindAuth, errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	if signer := crypto.PubkeyToAddress(priv.PublicKey); !types.SameAddress(signer.Hex(), address) {
		return "", errors.Validationf(errors.ErrCodeNotMember, "key does not control %s", address)
	}
	hash, err := hexutil.Decode(p.SafeTxHash)
	if err != nil {
		return "", invalidPayload(a.chain(), err)
	}
	return signSafeHash(hash, priv)
}

func signSafeHash(hash []byte, priv *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return "", errors.Internal(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// packSafeSignatures concatenates confirmed signatures in ascending owner
// order, verifying each against the safe tx hash.
func packSafeSignatures(hash []byte, sigs []*types.MultisigSignature, threshold int) ([]byte, error) {
	sorted := make([]*types.MultisigSignature, 0, len(sigs))
	for _, s := range sigs {
		if s.Status == types.SignatureConfirmed {
			sorted = append(sorted, s)
		}
	}
	types.SortSignaturesByAddress(sorted)
	if len(sorted) < threshold {
		return nil, errors.Validationf(errors.ErrCodeInvalidStatus, "%d confirmed signatures, %d required", len(sorted), threshold)
	}

	var packed []byte
	for _, s := range sorted[:threshold] {
		sig, err := hexutil.Decode(s.Signature)
		if err != nil || len(sig) != crypto.SignatureLength {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "malformed signature of %s", s.Address)
		}
		check := append([]byte(nil), sig...)
		check[crypto.RecoveryIDOffset] -= 27
		pub, err := crypto.SigToPub(hash, check)
		if err != nil || !types.SameAddress(crypto.PubkeyToAddress(*pub).Hex(), s.Address) {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "signature of %s does not match the transaction", s.Address)
		}
		packed = append(packed, sig...)
	}
	return packed, nil
}

func (a *EVMAdapter) execCall(p *safeTxPayload, packed []byte) (common.Address, []byte, error) {
	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return common.Address{}, nil, invalidPayload(a.chain(), fmt.Errorf("invalid value %q", p.Value))
	}
	data, err := hexutil.Decode(p.Data)
	if err != nil {
		data = nil
	}
	zero := common.Address{}
	input, err := safeABI.Pack("execTransaction", common.HexToAddress(p.To), value, data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), zero, zero, packed)
	if err != nil {
		return common.Address{}, nil, errors.Internal(err)
	}
	return common.HexToAddress(p.Safe), input, nil
}

func (a *EVMAdapter) EstimateMultisigFee(ctx context.Context, queue *types.MultisigQueueEntry, asset Asset, _ []*types.MultisigSignature) (string, error) {
	price, err := a.gasPrice(ctx, "")
	if err != nil {
		return "", err
	}
	gas := uint64(evmExecGasFallback)
	if !asset.IsNative() {
		gas = evmTokenGasFallback
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(gas))
	return FromBaseUnits(fee, evmNativeDecimals), nil
}

func (a *EVMAdapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, _ []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, key PrivateKey, fee string) (string, error) {
	p, err := decodeSafeTx(a.chain(), queue.RawData)
	if err != nil {
		return "", err
	}
	hash, err := hexutil.Decode(p.SafeTxHash)
	if err != nil {
		return "", invalidPayload(a.chain(), err)
	}
	packed, err := packSafeSignatures(hash, sigs, account.Threshold)
	if err != nil {
		return "", err
	}
	safe, input, err := a.execCall(p, packed)
	if err != nil {
		return "", err
	}
	return a.send(ctx, key, safe, big.NewInt(0), input, fee, evmExecGasFallback)
}
