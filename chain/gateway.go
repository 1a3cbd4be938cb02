package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"github.com/mr-tron/base58"
)

// DefaultSquadsProgram is the Squads v4 program on Solana mainnet.
const DefaultSquadsProgram = "SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf"

type GatewayConfig struct {
	Chain    types.ChainCode
	Symbol   string
	Decimals uint8
	// SquadsProgram is the multisig program id (sol only)
	SquadsProgram string
}

// GatewayAdapter serves ed25519 chains whose program or wallet-contract
// transactions are assembled by a chain gateway over JSON-RPC. Keys never
// leave the process: the gateway returns digests, signing happens here.
type GatewayAdapter struct {
	cfg GatewayConfig
	rpc RPCCaller
}

func NewGatewayAdapter(cfg GatewayConfig, rpc RPCCaller) *GatewayAdapter {
	if cfg.Chain == types.ChainSolana && cfg.SquadsProgram == "" {
		cfg.SquadsProgram = DefaultSquadsProgram
	}
	return &GatewayAdapter{cfg: cfg, rpc: rpc}
}

func (a *GatewayAdapter) ChainCode() types.ChainCode { return a.cfg.Chain }

func (a *GatewayAdapter) NativeAsset() Asset {
	return Asset{Symbol: a.cfg.Symbol, Decimals: a.cfg.Decimals}
}

func (a *GatewayAdapter) chain() string { return string(a.cfg.Chain) }

func (a *GatewayAdapter) method(name string) string { return a.chain() + "_" + name }

func (a *GatewayAdapter) call(ctx context.Context, result interface{}, name string, params interface{}) error {
	return classifyRPC(a.chain(), a.rpc.CallContext(ctx, result, a.method(name), params))
}

func (a *GatewayAdapter) encodePubkey(pub ed25519.PublicKey) string {
	if a.cfg.Chain == types.ChainSolana {
		return base58.Encode(pub)
	}
	return hex.EncodeToString(pub)
}

func (a *GatewayAdapter) AddressFromKey(key PrivateKey) (string, string, error) {
	priv, err := ed25519Key(key)
	if err != nil {
		return "", "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if a.cfg.Chain == types.ChainSolana {
		return base58.Encode(pub), hex.EncodeToString(pub), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var address string
	if err := a.call(ctx, &address, "walletAddress", map[string]string{"pubkey": hex.EncodeToString(pub)}); err != nil {
		return "", "", err
	}
	return address, hex.EncodeToString(pub), nil
}

func (a *GatewayAdapter) ValidateAddress(address string) error {
	if a.cfg.Chain == types.ChainSolana {
		raw, err := base58.Decode(address)
		if err != nil || len(raw) != 32 {
			return invalidAddress(a.chain(), address)
		}
		return nil
	}
	// ton: raw "wc:hex" or 48 character user friendly form
	if parts := strings.SplitN(address, ":", 2); len(parts) == 2 {
		if raw, err := hex.DecodeString(parts[1]); err == nil && len(raw) == 32 {
			return nil
		}
	} else if len(address) == 48 {
		return nil
	}
	return invalidAddress(a.chain(), address)
}

func isOnCurve(p []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(p)
	return err == nil
}

// findProgramAddress derives a Solana program derived address.
func findProgramAddress(seeds [][]byte, program []byte) ([]byte, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)
		if !isOnCurve(sum) {
			return sum, uint8(bump), nil
		}
	}
	return nil, 0, fmt.Errorf("no viable bump seed")
}

// squadsCreateKey derives the multisig create key from the account id.
func squadsCreateKey(accountID string) []byte {
	seed := sha256.Sum256([]byte("msig:create-key:" + accountID))
	return ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
}

func (a *GatewayAdapter) squadsAddresses(account *types.MultisigAccount) (*MultisigAddressResult, error) {
	program, err := base58.Decode(a.cfg.SquadsProgram)
	if err != nil || len(program) != 32 {
		return nil, errors.Internal(fmt.Errorf("invalid squads program id %q", a.cfg.SquadsProgram))
	}
	createKey := squadsCreateKey(account.ID)
	if account.Salt != "" {
		if createKey, err = base58.Decode(account.Salt); err != nil || len(createKey) != 32 {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "invalid create key %q", account.Salt)
		}
	}
	multisigPDA, _, err := findProgramAddress([][]byte{[]byte("multisig"), []byte("multisig"), createKey}, program)
	if err != nil {
		return nil, errors.Internal(err)
	}
	vault, _, err := findProgramAddress([][]byte{[]byte("multisig"), multisigPDA, []byte("vault"), {0}}, program)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &MultisigAddressResult{
		Address:       base58.Encode(vault),
		Salt:          base58.Encode(createKey),
		AuthorityAddr: base58.Encode(multisigPDA),
	}, nil
}

type gatewayMember struct {
	Address string `json:"address"`
	Pubkey  string `json:"pubkey"`
}

func gatewayMembers(members []*types.MultisigMember) []gatewayMember {
	out := make([]gatewayMember, 0, len(members))
	for _, m := range members {
		out = append(out, gatewayMember{Address: m.Address, Pubkey: m.Pubkey})
	}
	return out
}

func (a *GatewayAdapter) MultisigAddress(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*MultisigAddressResult, error) {
	if a.cfg.Chain == types.ChainSolana {
		return a.squadsAddresses(account)
	}
	var res MultisigAddressResult
	err := a.call(ctx, &res, "multisigAddress", map[string]interface{}{
		"threshold": account.Threshold,
		"members":   gatewayMembers(members),
		"salt":      account.Salt,
		"id":        account.ID,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// gatewayPayload wraps the gateway's opaque transaction with its digest so
// the raw data stays self-contained.
type gatewayPayload struct {
	Payload string `json:"payload"`
	MsgHash string `json:"msg_hash"`
}

type gatewayBuilt struct {
	RawData string `json:"raw_data"`
	MsgHash string `json:"msg_hash"`
}

type gatewaySignature struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

func (a *GatewayAdapter) sign(msgHash string, key PrivateKey) (string, ed25519.PublicKey, error) {
	priv, err := ed25519Key(key)
	if err != nil {
		return "", nil, err
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(msgHash, "0x"))
	if err != nil || len(digest) == 0 {
		return "", nil, invalidPayload(a.chain(), fmt.Errorf("invalid message hash %q", msgHash))
	}
	sig := ed25519.Sign(priv, digest)
	pub := priv.Public().(ed25519.PublicKey)
	if a.cfg.Chain == types.ChainSolana {
		return base58.Encode(sig), pub, nil
	}
	return hex.EncodeToString(sig), pub, nil
}

// signAndSend signs a gateway built transaction with key and submits it.
func (a *GatewayAdapter) signAndSend(ctx context.Context, built *gatewayBuilt, key PrivateKey) (string, error) {
	sig, pub, err := a.sign(built.MsgHash, key)
	if err != nil {
		return "", err
	}
	var hash string
	err = a.rpc.CallContext(ctx, &hash, a.method("sendTransaction"), map[string]interface{}{
		"raw_data":   built.RawData,
		"signatures": []gatewaySignature{{Address: a.encodePubkey(pub), Signature: sig}},
	})
	if err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	return hash, nil
}

func (a *GatewayAdapter) Balance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	var res string
	if err := a.call(ctx, &res, "getBalance", map[string]string{"address": address, "token": asset.TokenAddr}); err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(res, 10)
	if !ok {
		return nil, classifyRPC(a.chain(), fmt.Errorf("invalid balance %q", res))
	}
	return bal, nil
}

func (a *GatewayAdapter) Decimals(ctx context.Context, tokenAddr string) (uint8, error) {
	if tokenAddr == "" {
		return a.cfg.Decimals, nil
	}
	info, err := a.TokenInfo(ctx, tokenAddr)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

func (a *GatewayAdapter) TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error) {
	if tokenAddr == "" {
		return &TokenInfo{Symbol: a.cfg.Symbol, Name: a.cfg.Symbol, Decimals: a.cfg.Decimals}, nil
	}
	var info TokenInfo
	if err := a.call(ctx, &info, "getTokenInfo", map[string]string{"token": tokenAddr}); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *GatewayAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := a.call(ctx, &height, "getBlockHeight", map[string]string{}); err != nil {
		return 0, err
	}
	return height, nil
}

func (a *GatewayAdapter) QueryTxResult(ctx context.Context, hash string) (*TxResult, error) {
	var res struct {
		Status      string `json:"status"`
		BlockHeight uint64 `json:"block_height"`
		Fee         string `json:"fee"`
		Reason      string `json:"reason"`
	}
	if err := a.call(ctx, &res, "getTransactionResult", map[string]string{"hash": hash}); err != nil {
		return nil, err
	}
	out := &TxResult{Hash: hash, BlockHeight: res.BlockHeight, Reason: res.Reason, Status: TxPending}
	if fee, ok := new(big.Int).SetString(res.Fee, 10); ok {
		out.Fee = FromBaseUnits(fee, a.cfg.Decimals)
	}
	switch res.Status {
	case "success":
		out.Status = TxSuccess
	case "failed":
		out.Status = TxFailed
	}
	return out, nil
}

func (a *GatewayAdapter) baseUnits(ctx context.Context, value string, asset Asset) (string, error) {
	decimals, err := a.Decimals(ctx, asset.TokenAddr)
	if err != nil {
		return "", err
	}
	amount, err := ToBaseUnits(value, decimals)
	if err != nil {
		return "", err
	}
	return amount.Dec(), nil
}

func (a *GatewayAdapter) buildTransfer(ctx context.Context, from, to, value string, asset Asset) (*gatewayBuilt, error) {
	if err := a.ValidateAddress(from); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(to); err != nil {
		return nil, err
	}
	amount, err := a.baseUnits(ctx, value, asset)
	if err != nil {
		return nil, err
	}
	var built gatewayBuilt
	err = a.call(ctx, &built, "buildTransfer", map[string]string{
		"from": from, "to": to, "amount": amount, "token": asset.TokenAddr,
	})
	if err != nil {
		return nil, err
	}
	return &built, nil
}

func (a *GatewayAdapter) estimate(ctx context.Context, raw string) (string, error) {
	var fee string
	if err := a.call(ctx, &fee, "estimateFee", map[string]string{"raw_data": raw}); err != nil {
		return "", err
	}
	n, ok := new(big.Int).SetString(fee, 10)
	if !ok {
		return "", classifyRPC(a.chain(), fmt.Errorf("invalid fee %q", fee))
	}
	return FromBaseUnits(n, a.cfg.Decimals), nil
}

func (a *GatewayAdapter) EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error) {
	built, err := a.buildTransfer(ctx, req.From, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	return a.estimate(ctx, built.RawData)
}

func (a *GatewayAdapter) Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error) {
	from, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	built, err := a.buildTransfer(ctx, from, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	return a.signAndSend(ctx, built, key)
}

func (a *GatewayAdapter) DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, fee string, key PrivateKey) (*DeployResult, error) {
	addr, err := a.MultisigAddress(ctx, account, members)
	if err != nil {
		return nil, err
	}
	var built gatewayBuilt
	err = a.call(ctx, &built, "buildMultisigDeploy", map[string]interface{}{
		"creator":   account.InitiatorAddr,
		"threshold": account.Threshold,
		"members":   gatewayMembers(members),
		"address":   addr.Address,
		"authority": addr.AuthorityAddr,
		"salt":      addr.Salt,
		"fee":       fee,
	})
	if err != nil {
		return nil, err
	}
	hash, err := a.signAndSend(ctx, &built, key)
	if err != nil {
		return nil, err
	}
	return &DeployResult{DeployHash: hash, Address: addr.Address, Salt: addr.Salt, AuthorityAddr: addr.AuthorityAddr}, nil
}

func (a *GatewayAdapter) BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	amount, err := a.baseUnits(ctx, req.Value, asset)
	if err != nil {
		return nil, err
	}
	var built gatewayBuilt
	err = a.call(ctx, &built, "buildMultisigTransfer", map[string]interface{}{
		"address":    account.Address,
		"authority":  account.AuthorityAddr,
		"to":         req.To,
		"amount":     amount,
		"token":      asset.TokenAddr,
		"expiration": req.Expiration,
		"memo":       req.Notes,
	})
	if err != nil {
		return nil, err
	}
	raw, err := jsonx.MarshalToString(gatewayPayload{Payload: built.RawData, MsgHash: built.MsgHash})
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &BuiltTx{RawData: raw, MsgHash: built.MsgHash}, nil
}

func (a *GatewayAdapter) BuildMultisigWithPermission(context.Context, *MultisigTxRequest, *Permission, Asset, PrivateKey) (*BuiltTx, error) {
	return nil, errors.Validation(errors.ErrCodeUnsupported, "permission based multisig is only available on tron").WithChain(a.chain())
}

func (a *GatewayAdapter) decodePayload(raw string) (*gatewayPayload, error) {
	var p gatewayPayload
	if err := jsonx.UnmarshalFromString(raw, &p); err != nil {
		return nil, invalidPayload(a.chain(), err)
	}
	if p.Payload == "" || p.MsgHash == "" {
		return nil, invalidPayload(a.chain(), fmt.Errorf("incomplete gateway payload"))
	}
	return &p, nil
}

func (a *GatewayAdapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, address string, key PrivateKey, rawData string) (string, error) {
	p, err := a.decodePayload(rawData)
	if err != nil {
		return "", err
	}
	if a.cfg.Chain == types.ChainSolana {
		signer, _, err := a.AddressFromKey(key)
		if err != nil {
			return "", err
		}
		if signer != address {
			return "", errors.Validationf(errors.ErrCodeNotMember, "key does not control %s", address)
		}
	}
	sig, _, err := a.sign(p.MsgHash, key)
	return sig, err
}

func (a *GatewayAdapter) EstimateMultisigFee(ctx context.Context, queue *types.MultisigQueueEntry, _ Asset, _ []*types.MultisigSignature) (string, error) {
	p, err := a.decodePayload(queue.RawData)
	if err != nil {
		return "", err
	}
	return a.estimate(ctx, p.Payload)
}

func (a *GatewayAdapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, _ []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, key PrivateKey, fee string) (string, error) {
	p, err := a.decodePayload(queue.RawData)
	if err != nil {
		return "", err
	}
	confirmed := make([]*types.MultisigSignature, 0, len(sigs))
	for _, s := range sigs {
		if s.Status == types.SignatureConfirmed {
			confirmed = append(confirmed, s)
		}
	}
	types.SortSignaturesByAddress(confirmed)
	if len(confirmed) < account.Threshold {
		return "", errors.Validationf(errors.ErrCodeInvalidStatus, "%d confirmed signatures, %d required", len(confirmed), account.Threshold)
	}
	signatures := make([]gatewaySignature, 0, account.Threshold)
	for _, s := range confirmed[:account.Threshold] {
		signatures = append(signatures, gatewaySignature{Address: s.Address, Signature: s.Signature})
	}

	var built gatewayBuilt
	err = a.call(ctx, &built, "buildMultisigExecute", map[string]interface{}{
		"raw_data":   p.Payload,
		"signatures": signatures,
		"fee":        fee,
	})
	if err != nil {
		return "", err
	}
	return a.signAndSend(ctx, &built, key)
}
