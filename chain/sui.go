package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	"golang.org/x/crypto/blake2b"
)

const (
	suiNativeDecimals = 9
	suiNativeCoin     = "0x2::sui::SUI"
	suiDefaultBudget  = "10000000"

	suiFlagEd25519  = 0x00
	suiFlagMultiSig = 0x03
)

type SuiConfig struct {
	Symbol    string
	GasBudget string
}

// SuiAdapter uses Sui native multisig: the address is derived from the
// weighted public keys and no on-chain deployment is needed.
type SuiAdapter struct {
	cfg SuiConfig
	rpc RPCCaller
}

func NewSuiAdapter(cfg SuiConfig, rpc RPCCaller) *SuiAdapter {
	if cfg.Symbol == "" {
		cfg.Symbol = "SUI"
	}
	if cfg.GasBudget == "" {
		cfg.GasBudget = suiDefaultBudget
	}
	return &SuiAdapter{cfg: cfg, rpc: rpc}
}

func (a *SuiAdapter) ChainCode() types.ChainCode { return types.ChainSui }

func (a *SuiAdapter) NativeAsset() Asset {
	return Asset{Symbol: a.cfg.Symbol, Decimals: suiNativeDecimals}
}

func (a *SuiAdapter) chain() string { return string(types.ChainSui) }

func suiAddressFromPubkey(pub []byte) string {
	h := blake2b.Sum256(append([]byte{suiFlagEd25519}, pub...))
	return "0x" + hex.EncodeToString(h[:])
}

func (a *SuiAdapter) AddressFromKey(key PrivateKey) (string, string, error) {
	priv, err := ed25519Key(key)
	if err != nil {
		return "", "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return suiAddressFromPubkey(pub), hex.EncodeToString(pub), nil
}

func (a *SuiAdapter) ValidateAddress(address string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(address), "0x"))
	if err != nil || len(raw) != 32 || !strings.HasPrefix(strings.ToLower(address), "0x") {
		return invalidAddress(a.chain(), address)
	}
	return nil
}

type suiMultisigKey struct {
	address string
	pubkey  []byte
}

// multisigKeys orders members by address; the order fixes the bitmap positions.
func (a *SuiAdapter) multisigKeys(members []*types.MultisigMember) ([]suiMultisigKey, error) {
	keys := make([]suiMultisigKey, 0, len(members))
	for _, m := range members {
		pk, err := hex.DecodeString(strings.TrimPrefix(m.Pubkey, "0x"))
		if err != nil || len(pk) != ed25519.PublicKeySize {
			return nil, errors.Validationf(errors.ErrCodeInvalidMembers, "member %s has no ed25519 pubkey", m.Address)
		}
		keys = append(keys, suiMultisigKey{address: types.AddressKey(m.Address), pubkey: pk})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].address < keys[j].address })
	return keys, nil
}

func (a *SuiAdapter) MultisigAddress(_ context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*MultisigAddressResult, error) {
	keys, err := a.multisigKeys(members)
	if err != nil {
		return nil, err
	}
	if account.Threshold < 1 || account.Threshold > len(keys) {
		return nil, errors.Validationf(errors.ErrCodeInvalidThreshold, "threshold %d out of range", account.Threshold)
	}
	var buf bytes.Buffer
	buf.WriteByte(suiFlagMultiSig)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(account.Threshold))
	for _, k := range keys {
		buf.WriteByte(suiFlagEd25519)
		buf.Write(k.pubkey)
		buf.WriteByte(1)
	}
	h := blake2b.Sum256(buf.Bytes())
	return &MultisigAddressResult{Address: "0x" + hex.EncodeToString(h[:])}, nil
}

func (a *SuiAdapter) DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, _ string, _ PrivateKey) (*DeployResult, error) {
	addr, err := a.MultisigAddress(ctx, account, members)
	if err != nil {
		return nil, err
	}
	return &DeployResult{Address: addr.Address}, nil
}

func coinType(asset Asset) string {
	if asset.IsNative() {
		return suiNativeCoin
	}
	return asset.TokenAddr
}

func (a *SuiAdapter) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return classifyRPC(a.chain(), a.rpc.CallContext(ctx, result, method, args...))
}

func (a *SuiAdapter) Balance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	var res struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := a.call(ctx, &res, "suix_getBalance", address, coinType(asset)); err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(res.TotalBalance, 10)
	if !ok {
		return nil, classifyRPC(a.chain(), fmt.Errorf("invalid balance %q", res.TotalBalance))
	}
	return bal, nil
}

func (a *SuiAdapter) Decimals(ctx context.Context, tokenAddr string) (uint8, error) {
	if tokenAddr == "" {
		return suiNativeDecimals, nil
	}
	info, err := a.TokenInfo(ctx, tokenAddr)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

func (a *SuiAdapter) TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error) {
	if tokenAddr == "" {
		return &TokenInfo{Symbol: a.cfg.Symbol, Name: "Sui", Decimals: suiNativeDecimals}, nil
	}
	var meta struct {
		Decimals uint8  `json:"decimals"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
	}
	if err := a.call(ctx, &meta, "suix_getCoinMetadata", tokenAddr); err != nil {
		return nil, err
	}
	return &TokenInfo{Symbol: meta.Symbol, Name: meta.Name, Decimals: meta.Decimals}, nil
}

func (a *SuiAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	var seq string
	if err := a.call(ctx, &seq, "sui_getLatestCheckpointSequenceNumber"); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return 0, classifyRPC(a.chain(), err)
	}
	return n, nil
}

type suiEffects struct {
	Status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"status"`
	GasUsed struct {
		ComputationCost string `json:"computationCost"`
		StorageCost     string `json:"storageCost"`
		StorageRebate   string `json:"storageRebate"`
	} `json:"gasUsed"`
}

func (e *suiEffects) fee() *big.Int {
	parse := func(s string) *big.Int {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return new(big.Int)
		}
		return n
	}
	fee := new(big.Int).Add(parse(e.GasUsed.ComputationCost), parse(e.GasUsed.StorageCost))
	fee.Sub(fee, parse(e.GasUsed.StorageRebate))
	if fee.Sign() < 0 {
		fee.SetInt64(0)
	}
	return fee
}

func (a *SuiAdapter) QueryTxResult(ctx context.Context, hash string) (*TxResult, error) {
	var res struct {
		Digest     string     `json:"digest"`
		Checkpoint string     `json:"checkpoint"`
		Effects    suiEffects `json:"effects"`
	}
	err := a.rpc.CallContext(ctx, &res, "sui_getTransactionBlock", hash, map[string]bool{"showEffects": true})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "could not find") {
			return &TxResult{Hash: hash, Status: TxPending}, nil
		}
		return nil, classifyRPC(a.chain(), err)
	}
	out := &TxResult{Hash: hash, Status: TxPending, Fee: FromBaseUnits(res.Effects.fee(), suiNativeDecimals)}
	out.BlockHeight, _ = strconv.ParseUint(res.Checkpoint, 10, 64)
	switch res.Effects.Status.Status {
	case "success":
		out.Status = TxSuccess
	case "failure":
		out.Status = TxFailed
		out.Reason = res.Effects.Status.Error
	}
	return out, nil
}

// coins lists coin object ids of owner, largest page first.
func (a *SuiAdapter) coins(ctx context.Context, owner, coin string) ([]string, error) {
	var page struct {
		Data []struct {
			CoinObjectID string `json:"coinObjectId"`
			Balance      string `json:"balance"`
		} `json:"data"`
	}
	if err := a.call(ctx, &page, "suix_getCoins", owner, coin, nil, 50); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, c := range page.Data {
		ids = append(ids, c.CoinObjectID)
	}
	if len(ids) == 0 {
		return nil, rejected(a.chain(), errors.ErrCodeInsufficientBalance, fmt.Sprintf("%s holds no %s coins", owner, coin))
	}
	return ids, nil
}

// buildPay returns the BCS transaction bytes paying value of asset from owner to to.
func (a *SuiAdapter) buildPay(ctx context.Context, owner, to, value string, asset Asset) ([]byte, error) {
	if err := a.ValidateAddress(owner); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(to); err != nil {
		return nil, err
	}
	decimals, err := a.Decimals(ctx, asset.TokenAddr)
	if err != nil {
		return nil, err
	}
	amount, err := ToBaseUnits(value, decimals)
	if err != nil {
		return nil, err
	}

	gasCoins, err := a.coins(ctx, owner, suiNativeCoin)
	if err != nil {
		return nil, err
	}
	var res struct {
		TxBytes string `json:"txBytes"`
	}
	if asset.IsNative() {
		err = a.call(ctx, &res, "unsafe_paySui", owner, gasCoins, []string{to}, []string{amount.Dec()}, a.cfg.GasBudget)
	} else {
		var tokenCoins []string
		tokenCoins, err = a.coins(ctx, owner, asset.TokenAddr)
		if err != nil {
			return nil, err
		}
		err = a.call(ctx, &res, "unsafe_pay", owner, tokenCoins, []string{to}, []string{amount.Dec()}, gasCoins[0], a.cfg.GasBudget)
	}
	if err != nil {
		return nil, err
	}
	txBytes, err := base64.StdEncoding.DecodeString(res.TxBytes)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	return txBytes, nil
}

// suiDigest is the intent message digest signed by every signer.
func suiDigest(txBytes []byte) []byte {
	msg := append([]byte{0, 0, 0}, txBytes...)
	h := blake2b.Sum256(msg)
	return h[:]
}

func suiSign(txBytes []byte, key PrivateKey) (string, error) {
	priv, err := ed25519Key(key)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, suiDigest(txBytes))
	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, suiFlagEd25519)
	out = append(out, sig...)
	out = append(out, priv.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (a *SuiAdapter) dryRun(ctx context.Context, txBytes []byte) (*big.Int, error) {
	var res struct {
		Effects suiEffects `json:"effects"`
	}
	if err := a.call(ctx, &res, "sui_dryRunTransactionBlock", base64.StdEncoding.EncodeToString(txBytes)); err != nil {
		return nil, err
	}
	if res.Effects.Status.Status == "failure" {
		return nil, rejected(a.chain(), rejectionCode(res.Effects.Status.Error), res.Effects.Status.Error)
	}
	return res.Effects.fee(), nil
}

func (a *SuiAdapter) execute(ctx context.Context, txBytes []byte, signature string) (string, error) {
	var res struct {
		Digest  string     `json:"digest"`
		Effects suiEffects `json:"effects"`
	}
	err := a.rpc.CallContext(ctx, &res, "sui_executeTransactionBlock",
		base64.StdEncoding.EncodeToString(txBytes), []string{signature},
		map[string]bool{"showEffects": true}, "WaitForLocalExecution")
	if err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	if res.Effects.Status.Status == "failure" {
		return "", rejected(a.chain(), rejectionCode(res.Effects.Status.Error), res.Effects.Status.Error)
	}
	return res.Digest, nil
}

func (a *SuiAdapter) EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error) {
	txBytes, err := a.buildPay(ctx, req.From, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	fee, err := a.dryRun(ctx, txBytes)
	if err != nil {
		return "", err
	}
	return FromBaseUnits(fee, suiNativeDecimals), nil
}

func (a *SuiAdapter) Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error) {
	from, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	txBytes, err := a.buildPay(ctx, from, req.To, req.Value, req.Asset)
	if err != nil {
		return "", err
	}
	sig, err := suiSign(txBytes, key)
	if err != nil {
		return "", err
	}
	return a.execute(ctx, txBytes, sig)
}

func (a *SuiAdapter) BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	txBytes, err := a.buildPay(ctx, account.Address, req.To, req.Value, asset)
	if err != nil {
		return nil, err
	}
	return &BuiltTx{
		RawData: base64.StdEncoding.EncodeToString(txBytes),
		MsgHash: hex.EncodeToString(suiDigest(txBytes)),
	}, nil
}

func (a *SuiAdapter) BuildMultisigWithPermission(context.Context, *MultisigTxRequest, *Permission, Asset, PrivateKey) (*BuiltTx, error) {
	return nil, errors.Validation(errors.ErrCodeUnsupported, "permission based multisig is only available on tron").WithChain(a.chain())
}

func (a *SuiAdapter) decodeRaw(raw string) ([]byte, error) {
	txBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(txBytes) == 0 {
		return nil, invalidPayload(a.chain(), fmt.Errorf("invalid transaction bytes: %v", err))
	}
	return txBytes, nil
}

func (a *SuiAdapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, address string, key PrivateKey, rawData string) (string, error) {
	txBytes, err := a.decodeRaw(rawData)
	if err != nil {
		return "", err
	}
	signer, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	if !types.SameAddress(signer, address) {
		return "", errors.Validationf(errors.ErrCodeNotMember, "key does not control %s", address)
	}
	return suiSign(txBytes, key)
}

func (a *SuiAdapter) EstimateMultisigFee(ctx context.Context, queue *types.MultisigQueueEntry, _ Asset, _ []*types.MultisigSignature) (string, error) {
	txBytes, err := a.decodeRaw(queue.RawData)
	if err != nil {
		return "", err
	}
	fee, err := a.dryRun(ctx, txBytes)
	if err != nil {
		return "", err
	}
	return FromBaseUnits(fee, suiNativeDecimals), nil
}

func appendULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

// encodeMultiSig serializes the BCS MultiSig structure with its flag byte.
func encodeMultiSig(keys []suiMultisigKey, threshold int, signed map[int][]byte) []byte {
	indexes := make([]int, 0, len(signed))
	for i := range signed {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := []byte{suiFlagMultiSig}
	out = appendULEB128(out, uint64(len(indexes)))
	var bitmap uint16
	for _, i := range indexes {
		out = appendULEB128(out, 0)
		out = append(out, signed[i]...)
		bitmap |= 1 << uint(i)
	}
	out = binary.LittleEndian.AppendUint16(out, bitmap)
	out = appendULEB128(out, uint64(len(keys)))
	for _, k := range keys {
		out = appendULEB128(out, 0)
		out = append(out, k.pubkey...)
		out = append(out, 1)
	}
	return binary.LittleEndian.AppendUint16(out, uint16(threshold))
}

func (a *SuiAdapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, _ PrivateKey, _ string) (string, error) {
	txBytes, err := a.decodeRaw(queue.RawData)
	if err != nil {
		return "", err
	}
	keys, err := a.multisigKeys(members)
	if err != nil {
		return "", err
	}
	digest := suiDigest(txBytes)

	signed := make(map[int][]byte)
	for i, k := range keys {
		if len(signed) == account.Threshold {
			break
		}
		for _, s := range sigs {
			if s.Status != types.SignatureConfirmed || types.AddressKey(s.Address) != k.address {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(s.Signature)
			if err != nil || len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || raw[0] != suiFlagEd25519 {
				return "", errors.Validationf(errors.ErrCodeInvalidPayload, "malformed signature of %s", s.Address)
			}
			sig := raw[1 : 1+ed25519.SignatureSize]
			if !bytes.Equal(raw[1+ed25519.SignatureSize:], k.pubkey) || !ed25519.Verify(k.pubkey, digest, sig) {
				return "", errors.Validationf(errors.ErrCodeInvalidPayload, "signature of %s does not match the transaction", s.Address)
			}
			signed[i] = sig
		}
	}
	if len(signed) < account.Threshold {
		return "", errors.Validationf(errors.ErrCodeInvalidStatus, "%d confirmed signatures, %d required", len(signed), account.Threshold)
	}
	multisig := base64.StdEncoding.EncodeToString(encodeMultiSig(keys, account.Threshold, signed))
	return a.execute(ctx, txBytes, multisig)
}
