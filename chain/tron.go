package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"github.com/mr-tron/base58"
)

const (
	tronNativeDecimals = 6
	tronAddressPrefix  = 0x41
	tronSunPerByte     = 1000
	tronDefaultFeeSun  = 100_000_000
	// tronActivePermissionID is the active0 group written by DeployMultisigAccount
	tronActivePermissionID = 2
	tronAllOperations      = "7fff1fc0033e0300000000000000000000000000000000000000000000000000"
)

// TronAddress encodes a 20 byte account hash as a base58check T-address.
func TronAddress(addr common.Address) string {
	payload := append([]byte{tronAddressPrefix}, addr.Bytes()...)
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	return base58.Encode(append(payload, h2[:4]...))
}

// decodeTronAddress returns the 21 byte address behind a T-address.
func decodeTronAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 25 || raw[0] != tronAddressPrefix {
		return nil, fmt.Errorf("invalid tron address %q", address)
	}
	payload, sum := raw[:21], raw[21:]
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	if !bytes.Equal(h2[:4], sum) {
		return nil, fmt.Errorf("bad checksum in tron address %q", address)
	}
	return payload, nil
}

type tronTx struct {
	TxID       string           `json:"txID"`
	RawData    jsonx.RawMessage `json:"raw_data"`
	RawDataHex string           `json:"raw_data_hex"`
	Signature  []string         `json:"signature,omitempty"`
	Visible    bool             `json:"visible"`
	Error      string           `json:"Error,omitempty"`
}

type tronResult struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TxID    string `json:"txid"`
}

func (r tronResult) text() string {
	if msg, err := hex.DecodeString(r.Message); err == nil && len(msg) > 0 {
		return fmt.Sprintf("%s: %s", r.Code, msg)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

type tronKey struct {
	Address string `json:"address"`
	Weight  int    `json:"weight"`
}

type tronPermission struct {
	Type           int       `json:"type"`
	PermissionName string    `json:"permission_name"`
	Operations     string    `json:"operations,omitempty"`
	Threshold      int       `json:"threshold"`
	Keys           []tronKey `json:"keys"`
}

type TronConfig struct {
	Symbol string
	// FeeLimit caps energy spent by TRC20 calls, in sun
	FeeLimit int64
}

// TronAdapter converts an existing account into a multisig account with
// AccountPermissionUpdate and spends through its active0 permission.
type TronAdapter struct {
	cfg    TronConfig
	client *RESTClient
}

func NewTronAdapter(cfg TronConfig, client *RESTClient) *TronAdapter {
	if cfg.FeeLimit <= 0 {
		cfg.FeeLimit = tronDefaultFeeSun
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "TRX"
	}
	return &TronAdapter{cfg: cfg, client: client}
}

func (a *TronAdapter) ChainCode() types.ChainCode { return types.ChainTron }

func (a *TronAdapter) NativeAsset() Asset {
	return Asset{Symbol: a.cfg.Symbol, Decimals: tronNativeDecimals}
}

func (a *TronAdapter) chain() string { return string(types.ChainTron) }

func (a *TronAdapter) AddressFromKey(key PrivateKey) (string, string, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", "", errors.Wrap(err, errors.KindAuth, errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	return TronAddress(crypto.PubkeyToAddress(priv.PublicKey)), hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey)), nil
}

func (a *TronAdapter) ValidateAddress(address string) error {
	if _, err := decodeTronAddress(address); err != nil {
		return invalidAddress(a.chain(), address)
	}
	return nil
}

func (a *TronAdapter) post(ctx context.Context, path string, body, out interface{}) error {
	return classifyRPC(a.chain(), a.client.Post(ctx, path, body, out))
}

func (a *TronAdapter) constantCall(ctx context.Context, owner, contract, selector, parameter string) ([]byte, error) {
	var res struct {
		ConstantResult []string   `json:"constant_result"`
		Result         tronResult `json:"result"`
	}
	err := a.post(ctx, "wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"visible":           true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if len(res.ConstantResult) == 0 {
		return nil, classifyRPC(a.chain(), fmt.Errorf("%s returned nothing: %s", selector, res.Result.text()))
	}
	out, err := hex.DecodeString(res.ConstantResult[0])
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	return out, nil
}

func (a *TronAdapter) Balance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	if asset.IsNative() {
		var acc struct {
			Balance int64 `json:"balance"`
		}
		if err := a.post(ctx, "wallet/getaccount", map[string]interface{}{"address": address, "visible": true}, &acc); err != nil {
			return nil, err
		}
		return big.NewInt(acc.Balance), nil
	}
	owner, err := decodeTronAddress(address)
	if err != nil {
		return nil, invalidAddress(a.chain(), address)
	}
	param, err := erc20ABI.Methods["balanceOf"].Inputs.Pack(common.BytesToAddress(owner[1:]))
	if err != nil {
		return nil, errors.Internal(err)
	}
	out, err := a.constantCall(ctx, address, asset.TokenAddr, "balanceOf(address)", hex.EncodeToString(param))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func (a *TronAdapter) Decimals(ctx context.Context, tokenAddr string) (uint8, error) {
	if tokenAddr == "" {
		return tronNativeDecimals, nil
	}
	out, err := a.constantCall(ctx, tokenAddr, tokenAddr, "decimals()", "")
	if err != nil {
		return 0, err
	}
	return uint8(new(big.Int).SetBytes(out).Uint64()), nil
}

func (a *TronAdapter) TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error) {
	if tokenAddr == "" {
		return &TokenInfo{Symbol: a.cfg.Symbol, Name: "Tronix", Decimals: tronNativeDecimals}, nil
	}
	decimals, err := a.Decimals(ctx, tokenAddr)
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{Decimals: decimals}
	for _, method := range []string{"symbol", "name"} {
		out, err := a.constantCall(ctx, tokenAddr, tokenAddr, method+"()", "")
		if err != nil {
			return nil, err
		}
		values, err := erc20ABI.Unpack(method, out)
		if err != nil || len(values) == 0 {
			return nil, classifyRPC(a.chain(), fmt.Errorf("unexpected %s result: %v", method, err))
		}
		if method == "symbol" {
			info.Symbol = values[0].(string)
		} else {
			info.Name = values[0].(string)
		}
	}
	return info, nil
}

func (a *TronAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	var block struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := a.post(ctx, "wallet/getnowblock", map[string]interface{}{}, &block); err != nil {
		return 0, err
	}
	return block.BlockHeader.RawData.Number, nil
}

func (a *TronAdapter) QueryTxResult(ctx context.Context, hash string) (*TxResult, error) {
	var info struct {
		ID          string `json:"id"`
		BlockNumber uint64 `json:"blockNumber"`
		Fee         int64  `json:"fee"`
		Result      string `json:"result"`
		ResMessage  string `json:"resMessage"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := a.post(ctx, "walletsolidity/gettransactioninfobyid", map[string]interface{}{"value": hash}, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return &TxResult{Hash: hash, Status: TxPending}, nil
	}
	res := &TxResult{
		Hash:        hash,
		Status:      TxSuccess,
		BlockHeight: info.BlockNumber,
		Fee:         FromBaseUnits(big.NewInt(info.Fee), tronNativeDecimals),
	}
	if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
		res.Status = TxFailed
		res.Reason = info.Receipt.Result
		if msg, err := hex.DecodeString(info.ResMessage); err == nil && len(msg) > 0 {
			res.Reason = string(msg)
		}
	}
	return res, nil
}

// buildTransfer asks the node for an unsigned transfer of asset from owner.
// permissionID 0 means the owner permission.
func (a *TronAdapter) buildTransfer(ctx context.Context, owner, to, value string, asset Asset, permissionID int) (*tronTx, error) {
	if err := a.ValidateAddress(owner); err != nil {
		return nil, err
	}
	recipient, err := decodeTronAddress(to)
	if err != nil {
		return nil, invalidAddress(a.chain(), to)
	}
	decimals, err := a.Decimals(ctx, asset.TokenAddr)
	if err != nil {
		return nil, err
	}
	amount, err := ToBaseUnits(value, decimals)
	if err != nil {
		return nil, err
	}

	var tx tronTx
	if asset.IsNative() {
		body := map[string]interface{}{
			"owner_address": owner,
			"to_address":    to,
			"amount":        amount.Uint64(),
			"visible":       true,
		}
		if permissionID > 0 {
			body["Permission_id"] = permissionID
		}
		if err := a.post(ctx, "wallet/createtransaction", body, &tx); err != nil {
			return nil, err
		}
	} else {
		param, err := erc20ABI.Methods["transfer"].Inputs.Pack(common.BytesToAddress(recipient[1:]), amount.ToBig())
		if err != nil {
			return nil, errors.Internal(err)
		}
		body := map[string]interface{}{
			"owner_address":     owner,
			"contract_address":  asset.TokenAddr,
			"function_selector": "transfer(address,uint256)",
			"parameter":         hex.EncodeToString(param),
			"fee_limit":         a.cfg.FeeLimit,
			"call_value":        0,
			"visible":           true,
		}
		if permissionID > 0 {
			body["Permission_id"] = permissionID
		}
		var res struct {
			Result      tronResult `json:"result"`
			Transaction tronTx     `json:"transaction"`
		}
		if err := a.post(ctx, "wallet/triggersmartcontract", body, &res); err != nil {
			return nil, err
		}
		if !res.Result.Result {
			return nil, rejected(a.chain(), rejectionCode(res.Result.text()), res.Result.text())
		}
		tx = res.Transaction
	}
	if tx.Error != "" {
		return nil, rejected(a.chain(), rejectionCode(tx.Error), tx.Error)
	}
	if tx.TxID == "" {
		return nil, classifyRPC(a.chain(), fmt.Errorf("node returned no transaction"))
	}
	return &tx, nil
}

func (a *TronAdapter) sign(txID string, key PrivateKey) (string, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", errors.Wrap(err, errors.KindAuth, errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	digest, err := hex.DecodeString(txID)
	if err != nil || len(digest) != 32 {
		return "", invalidPayload(a.chain(), fmt.Errorf("invalid txID %q", txID))
	}
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return "", errors.Internal(err)
	}
	return hex.EncodeToString(sig), nil
}

func (a *TronAdapter) broadcast(ctx context.Context, tx *tronTx) (string, error) {
	var res tronResult
	if err := a.client.Post(ctx, "wallet/broadcasttransaction", tx, &res); err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	if !res.Result {
		return "", rejected(a.chain(), rejectionCode(res.text()), res.text())
	}
	return tx.TxID, nil
}

func (a *TronAdapter) EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error) {
	tx, err := a.buildTransfer(ctx, req.From, req.To, req.Value, req.Asset, 0)
	if err != nil {
		return "", err
	}
	return FromBaseUnits(big.NewInt(bandwidthSun(tx, 1)), tronNativeDecimals), nil
}

// bandwidthSun prices the serialized size of tx with n signatures.
func bandwidthSun(tx *tronTx, n int) int64 {
	size := len(tx.RawDataHex)/2 + 65*n + 64
	return int64(size) * tronSunPerByte
}

func (a *TronAdapter) Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error) {
	tx, err := a.buildTransfer(ctx, req.From, req.To, req.Value, req.Asset, 0)
	if err != nil {
		return "", err
	}
	sig, err := a.sign(tx.TxID, key)
	if err != nil {
		return "", err
	}
	tx.Signature = []string{sig}
	return a.broadcast(ctx, tx)
}

func (a *TronAdapter) MultisigAddress(_ context.Context, account *types.MultisigAccount, _ []*types.MultisigMember) (*MultisigAddressResult, error) {
	address := account.Address
	if address == "" {
		address = account.InitiatorAddr
	}
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	return &MultisigAddressResult{Address: address}, nil
}

func (a *TronAdapter) DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, _ string, key PrivateKey) (*DeployResult, error) {
	addr, err := a.MultisigAddress(ctx, account, members)
	if err != nil {
		return nil, err
	}
	keys := make([]tronKey, 0, len(members))
	for _, m := range members {
		if err := a.ValidateAddress(m.Address); err != nil {
			return nil, err
		}
		keys = append(keys, tronKey{Address: m.Address, Weight: 1})
	}

	owner := tronPermission{Type: 0, PermissionName: "owner", Threshold: account.Threshold, Keys: keys}
	active := tronPermission{Type: 2, PermissionName: "active0", Operations: tronAllOperations, Threshold: account.Threshold, Keys: keys}
	var tx tronTx
	err = a.post(ctx, "wallet/accountpermissionupdate", map[string]interface{}{
		"owner_address": addr.Address,
		"owner":         owner,
		"actives":       []tronPermission{active},
		"visible":       true,
	}, &tx)
	if err != nil {
		return nil, err
	}
	if tx.Error != "" {
		return nil, rejected(a.chain(), rejectionCode(tx.Error), tx.Error)
	}
	sig, err := a.sign(tx.TxID, key)
	if err != nil {
		return nil, err
	}
	tx.Signature = []string{sig}
	hash, err := a.broadcast(ctx, &tx)
	if err != nil {
		return nil, err
	}
	return &DeployResult{DeployHash: hash, Address: addr.Address}, nil
}

func (a *TronAdapter) encodeBuilt(tx *tronTx) (*BuiltTx, error) {
	raw, err := jsonx.MarshalToString(tx)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &BuiltTx{RawData: raw, MsgHash: tx.TxID}, nil
}

func (a *TronAdapter) BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	tx, err := a.buildTransfer(ctx, account.Address, req.To, req.Value, asset, tronActivePermissionID)
	if err != nil {
		return nil, err
	}
	return a.encodeBuilt(tx)
}

func (a *TronAdapter) BuildMultisigWithPermission(ctx context.Context, req *MultisigTxRequest, perm *Permission, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	if perm == nil {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "permission is required").WithChain(a.chain())
	}
	tx, err := a.buildTransfer(ctx, perm.Address, req.To, req.Value, asset, perm.PermissionID)
	if err != nil {
		return nil, err
	}
	return a.encodeBuilt(tx)
}

func decodeTronTx(chain, raw string) (*tronTx, error) {
	var tx tronTx
	if err := jsonx.UnmarshalFromString(raw, &tx); err != nil {
		return nil, invalidPayload(chain, err)
	}
	if tx.TxID == "" {
		return nil, invalidPayload(chain, fmt.Errorf("missing txID"))
	}
	return &tx, nil
}

func (a *TronAdapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, address string, key PrivateKey, rawData string) (string, error) {
	tx, err := decodeTronTx(a.chain(), rawData)
	if err != nil {
		return "", err
	}
	signer, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	if signer != address {
		return "", errors.Validationf(errors.ErrCodeNotMember, "key does not control %s", address)
	}
	return a.sign(tx.TxID, key)
}

func (a *TronAdapter) EstimateMultisigFee(_ context.Context, queue *types.MultisigQueueEntry, _ Asset, sigs []*types.MultisigSignature) (string, error) {
	tx, err := decodeTronTx(a.chain(), queue.RawData)
	if err != nil {
		return "", err
	}
	n := types.CountConfirmed(sigs)
	if n == 0 {
		n = 1
	}
	return FromBaseUnits(big.NewInt(bandwidthSun(tx, n)), tronNativeDecimals), nil
}

func (a *TronAdapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, _ []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, _ PrivateKey, _ string) (string, error) {
	tx, err := decodeTronTx(a.chain(), queue.RawData)
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
	tx.Signature = tx.Signature[:0]
	for _, s := range confirmed[:account.Threshold] {
		tx.Signature = append(tx.Signature, s.Signature)
	}
	return a.broadcast(ctx, tx)
}
