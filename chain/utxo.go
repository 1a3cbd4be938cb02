package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
)

const (
	utxoDecimals  = 8
	dustThreshold = 546
)

type UTXOConfig struct {
	Chain  types.ChainCode
	Symbol string
	Params *chaincfg.Params
}

// UTXOAdapter implements bare M-of-N script multisig on bitcoin-like chains.
// There is nothing to deploy, the address is a hash of the sorted script.
type UTXOAdapter struct {
	cfg    UTXOConfig
	client UTXOClient
}

func NewUTXOAdapter(cfg UTXOConfig, client UTXOClient) *UTXOAdapter {
	if cfg.Params == nil {
		cfg.Params = UTXONetParams(cfg.Chain, "")
	}
	return &UTXOAdapter{cfg: cfg, client: client}
}

func (a *UTXOAdapter) ChainCode() types.ChainCode { return a.cfg.Chain }

func (a *UTXOAdapter) NativeAsset() Asset {
	return Asset{Symbol: a.cfg.Symbol, Decimals: utxoDecimals}
}

func (a *UTXOAdapter) chain() string { return string(a.cfg.Chain) }

func (a *UTXOAdapter) segwit() bool { return a.cfg.Chain != types.ChainDogecoin }

func (a *UTXOAdapter) AddressFromKey(key PrivateKey) (string, string, error) {
	if len(key) != 32 {
		return "", "", errors.Auth(errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	_, pub := btcec.PrivKeyFromBytes(key)
	pk := pub.SerializeCompressed()
	addr, err := a.singleSigAddress(pk)
	if err != nil {
		return "", "", errors.Internal(err)
	}
	return addr.EncodeAddress(), hex.EncodeToString(pk), nil
}

func (a *UTXOAdapter) singleSigAddress(pubkey []byte) (btcutil.Address, error) {
	if a.segwit() {
		return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubkey), a.cfg.Params)
	}
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubkey), a.cfg.Params)
}

func (a *UTXOAdapter) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, a.cfg.Params)
	if err != nil || !addr.IsForNet(a.cfg.Params) {
		return nil, invalidAddress(a.chain(), address)
	}
	return addr, nil
}

func (a *UTXOAdapter) ValidateAddress(address string) error {
	_, err := a.decodeAddress(address)
	return err
}

func (a *UTXOAdapter) addressType(account *types.MultisigAccount) string {
	if !a.segwit() || account.AddressType == types.AddressTypeP2SH {
		return types.AddressTypeP2SH
	}
	return types.AddressTypeP2WSH
}

// redeemScript builds the M-of-N script over the members' pubkeys in
// lexicographic order.
func (a *UTXOAdapter) redeemScript(threshold int, members []*types.MultisigMember) ([]byte, [][]byte, error) {
	pubkeys := make([][]byte, 0, len(members))
	for _, m := range members {
		pk, err := hex.DecodeString(strings.TrimPrefix(m.Pubkey, "0x"))
		if err != nil || len(pk) == 0 {
			return nil, nil, errors.Validationf(errors.ErrCodeInvalidMembers, "member %s has no valid pubkey", m.Address)
		}
		pubkeys = append(pubkeys, pk)
	}
	sort.Slice(pubkeys, func(i, j int) bool { return bytes.Compare(pubkeys[i], pubkeys[j]) < 0 })

	keys := make([]*btcutil.AddressPubKey, 0, len(pubkeys))
	for _, pk := range pubkeys {
		k, err := btcutil.NewAddressPubKey(pk, a.cfg.Params)
		if err != nil {
			return nil, nil, errors.Validationf(errors.ErrCodeInvalidMembers, "invalid pubkey %x", pk)
		}
		keys = append(keys, k)
	}
	script, err := txscript.MultiSigScript(keys, threshold)
	if err != nil {
		return nil, nil, errors.Validationf(errors.ErrCodeInvalidThreshold, "cannot build %d-of-%d script: %v", threshold, len(keys), err)
	}
	return script, pubkeys, nil
}

func (a *UTXOAdapter) scriptAddress(script []byte, addressType string) (btcutil.Address, error) {
	if addressType == types.AddressTypeP2WSH {
		prog := sha256.Sum256(script)
		return btcutil.NewAddressWitnessScriptHash(prog[:], a.cfg.Params)
	}
	return btcutil.NewAddressScriptHash(script, a.cfg.Params)
}

func (a *UTXOAdapter) MultisigAddress(_ context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*MultisigAddressResult, error) {
	script, _, err := a.redeemScript(account.Threshold, members)
	if err != nil {
		return nil, err
	}
	addr, err := a.scriptAddress(script, a.addressType(account))
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &MultisigAddressResult{Address: addr.EncodeAddress(), Salt: hex.EncodeToString(script)}, nil
}

func (a *UTXOAdapter) DeployMultisigAccount(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, _ string, _ PrivateKey) (*DeployResult, error) {
	addr, err := a.MultisigAddress(ctx, account, members)
	if err != nil {
		return nil, err
	}
	return &DeployResult{Address: addr.Address, Salt: addr.Salt}, nil
}

func (a *UTXOAdapter) Balance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	if !asset.IsNative() {
		return nil, errors.Validation(errors.ErrCodeUnsupported, "tokens are not supported").WithChain(a.chain())
	}
	addr, err := a.decodeAddress(address)
	if err != nil {
		return nil, err
	}
	utxos, err := a.client.ListUnspent(ctx, addr)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	total := int64(0)
	for _, u := range utxos {
		total += u.Amount
	}
	return big.NewInt(total), nil
}

func (a *UTXOAdapter) Decimals(_ context.Context, tokenAddr string) (uint8, error) {
	if tokenAddr != "" {
		return 0, errors.Validation(errors.ErrCodeUnsupported, "tokens are not supported").WithChain(a.chain())
	}
	return utxoDecimals, nil
}

func (a *UTXOAdapter) TokenInfo(ctx context.Context, tokenAddr string) (*TokenInfo, error) {
	if _, err := a.Decimals(ctx, tokenAddr); err != nil {
		return nil, err
	}
	return &TokenInfo{Symbol: a.cfg.Symbol, Name: a.cfg.Symbol, Decimals: utxoDecimals}, nil
}

func (a *UTXOAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	n, err := a.client.BlockCount(ctx)
	if err != nil {
		return 0, classifyRPC(a.chain(), err)
	}
	return uint64(n), nil
}

func (a *UTXOAdapter) QueryTxResult(ctx context.Context, hash string) (*TxResult, error) {
	confs, found, err := a.client.TxConfirmations(ctx, hash)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	if !found || confs == 0 {
		return &TxResult{Hash: hash, Status: TxPending}, nil
	}
	return &TxResult{Hash: hash, Status: TxSuccess}, nil
}

func (a *UTXOAdapter) feeRate(ctx context.Context, fee string) (int64, error) {
	if fee != "" {
		var rate int64
		if _, err := fmt.Sscan(fee, &rate); err != nil || rate <= 0 {
			return 0, errors.Validationf(errors.ErrCodeInvalidAmount, "invalid fee rate %q", fee)
		}
		return rate, nil
	}
	rate, err := a.client.FeeRate(ctx)
	if err != nil {
		return 0, classifyRPC(a.chain(), err)
	}
	return rate, nil
}

// inputVSize approximates the virtual size of one input spending the given
// kind of output.
func inputVSize(addressType string, threshold, scriptLen int) int64 {
	switch addressType {
	case types.AddressTypeP2WSH:
		witness := 1 + 1 + threshold*74 + 3 + scriptLen
		return int64(41 + (witness+3)/4)
	case types.AddressTypeP2SH:
		return int64(41 + 1 + threshold*74 + 3 + scriptLen)
	case "p2wpkh":
		return 68
	default:
		return 148
	}
}

func estimateVSize(inputs int, perInput int64, outputs int) int64 {
	return 11 + int64(inputs)*perInput + int64(outputs)*43
}

type selection struct {
	utxos  []UTXO
	fee    int64
	change int64
}

// selectCoins spends the largest outputs first until amount plus fee is covered.
func (a *UTXOAdapter) selectCoins(utxos []UTXO, amount, rate, perInput int64) (*selection, error) {
	sorted := append([]UTXO(nil), utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var total int64
	for i, u := range sorted {
		total += u.Amount
		fee := estimateVSize(i+1, perInput, 2) * rate
		if total < amount+fee {
			continue
		}
		change := total - amount - fee
		if change < dustThreshold {
			fee += change
			change = 0
		}
		return &selection{utxos: sorted[:i+1], fee: fee, change: change}, nil
	}
	return nil, rejected(a.chain(), errors.ErrCodeInsufficientBalance, fmt.Sprintf("balance %d sat cannot cover %d sat plus fees", total, amount))
}

func (a *UTXOAdapter) buildTx(sel *selection, to btcutil.Address, amount int64, change btcutil.Address) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	for _, u := range sel.utxos {
		h, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, errors.Internal(err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, u.Vout), nil, nil))
	}
	toScript, err := txscript.PayToAddrScript(to)
	if err != nil {
		return nil, invalidAddress(a.chain(), to.String())
	}
	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if sel.change > 0 {
		changeScript, err := txscript.PayToAddrScript(change)
		if err != nil {
			return nil, errors.Internal(err)
		}
		tx.AddTxOut(wire.NewTxOut(sel.change, changeScript))
	}
	return tx, nil
}

func satoshis(value string) (int64, error) {
	amount, err := ToBaseUnits(value, utxoDecimals)
	if err != nil {
		return 0, err
	}
	if !amount.IsUint64() || amount.Uint64() > uint64(btcutil.MaxSatoshi) {
		return 0, errors.Validationf(errors.ErrCodeInvalidAmount, "amount %s out of range", value)
	}
	return int64(amount.Uint64()), nil
}

func (a *UTXOAdapter) EstimateTransferFee(ctx context.Context, req *TransferRequest) (string, error) {
	from, err := a.decodeAddress(req.From)
	if err != nil {
		return "", err
	}
	amount, err := satoshis(req.Value)
	if err != nil {
		return "", err
	}
	rate, err := a.feeRate(ctx, req.Fee)
	if err != nil {
		return "", err
	}
	utxos, err := a.client.ListUnspent(ctx, from)
	if err != nil {
		return "", classifyRPC(a.chain(), err)
	}
	sel, err := a.selectCoins(utxos, amount, rate, inputVSize(a.singleSigType(), 1, 0))
	if err != nil {
		return "", err
	}
	return FromBaseUnits(big.NewInt(sel.fee), utxoDecimals), nil
}

func (a *UTXOAdapter) singleSigType() string {
	if a.segwit() {
		return "p2wpkh"
	}
	return "p2pkh"
}

func (a *UTXOAdapter) Transfer(ctx context.Context, req *TransferRequest, key PrivateKey) (string, error) {
	if !req.Asset.IsNative() {
		return "", errors.Validation(errors.ErrCodeUnsupported, "tokens are not supported").WithChain(a.chain())
	}
	if len(key) != 32 {
		return "", errors.Auth(errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	priv, pub := btcec.PrivKeyFromBytes(key)
	from, err := a.singleSigAddress(pub.SerializeCompressed())
	if err != nil {
		return "", errors.Internal(err)
	}
	to, err := a.decodeAddress(req.To)
	if err != nil {
		return "", err
	}
	amount, err := satoshis(req.Value)
	if err != nil {
		return "", err
	}
	if amount < dustThreshold {
		return "", rejected(a.chain(), errors.ErrCodeDustAmount, fmt.Sprintf("%d sat is below the dust threshold", amount))
	}
	rate, err := a.feeRate(ctx, req.Fee)
	if err != nil {
		return "", err
	}
	utxos, err := a.client.ListUnspent(ctx, from)
	if err != nil {
		return "", classifyRPC(a.chain(), err)
	}
	sel, err := a.selectCoins(utxos, amount, rate, inputVSize(a.singleSigType(), 1, 0))
	if err != nil {
		return "", err
	}
	tx, err := a.buildTx(sel, to, amount, from)
	if err != nil {
		return "", err
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, u := range sel.utxos {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(u.Amount, u.PkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, u := range sel.utxos {
		if a.segwit() {
			witness, err := txscript.WitnessSignature(tx, sigHashes, i, u.Amount, u.PkScript, txscript.SigHashAll, priv, true)
			if err != nil {
				return "", errors.Internal(err)
			}
			tx.TxIn[i].Witness = witness
			continue
		}
		sigScript, err := txscript.SignatureScript(tx, i, u.PkScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return "", errors.Internal(err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	hash, err := a.client.SendRawTransaction(ctx, tx)
	if err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	return hash, nil
}

type utxoInput struct {
	Amount   int64  `json:"amount"`
	PkScript string `json:"pk_script"`
}

type utxoPayload struct {
	Tx           string      `json:"tx"`
	Inputs       []utxoInput `json:"inputs"`
	RedeemScript string      `json:"redeem_script"`
	AddressType  string      `json:"address_type"`
	Fee          int64       `json:"fee"`
}

func (p *utxoPayload) decode(chain string) (*wire.MsgTx, []byte, error) {
	raw, err := hex.DecodeString(p.Tx)
	if err != nil {
		return nil, nil, invalidPayload(chain, err)
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, nil, invalidPayload(chain, err)
	}
	if len(tx.TxIn) != len(p.Inputs) {
		return nil, nil, invalidPayload(chain, fmt.Errorf("%d inputs but %d prevouts", len(tx.TxIn), len(p.Inputs)))
	}
	script, err := hex.DecodeString(p.RedeemScript)
	if err != nil {
		return nil, nil, invalidPayload(chain, err)
	}
	return tx, script, nil
}

func decodeUTXOPayload(chain, raw string) (*utxoPayload, error) {
	var p utxoPayload
	if err := jsonx.UnmarshalFromString(raw, &p); err != nil {
		return nil, invalidPayload(chain, err)
	}
	return &p, nil
}

// BuildMultisigWithAccount builds the unsigned spend. The redeem script is
// carried in the account salt since MultisigAddress.
func (a *UTXOAdapter) BuildMultisigWithAccount(ctx context.Context, req *MultisigTxRequest, account *types.MultisigAccount, asset Asset, _ PrivateKey) (*BuiltTx, error) {
	if !asset.IsNative() {
		return nil, errors.Validation(errors.ErrCodeUnsupported, "tokens are not supported").WithChain(a.chain())
	}
	script, err := hex.DecodeString(account.Salt)
	if err != nil || len(script) == 0 {
		return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "account %s has no redeem script", account.ID).WithChain(a.chain())
	}
	from, err := a.decodeAddress(account.Address)
	if err != nil {
		return nil, err
	}
	to, err := a.decodeAddress(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := satoshis(req.Value)
	if err != nil {
		return nil, err
	}
	if amount < dustThreshold {
		return nil, rejected(a.chain(), errors.ErrCodeDustAmount, fmt.Sprintf("%d sat is below the dust threshold", amount))
	}
	addrType := a.addressType(account)

	rate, err := a.feeRate(ctx, "")
	if err != nil {
		return nil, err
	}
	utxos, err := a.client.ListUnspent(ctx, from)
	if err != nil {
		return nil, classifyRPC(a.chain(), err)
	}
	sel, err := a.selectCoins(utxos, amount, rate, inputVSize(addrType, account.Threshold, len(script)))
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(sel, to, amount, from)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, errors.Internal(err)
	}
	payload := utxoPayload{
		Tx:           hex.EncodeToString(buf.Bytes()),
		RedeemScript: hex.EncodeToString(script),
		AddressType:  addrType,
		Fee:          sel.fee,
	}
	for _, u := range sel.utxos {
		payload.Inputs = append(payload.Inputs, utxoInput{Amount: u.Amount, PkScript: hex.EncodeToString(u.PkScript)})
	}
	raw, err := jsonx.MarshalToString(payload)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &BuiltTx{RawData: raw, MsgHash: tx.TxHash().String()}, nil
}

func (a *UTXOAdapter) BuildMultisigWithPermission(context.Context, *MultisigTxRequest, *Permission, Asset, PrivateKey) (*BuiltTx, error) {
	return nil, errors.Validation(errors.ErrCodeUnsupported, "permission based multisig is only available on tron").WithChain(a.chain())
}

// sigHashes returns the digest of every input.
func (a *UTXOAdapter) sigHashes(p *utxoPayload) ([][]byte, error) {
	tx, script, err := p.decode(a.chain())
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range p.Inputs {
		pk, err := hex.DecodeString(in.PkScript)
		if err != nil {
			return nil, invalidPayload(a.chain(), err)
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(in.Amount, pk))
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	out := make([][]byte, len(tx.TxIn))
	for i := range tx.TxIn {
		var digest []byte
		if p.AddressType == types.AddressTypeP2WSH {
			digest, err = txscript.CalcWitnessSigHash(script, hashes, txscript.SigHashAll, tx, i, p.Inputs[i].Amount)
		} else {
			digest, err = txscript.CalcSignatureHash(script, txscript.SigHashAll, tx, i)
		}
		if err != nil {
			return nil, invalidPayload(a.chain(), err)
		}
		out[i] = digest
	}
	return out, nil
}

// SignMultisigTx signs every input; the result is the comma separated list
// of DER signatures with the sighash flag appended.
func (a *UTXOAdapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, _ string, key PrivateKey, rawData string) (string, error) {
	if len(key) != 32 {
		return "", errors.Auth(errors.ErrCodeKeyUnavailable, "invalid secp256k1 key")
	}
	p, err := decodeUTXOPayload(a.chain(), rawData)
	if err != nil {
		return "", err
	}
	digests, err := a.sigHashes(p)
	if err != nil {
		return "", err
	}
	priv, _ := btcec.PrivKeyFromBytes(key)
	parts := make([]string, len(digests))
	for i, d := range digests {
		sig := ecdsa.Sign(priv, d).Serialize()
		parts[i] = hex.EncodeToString(append(sig, byte(txscript.SigHashAll)))
	}
	return strings.Join(parts, ","), nil
}

func (a *UTXOAdapter) EstimateMultisigFee(_ context.Context, queue *types.MultisigQueueEntry, _ Asset, _ []*types.MultisigSignature) (string, error) {
	p, err := decodeUTXOPayload(a.chain(), queue.RawData)
	if err != nil {
		return "", err
	}
	return FromBaseUnits(big.NewInt(p.Fee), utxoDecimals), nil
}

// orderedSignatures returns per-signer input signatures in the order of the
// pubkeys inside the script, as OP_CHECKMULTISIG requires.
func (a *UTXOAdapter) orderedSignatures(threshold int, members []*types.MultisigMember, sigs []*types.MultisigSignature, inputs int) ([][][]byte, error) {
	byAddress := make(map[string]*types.MultisigSignature, len(sigs))
	for _, s := range sigs {
		if s.Status == types.SignatureConfirmed {
			byAddress[types.AddressKey(s.Address)] = s
		}
	}
	type signer struct {
		pubkey []byte
		sigs   [][]byte
	}
	var signers []signer
	for _, m := range members {
		s, ok := byAddress[types.AddressKey(m.Address)]
		if !ok {
			continue
		}
		pk, err := hex.DecodeString(strings.TrimPrefix(m.Pubkey, "0x"))
		if err != nil {
			return nil, errors.Validationf(errors.ErrCodeInvalidMembers, "member %s has no valid pubkey", m.Address)
		}
		parts := strings.Split(s.Signature, ",")
		if len(parts) != inputs {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "signature of %s covers %d of %d inputs", m.Address, len(parts), inputs)
		}
		decoded := make([][]byte, inputs)
		for i, part := range parts {
			if decoded[i], err = hex.DecodeString(part); err != nil {
				return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "malformed signature of %s", m.Address)
			}
		}
		signers = append(signers, signer{pubkey: pk, sigs: decoded})
	}
	if len(signers) < threshold {
		return nil, errors.Validationf(errors.ErrCodeInvalidStatus, "%d confirmed signatures, %d required", len(signers), threshold)
	}
	sort.Slice(signers, func(i, j int) bool { return bytes.Compare(signers[i].pubkey, signers[j].pubkey) < 0 })

	out := make([][][]byte, inputs)
	for i := 0; i < inputs; i++ {
		for _, s := range signers[:threshold] {
			out[i] = append(out[i], s.sigs[i])
		}
	}
	return out, nil
}

func (a *UTXOAdapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, members []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, _ PrivateKey, _ string) (string, error) {
	p, err := decodeUTXOPayload(a.chain(), queue.RawData)
	if err != nil {
		return "", err
	}
	tx, script, err := p.decode(a.chain())
	if err != nil {
		return "", err
	}
	perInput, err := a.orderedSignatures(account.Threshold, members, sigs, len(tx.TxIn))
	if err != nil {
		return "", err
	}

	for i := range tx.TxIn {
		if p.AddressType == types.AddressTypeP2WSH {
			witness := wire.TxWitness{nil}
			witness = append(witness, perInput[i]...)
			witness = append(witness, script)
			tx.TxIn[i].Witness = witness
			continue
		}
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, sig := range perInput[i] {
			builder.AddData(sig)
		}
		sigScript, err := builder.AddData(script).Script()
		if err != nil {
			return "", errors.Internal(err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	hash, err := a.client.SendRawTransaction(ctx, tx)
	if err != nil {
		return "", classifyBroadcast(a.chain(), err)
	}
	return hash, nil
}
