package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUTXOClient struct {
	utxos []UTXO
	sent  *wire.MsgTx
}

func (f *fakeUTXOClient) ListUnspent(context.Context, btcutil.Address) ([]UTXO, error) {
	return f.utxos, nil
}

func (f *fakeUTXOClient) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (string, error) {
	f.sent = tx
	return tx.TxHash().String(), nil
}

func (f *fakeUTXOClient) BlockCount(context.Context) (int64, error) { return 800000, nil }

func (f *fakeUTXOClient) TxConfirmations(context.Context, string) (int64, bool, error) {
	return 3, true, nil
}

func (f *fakeUTXOClient) FeeRate(context.Context) (int64, error) { return 5, nil }

type utxoSigner struct {
	key     []byte
	address string
	pubkey  string
}

func newUTXOSigners(t *testing.T, a *UTXOAdapter, n int) []utxoSigner {
	out := make([]utxoSigner, n)
	for i := range out {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		key := priv.Serialize()
		address, pubkey, err := a.AddressFromKey(key)
		require.NoError(t, err)
		out[i] = utxoSigner{key: key, address: address, pubkey: pubkey}
	}
	return out
}

func utxoMembers(signers []utxoSigner) []*types.MultisigMember {
	members := make([]*types.MultisigMember, 0, len(signers))
	for _, s := range signers {
		members = append(members, &types.MultisigMember{Address: s.address, Pubkey: s.pubkey, Confirmed: true})
	}
	return members
}

func TestUTXOMultisigAddressKinds(t *testing.T) {
	tests := []struct {
		name        string
		code        types.ChainCode
		params      *chaincfg.Params
		addressType string
		prefix      string
	}{
		{"btc p2wsh", types.ChainBitcoin, &chaincfg.MainNetParams, "", "bc1q"},
		{"btc p2sh", types.ChainBitcoin, &chaincfg.MainNetParams, types.AddressTypeP2SH, "3"},
		{"ltc p2wsh", types.ChainLitecoin, &LitecoinMainNetParams, "", "ltc1q"},
		{"ltc p2sh", types.ChainLitecoin, &LitecoinMainNetParams, types.AddressTypeP2SH, "M"},
		{"doge", types.ChainDogecoin, &DogecoinMainNetParams, types.AddressTypeP2WSH, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewUTXOAdapter(UTXOConfig{Chain: tt.code, Symbol: "X", Params: tt.params}, &fakeUTXOClient{})
			signers := newUTXOSigners(t, a, 3)
			account := &types.MultisigAccount{ID: "acc", Threshold: 2, AddressType: tt.addressType}

			res, err := a.MultisigAddress(context.Background(), account, utxoMembers(signers))
			require.NoError(t, err)
			if tt.code == types.ChainDogecoin {
				assert.True(t, strings.HasPrefix(res.Address, "A") || strings.HasPrefix(res.Address, "9"), res.Address)
			} else {
				assert.True(t, strings.HasPrefix(res.Address, tt.prefix), res.Address)
			}
			assert.NoError(t, a.ValidateAddress(res.Address))
			assert.NotEmpty(t, res.Salt)

			reversed := []utxoSigner{signers[2], signers[0], signers[1]}
			again, err := a.MultisigAddress(context.Background(), account, utxoMembers(reversed))
			require.NoError(t, err)
			assert.Equal(t, res.Address, again.Address)
			assert.Equal(t, res.Salt, again.Salt)
		})
	}
}

func TestUTXOMultisigSpendVerifies(t *testing.T) {
	for _, addressType := range []string{types.AddressTypeP2WSH, types.AddressTypeP2SH} {
		t.Run(addressType, func(t *testing.T) {
			client := &fakeUTXOClient{}
			a := NewUTXOAdapter(UTXOConfig{Chain: types.ChainBitcoin, Symbol: "BTC", Params: &chaincfg.MainNetParams}, client)
			signers := newUTXOSigners(t, a, 3)
			members := utxoMembers(signers)
			account := &types.MultisigAccount{ID: "acc", Threshold: 2, AddressType: addressType}

			deployed, err := a.DeployMultisigAccount(context.Background(), account, members, "", nil)
			require.NoError(t, err)
			account.Address, account.Salt = deployed.Address, deployed.Salt

			msAddr, err := btcutil.DecodeAddress(account.Address, &chaincfg.MainNetParams)
			require.NoError(t, err)
			pkScript, err := txscript.PayToAddrScript(msAddr)
			require.NoError(t, err)
			client.utxos = []UTXO{
				{TxID: strings.Repeat("11", 32), Vout: 0, Amount: 60000, PkScript: pkScript},
				{TxID: strings.Repeat("22", 32), Vout: 1, Amount: 50000, PkScript: pkScript},
			}

			req := &MultisigTxRequest{To: signers[0].address, Value: "0.001"}
			built, err := a.BuildMultisigWithAccount(context.Background(), req, account, a.NativeAsset(), nil)
			require.NoError(t, err)
			assert.NotEmpty(t, built.MsgHash)

			var sigs []*types.MultisigSignature
			for _, s := range []utxoSigner{signers[2], signers[0]} {
				sig, err := a.SignMultisigTx(context.Background(), account, s.address, s.key, built.RawData)
				require.NoError(t, err)
				sigs = append(sigs, &types.MultisigSignature{Address: s.address, Signature: sig, Status: types.SignatureConfirmed})
			}

			queue := &types.MultisigQueueEntry{ID: "q", RawData: built.RawData}
			_, err = a.ExecuteMultisigTx(context.Background(), account, members, queue, sigs, nil, "")
			require.NoError(t, err)
			require.NotNil(t, client.sent)

			fetcher := txscript.NewMultiPrevOutFetcher(nil)
			amounts := map[wire.OutPoint]int64{}
			for _, u := range client.utxos {
				h, _ := chainhashFromStr(u.TxID)
				op := wire.OutPoint{Hash: h, Index: u.Vout}
				amounts[op] = u.Amount
				fetcher.AddPrevOut(op, wire.NewTxOut(u.Amount, pkScript))
			}
			hashes := txscript.NewTxSigHashes(client.sent, fetcher)
			for i, in := range client.sent.TxIn {
				vm, err := txscript.NewEngine(pkScript, client.sent, i, txscript.StandardVerifyFlags, nil, hashes, amounts[in.PreviousOutPoint], fetcher)
				require.NoError(t, err)
				assert.NoError(t, vm.Execute(), "input %d", i)
			}
		})
	}
}

func TestUTXOMultisigDust(t *testing.T) {
	a := NewUTXOAdapter(UTXOConfig{Chain: types.ChainBitcoin, Params: &chaincfg.MainNetParams}, &fakeUTXOClient{})
	signers := newUTXOSigners(t, a, 2)
	account := &types.MultisigAccount{ID: "acc", Threshold: 1}
	res, err := a.MultisigAddress(context.Background(), account, utxoMembers(signers))
	require.NoError(t, err)
	account.Address, account.Salt = res.Address, res.Salt

	_, err = a.BuildMultisigWithAccount(context.Background(), &MultisigTxRequest{To: signers[0].address, Value: "0.000001"}, account, a.NativeAsset(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.Code(errors.ErrCodeDustAmount), errors.CodeOf(err))
}

func TestSelectCoinsInsufficient(t *testing.T) {
	a := NewUTXOAdapter(UTXOConfig{Chain: types.ChainBitcoin, Params: &chaincfg.MainNetParams}, &fakeUTXOClient{})
	_, err := a.selectCoins([]UTXO{{Amount: 1000}}, 5000, 1, 100)
	require.Error(t, err)
	assert.Equal(t, errors.KindChainRejection, errors.KindOf(err))

	sel, err := a.selectCoins([]UTXO{{Amount: 1000}, {Amount: 100000}, {Amount: 5000}}, 50000, 1, 100)
	require.NoError(t, err)
	require.Len(t, sel.utxos, 1)
	assert.Equal(t, int64(100000), sel.utxos[0].Amount)
	assert.Equal(t, int64(100000), 50000+sel.fee+sel.change)
}

func TestUTXOSignaturesFollowScriptOrder(t *testing.T) {
	a := NewUTXOAdapter(UTXOConfig{Chain: types.ChainBitcoin, Params: &chaincfg.MainNetParams}, &fakeUTXOClient{})
	signers := newUTXOSigners(t, a, 3)
	var sigs []*types.MultisigSignature
	for i, s := range signers {
		sigs = append(sigs, &types.MultisigSignature{Address: s.address, Signature: hex.EncodeToString([]byte{byte(i)}), Status: types.SignatureConfirmed})
	}
	ordered, err := a.orderedSignatures(3, utxoMembers(signers), sigs, 1)
	require.NoError(t, err)
	require.Len(t, ordered[0], 3)

	var prev []byte
	for _, sig := range ordered[0] {
		pk, _ := hex.DecodeString(signers[sig[0]].pubkey)
		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, pk))
		}
		prev = pk
	}
}

func chainhashFromStr(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}
