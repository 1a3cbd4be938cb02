package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTronAddressRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	evm := crypto.PubkeyToAddress(key.PublicKey)

	address := TronAddress(evm)
	assert.Equal(t, byte('T'), address[0])
	assert.Len(t, address, 34)

	raw, err := decodeTronAddress(address)
	require.NoError(t, err)
	assert.Equal(t, byte(tronAddressPrefix), raw[0])
	assert.Equal(t, evm.Bytes(), raw[1:])
}

func TestTronAddressRejectsBadChecksum(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := []byte(TronAddress(crypto.PubkeyToAddress(key.PublicKey)))
	last := address[len(address)-1]
	if last == 'a' {
		address[len(address)-1] = 'b'
	} else {
		address[len(address)-1] = 'a'
	}
	_, err = decodeTronAddress(string(address))
	assert.Error(t, err)

	_, err = decodeTronAddress("0x1234")
	assert.Error(t, err)
}

func TestTronAdapterKeyCodec(t *testing.T) {
	a := NewTronAdapter(TronConfig{}, NewRESTClient("http://127.0.0.1:1", nil, 0))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	address, pubkey, err := a.AddressFromKey(crypto.FromECDSA(key))
	require.NoError(t, err)
	assert.NoError(t, a.ValidateAddress(address))
	assert.NotEmpty(t, pubkey)
	assert.Equal(t, TronAddress(crypto.PubkeyToAddress(key.PublicKey)), address)
}

func TestTronMultisigSignAndExecute(t *testing.T) {
	var broadcast tronTx
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wallet/broadcasttransaction", r.URL.Path)
		require.NoError(t, jsonx.NewDecoder(r.Body).Decode(&broadcast))
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()
	a := NewTronAdapter(TronConfig{}, NewRESTClient(srv.URL, nil, time.Second))

	txID := strings.Repeat("ab", 32)
	raw := `{"txID":"` + txID + `","raw_data":{"expiration":1},"raw_data_hex":"00","visible":false}`

	keys := make([]*ecdsa.PrivateKey, 3)
	var sigs []*types.MultisigSignature
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
		address := TronAddress(crypto.PubkeyToAddress(k.PublicKey))
		sig, err := a.SignMultisigTx(context.Background(), nil, address, crypto.FromECDSA(k), raw)
		require.NoError(t, err)

		digest, _ := hex.DecodeString(txID)
		sigBytes, _ := hex.DecodeString(sig)
		pub, err := crypto.SigToPub(digest, sigBytes)
		require.NoError(t, err)
		assert.Equal(t, address, TronAddress(crypto.PubkeyToAddress(*pub)))

		sigs = append(sigs, &types.MultisigSignature{Address: address, Signature: sig, Status: types.SignatureConfirmed})
	}

	_, err := a.SignMultisigTx(context.Background(), nil, sigs[1].Address, crypto.FromECDSA(keys[0]), raw)
	assert.Error(t, err)

	account := &types.MultisigAccount{ID: "acc", Threshold: 2}
	queue := &types.MultisigQueueEntry{ID: "q", RawData: raw}
	hash, err := a.ExecuteMultisigTx(context.Background(), account, nil, queue, sigs, nil, "")
	require.NoError(t, err)
	assert.Equal(t, txID, hash)

	types.SortSignaturesByAddress(sigs)
	assert.Equal(t, []string{sigs[0].Signature, sigs[1].Signature}, broadcast.Signature)
}

func TestTronBroadcastRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":false,"code":"CONTRACT_VALIDATE_ERROR","message":"62616c616e6365206973206e6f742073756666696369656e74"}`))
	}))
	defer srv.Close()
	a := NewTronAdapter(TronConfig{}, NewRESTClient(srv.URL, nil, time.Second))

	_, err := a.broadcast(context.Background(), &tronTx{TxID: strings.Repeat("cd", 32)})
	require.Error(t, err)
	assert.Equal(t, errors.KindChainRejection, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeInsufficientBalance), errors.CodeOf(err))
}
