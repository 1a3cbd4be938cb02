package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type suiSigner struct {
	seed    []byte
	address string
	pubkey  string
}

func newSuiSigners(t *testing.T, a *SuiAdapter, n int) []suiSigner {
	out := make([]suiSigner, n)
	for i := range out {
		seed := make([]byte, ed25519.SeedSize)
		_, err := rand.Read(seed)
		require.NoError(t, err)
		address, pubkey, err := a.AddressFromKey(seed)
		require.NoError(t, err)
		out[i] = suiSigner{seed: seed, address: address, pubkey: pubkey}
	}
	return out
}

func suiMembers(signers []suiSigner) []*types.MultisigMember {
	members := make([]*types.MultisigMember, 0, len(signers))
	for _, s := range signers {
		members = append(members, &types.MultisigMember{Address: s.address, Pubkey: s.pubkey, Confirmed: true})
	}
	return members
}

func TestSuiAddressFromKey(t *testing.T) {
	a := NewSuiAdapter(SuiConfig{}, nil)
	signers := newSuiSigners(t, a, 1)
	assert.Len(t, signers[0].address, 66)
	assert.NoError(t, a.ValidateAddress(signers[0].address))
	assert.Error(t, a.ValidateAddress("0x1234"))

	pub, err := hex.DecodeString(signers[0].pubkey)
	require.NoError(t, err)
	assert.Equal(t, suiAddressFromPubkey(pub), signers[0].address)
}

func TestSuiMultisigAddressIgnoresMemberOrder(t *testing.T) {
	a := NewSuiAdapter(SuiConfig{}, nil)
	signers := newSuiSigners(t, a, 3)
	account := &types.MultisigAccount{ID: "acc", Threshold: 2}

	first, err := a.MultisigAddress(context.Background(), account, suiMembers(signers))
	require.NoError(t, err)
	reversed := []suiSigner{signers[2], signers[1], signers[0]}
	second, err := a.MultisigAddress(context.Background(), account, suiMembers(reversed))
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.NoError(t, a.ValidateAddress(first.Address))

	account.Threshold = 3
	third, err := a.MultisigAddress(context.Background(), account, suiMembers(signers))
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, third.Address)

	account.Threshold = 4
	_, err = a.MultisigAddress(context.Background(), account, suiMembers(signers))
	assert.Error(t, err)
}

func TestSuiMultisigAddressNeedsPubkeys(t *testing.T) {
	a := NewSuiAdapter(SuiConfig{}, nil)
	members := []*types.MultisigMember{{Address: "0x01"}, {Address: "0x02"}}
	_, err := a.MultisigAddress(context.Background(), &types.MultisigAccount{Threshold: 1}, members)
	assert.Error(t, err)
}

func TestEncodeMultiSigLayout(t *testing.T) {
	keys := []suiMultisigKey{
		{address: "a", pubkey: make([]byte, 32)},
		{address: "b", pubkey: make([]byte, 32)},
		{address: "c", pubkey: make([]byte, 32)},
	}
	sig := make([]byte, ed25519.SignatureSize)
	out := encodeMultiSig(keys, 2, map[int][]byte{0: sig, 2: sig})

	assert.Equal(t, byte(suiFlagMultiSig), out[0])
	assert.Equal(t, byte(2), out[1])
	// two compressed signatures: scheme byte plus 64 bytes each
	bitmapAt := 2 + 2*(1+ed25519.SignatureSize)
	assert.Equal(t, []byte{0b101, 0}, out[bitmapAt:bitmapAt+2])
	assert.Equal(t, byte(3), out[bitmapAt+2])
	assert.Equal(t, []byte{2, 0}, out[len(out)-2:])
	assert.Len(t, out, bitmapAt+2+1+3*(1+32+1)+2)
}

func TestAppendULEB128(t *testing.T) {
	assert.Equal(t, []byte{0x00}, appendULEB128(nil, 0))
	assert.Equal(t, []byte{0x7f}, appendULEB128(nil, 127))
	assert.Equal(t, []byte{0x80, 0x01}, appendULEB128(nil, 128))
	assert.Equal(t, []byte{0xe5, 0x8e, 0x26}, appendULEB128(nil, 624485))
}

func TestSuiSignAndExecute(t *testing.T) {
	rpc := &fakeRPC{handler: func(method string, args []interface{}) (interface{}, error) {
		if method == "sui_executeTransactionBlock" {
			return map[string]interface{}{
				"digest":  "digest-1",
				"effects": map[string]interface{}{"status": map[string]string{"status": "success"}},
			}, nil
		}
		return nil, fmt.Errorf("unexpected method %s", method)
	}}
	a := NewSuiAdapter(SuiConfig{}, rpc)
	signers := newSuiSigners(t, a, 3)
	members := suiMembers(signers)
	account := &types.MultisigAccount{ID: "acc", Threshold: 2}

	txBytes := []byte("transaction data")
	raw := base64.StdEncoding.EncodeToString(txBytes)

	var sigs []*types.MultisigSignature
	for _, s := range signers[:2] {
		sig, err := a.SignMultisigTx(context.Background(), account, s.address, s.seed, raw)
		require.NoError(t, err)
		decoded, err := base64.StdEncoding.DecodeString(sig)
		require.NoError(t, err)
		pub, _ := hex.DecodeString(s.pubkey)
		assert.True(t, ed25519.Verify(pub, suiDigest(txBytes), decoded[1:1+ed25519.SignatureSize]))
		sigs = append(sigs, &types.MultisigSignature{Address: s.address, Signature: sig, Status: types.SignatureConfirmed})
	}

	_, err := a.SignMultisigTx(context.Background(), account, signers[2].address, signers[0].seed, raw)
	assert.Error(t, err)

	queue := &types.MultisigQueueEntry{ID: "q", RawData: raw}
	digest, err := a.ExecuteMultisigTx(context.Background(), account, members, queue, sigs, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "digest-1", digest)

	call := rpc.last("sui_executeTransactionBlock")
	require.NotNil(t, call)
	multisig, err := base64.StdEncoding.DecodeString(call.args[1].([]string)[0])
	require.NoError(t, err)
	assert.Equal(t, byte(suiFlagMultiSig), multisig[0])

	_, err = a.ExecuteMultisigTx(context.Background(), account, members, queue, sigs[:1], nil, "")
	assert.Error(t, err)
}
