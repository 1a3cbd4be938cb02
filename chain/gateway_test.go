package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProgramAddressIsOffCurve(t *testing.T) {
	program, err := base58.Decode(DefaultSquadsProgram)
	require.NoError(t, err)

	pda, bump, err := findProgramAddress([][]byte{[]byte("multisig"), []byte("seed")}, program)
	require.NoError(t, err)
	assert.Len(t, pda, 32)
	assert.False(t, isOnCurve(pda))

	again, bumpAgain, err := findProgramAddress([][]byte{[]byte("multisig"), []byte("seed")}, program)
	require.NoError(t, err)
	assert.Equal(t, pda, again)
	assert.Equal(t, bump, bumpAgain)
}

func TestIsOnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	assert.True(t, isOnCurve(pub))
}

func TestSquadsAddresses(t *testing.T) {
	a := NewGatewayAdapter(GatewayConfig{Chain: types.ChainSolana, Symbol: "SOL", Decimals: 9}, nil)
	account := &types.MultisigAccount{ID: "acc-1", Threshold: 2}

	first, err := a.MultisigAddress(context.Background(), account, nil)
	require.NoError(t, err)
	assert.NoError(t, a.ValidateAddress(first.Address))
	assert.NoError(t, a.ValidateAddress(first.AuthorityAddr))
	assert.NotEqual(t, first.Address, first.AuthorityAddr)
	createKey, err := base58.Decode(first.Salt)
	require.NoError(t, err)
	assert.Len(t, createKey, 32)

	account.Salt = first.Salt
	second, err := a.MultisigAddress(context.Background(), account, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := a.MultisigAddress(context.Background(), &types.MultisigAccount{ID: "acc-2"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, other.Address)
}

func gatewayHandler(msgHash []byte) func(string, []interface{}) (interface{}, error) {
	return func(method string, _ []interface{}) (interface{}, error) {
		switch method {
		case "sol_buildMultisigTransfer", "sol_buildMultisigExecute", "ton_buildMultisigTransfer":
			return gatewayBuilt{RawData: "opaque-" + method, MsgHash: hex.EncodeToString(msgHash)}, nil
		case "sol_sendTransaction", "ton_sendTransaction":
			return "sent-hash", nil
		case "ton_multisigAddress":
			return MultisigAddressResult{Address: "0:" + hex.EncodeToString(make([]byte, 32))}, nil
		case "sol_estimateFee":
			return "5000", nil
		}
		return nil, fmt.Errorf("unexpected method %s", method)
	}
}

func TestGatewaySolanaMultisigFlow(t *testing.T) {
	digest := []byte("order digest to sign")
	rpc := &fakeRPC{handler: gatewayHandler(digest)}
	a := NewGatewayAdapter(GatewayConfig{Chain: types.ChainSolana, Symbol: "SOL", Decimals: 9}, rpc)

	seeds := make([][]byte, 3)
	addresses := make([]string, 3)
	for i := range seeds {
		seeds[i] = []byte(fmt.Sprintf("%032d", i))
		addr, pub, err := a.AddressFromKey(seeds[i])
		require.NoError(t, err)
		assert.Len(t, pub, 64)
		addresses[i] = addr
	}

	account := &types.MultisigAccount{ID: "acc", Threshold: 2}
	addr, err := a.MultisigAddress(context.Background(), account, nil)
	require.NoError(t, err)
	account.Address, account.AuthorityAddr, account.Salt = addr.Address, addr.AuthorityAddr, addr.Salt

	built, err := a.BuildMultisigWithAccount(context.Background(), &MultisigTxRequest{To: addresses[2], Value: "1.5"}, account, a.NativeAsset(), nil)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest), built.MsgHash)
	call := rpc.last("sol_buildMultisigTransfer")
	require.NotNil(t, call)
	assert.Equal(t, "1500000000", call.args[0].(map[string]interface{})["amount"])

	var sigs []*types.MultisigSignature
	for i, seed := range seeds[:2] {
		sig, err := a.SignMultisigTx(context.Background(), account, addresses[i], seed, built.RawData)
		require.NoError(t, err)
		raw, err := base58.Decode(sig)
		require.NoError(t, err)
		pub, _ := base58.Decode(addresses[i])
		assert.True(t, ed25519.Verify(pub, digest, raw))
		sigs = append(sigs, &types.MultisigSignature{Address: addresses[i], Signature: sig, Status: types.SignatureConfirmed})
	}
	_, err = a.SignMultisigTx(context.Background(), account, addresses[1], seeds[0], built.RawData)
	assert.Error(t, err)

	fee, err := a.EstimateMultisigFee(context.Background(), &types.MultisigQueueEntry{RawData: built.RawData}, a.NativeAsset(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0.000005", fee)

	queue := &types.MultisigQueueEntry{ID: "q", RawData: built.RawData}
	hash, err := a.ExecuteMultisigTx(context.Background(), account, nil, queue, sigs, seeds[0], "")
	require.NoError(t, err)
	assert.Equal(t, "sent-hash", hash)

	exec := rpc.last("sol_buildMultisigExecute")
	require.NotNil(t, exec)
	params := exec.args[0].(map[string]interface{})
	assert.Equal(t, "opaque-sol_buildMultisigTransfer", params["raw_data"])
	assert.Len(t, params["signatures"], 2)

	_, err = a.ExecuteMultisigTx(context.Background(), account, nil, queue, sigs[:1], seeds[0], "")
	assert.Error(t, err)
}

func TestGatewayTonAddressFromGateway(t *testing.T) {
	rpc := &fakeRPC{handler: gatewayHandler([]byte("x"))}
	a := NewGatewayAdapter(GatewayConfig{Chain: types.ChainTon, Symbol: "TON", Decimals: 9}, rpc)

	res, err := a.MultisigAddress(context.Background(), &types.MultisigAccount{ID: "acc", Threshold: 1},
		[]*types.MultisigMember{{Address: "0:" + hex.EncodeToString(make([]byte, 32)), Pubkey: "aa"}})
	require.NoError(t, err)
	assert.NoError(t, a.ValidateAddress(res.Address))
	require.NotNil(t, rpc.last("ton_multisigAddress"))
}

func TestGatewayRejectsMalformedPayload(t *testing.T) {
	a := NewGatewayAdapter(GatewayConfig{Chain: types.ChainTon}, &fakeRPC{handler: gatewayHandler(nil)})
	_, err := a.SignMultisigTx(context.Background(), nil, "", []byte(fmt.Sprintf("%032d", 1)), "not json")
	require.Error(t, err)
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidPayload), errors.CodeOf(err))

	raw, _ := jsonx.MarshalToString(gatewayPayload{Payload: "p"})
	_, err = a.SignMultisigTx(context.Background(), nil, "", []byte(fmt.Sprintf("%032d", 1)), raw)
	assert.Error(t, err)

	_, err = a.BuildMultisigWithPermission(context.Background(), nil, nil, Asset{}, nil)
	assert.Equal(t, errors.Code(errors.ErrCodeUnsupported), errors.CodeOf(err))
}
