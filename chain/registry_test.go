package chain_test

import (
	"testing"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/chain/chaintest"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesAdapters(t *testing.T) {
	eth := chaintest.New(types.ChainEthereum)
	btc := chaintest.New(types.ChainBitcoin)
	r, err := chain.NewRegistry(eth, btc)
	require.NoError(t, err)

	got, err := r.Get(types.ChainEthereum)
	require.NoError(t, err)
	assert.Same(t, eth, got)
	assert.True(t, r.Has(types.ChainBitcoin))
	assert.False(t, r.Has(types.ChainSui))
	assert.Equal(t, []types.ChainCode{types.ChainBitcoin, types.ChainEthereum}, r.Chains())
}

func TestRegistryUnknownChain(t *testing.T) {
	r, err := chain.NewRegistry()
	require.NoError(t, err)
	_, err = r.Get(types.ChainTon)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeUnknownChain), errors.CodeOf(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := chain.NewRegistry(chaintest.New(types.ChainSui), chaintest.New(types.ChainSui))
	assert.Error(t, err)
}

func TestFamilyOf(t *testing.T) {
	for _, code := range types.AllChains {
		assert.NotEmpty(t, chain.FamilyOf(code), code)
	}
	assert.Equal(t, chain.FamilyUTXO, chain.FamilyOf(types.ChainDogecoin))
	assert.Empty(t, chain.FamilyOf("xrp"))
}

func TestEndpointConfigValidate(t *testing.T) {
	ok := chain.EndpointConfig{Chain: types.ChainEthereum, URL: "http://localhost:8545"}
	assert.NoError(t, ok.Validate())

	noURL := chain.EndpointConfig{Chain: types.ChainEthereum}
	assert.Error(t, noURL.Validate())

	unknown := chain.EndpointConfig{Chain: "xrp", URL: "http://localhost"}
	assert.Error(t, unknown.Validate())
}
