package keystore

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestKeystore(t *testing.T) (*LocalKeystore, *db.LevelDBProvider) {
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	registry, err := chain.NewRegistry(
		chain.NewEVMAdapter(chain.EVMConfig{Chain: types.ChainEthereum, Symbol: "ETH"}, nil),
		chain.NewSuiAdapter(chain.SuiConfig{}, nil),
		chain.NewTronAdapter(chain.TronConfig{}, nil),
	)
	require.NoError(t, err)

	ks, err := NewLocalKeystore(provider, registry, Config{Iterations: 1000})
	require.NoError(t, err)
	return ks, provider
}

func TestImportPrivateKey(t *testing.T) {
	ks, provider := newTestKeystore(t)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	address, err := ks.ImportPrivateKey(types.ChainEthereum, crypto.FromECDSA(priv), "secret")
	require.NoError(t, err)
	assert.Equal(t, want, address)

	assert.True(t, ks.Controls(types.ChainEthereum, address))
	assert.True(t, ks.Controls(types.ChainEthereum, hexLower(address)), "evm lookups ignore case")
	assert.False(t, ks.Controls(types.ChainBnb, address))

	pubkey, err := ks.PublicKey(types.ChainEthereum, address)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey)), pubkey[2:])

	key, err := ks.GetPrivateKey(address, types.ChainEthereum, "secret")
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(priv), []byte(key))

	// a fresh instance reads the persisted entry
	reopened, err := NewLocalKeystore(provider, ks.codecs, Config{Iterations: 1000})
	require.NoError(t, err)
	key, err = reopened.GetPrivateKey(address, types.ChainEthereum, "secret")
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(priv), []byte(key))
}

func hexLower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'F' {
			out[i] = c + 'a' - 'A'
		}
	}
	return string(out)
}

func TestGetPrivateKeyErrors(t *testing.T) {
	ks, _ := newTestKeystore(t)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	address, err := ks.ImportPrivateKey(types.ChainEthereum, crypto.FromECDSA(priv), "secret")
	require.NoError(t, err)

	_, err = ks.GetPrivateKey(address, types.ChainEthereum, "wrong")
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeBadPassword), errors.CodeOf(err))

	_, err = ks.GetPrivateKey("0x0000000000000000000000000000000000000001", types.ChainEthereum, "secret")
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))

	_, err = ks.ImportPrivateKey(types.ChainEthereum, crypto.FromECDSA(priv), "")
	assert.Error(t, err)

	_, err = ks.ImportPrivateKey(types.ChainTon, []byte{1}, "secret")
	assert.Equal(t, errors.Code(errors.ErrCodeUnknownChain), errors.CodeOf(err))
}

func TestImportMnemonicKnownAddress(t *testing.T) {
	ks, _ := newTestKeystore(t)
	address, err := ks.ImportMnemonic(types.ChainEthereum, testMnemonic, "", 0, "secret")
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", address)

	entries, err := ks.List(types.ChainEthereum)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SourceMnemonic, entries[0].Source)
	assert.Equal(t, "m/44'/60'/0'/0/0", entries[0].Path)
}

func TestImportMnemonicEd25519(t *testing.T) {
	ks, _ := newTestKeystore(t)
	first, err := ks.ImportMnemonic(types.ChainSui, testMnemonic, "", 0, "secret")
	require.NoError(t, err)
	second, err := ks.ImportMnemonic(types.ChainSui, testMnemonic, "", 1, "secret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	again, _, err := DeriveKey(types.ChainSui, testMnemonic, "", 0)
	require.NoError(t, err)
	key, err := ks.GetPrivateKey(first, types.ChainSui, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte(again), []byte(key))

	_, err = ks.ImportMnemonic(types.ChainSui, "not a valid mnemonic", "", 0, "secret")
	assert.Error(t, err)
}

func TestSLIP10Ed25519Vector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	master, err := deriveEd25519(seed, nil)
	require.NoError(t, err)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(master))

	child, err := deriveEd25519(seed, []uint32{0x80000000})
	require.NoError(t, err)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(child))

	_, err = deriveEd25519(seed, []uint32{1})
	assert.Error(t, err)
}

func TestParseDerivationPath(t *testing.T) {
	indices, err := parseDerivationPath("m/44'/60'/0'/0/7")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x8000002c, 0x8000003c, 0x80000000, 0, 7}, indices)

	_, err = parseDerivationPath("44'/60'")
	assert.Error(t, err)
	_, err = parseDerivationPath("m/x")
	assert.Error(t, err)
}

func TestListAndDelete(t *testing.T) {
	ks, _ := newTestKeystore(t)
	ethAddr, err := ks.ImportMnemonic(types.ChainEthereum, testMnemonic, "", 0, "secret")
	require.NoError(t, err)
	tronAddr, err := ks.ImportMnemonic(types.ChainTron, testMnemonic, "", 0, "secret")
	require.NoError(t, err)

	all, err := ks.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.ChainEthereum, all[0].Chain)
	assert.Equal(t, tronAddr, all[1].Address)

	assert.Error(t, ks.Delete(types.ChainEthereum, ethAddr, "wrong"))
	require.NoError(t, ks.Delete(types.ChainEthereum, ethAddr, "secret"))
	assert.False(t, ks.Controls(types.ChainEthereum, ethAddr))
}

func TestSealOpen(t *testing.T) {
	kdf, ct, err := seal([]byte("payload"), "pw", 1000)
	require.NoError(t, err)
	plain, err := open(kdf, ct, "pw")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	_, err = open(kdf, ct, "other")
	assert.Error(t, err)
	_, err = open("scrypt$1$00", ct, "pw")
	assert.Error(t, err)
}
