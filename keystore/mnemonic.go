package keystore

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	bip39 "github.com/tyler-smith/go-bip39"
)

// Curves used by the derivation paths.
const (
	curveSecp256k1 = "secp256k1"
	curveEd25519   = "ed25519"
)

type derivation struct {
	curve string
	// path template, %d is the account index
	path string
}

var derivations = map[types.ChainCode]derivation{
	types.ChainBitcoin:  {curveSecp256k1, "m/84'/0'/0'/0/%d"},
	types.ChainLitecoin: {curveSecp256k1, "m/84'/2'/0'/0/%d"},
	types.ChainDogecoin: {curveSecp256k1, "m/44'/3'/0'/0/%d"},
	types.ChainEthereum: {curveSecp256k1, "m/44'/60'/0'/0/%d"},
	types.ChainBnb:      {curveSecp256k1, "m/44'/60'/0'/0/%d"},
	types.ChainTron:     {curveSecp256k1, "m/44'/195'/0'/0/%d"},
	types.ChainSolana:   {curveEd25519, "m/44'/501'/%d'/0'"},
	types.ChainSui:      {curveEd25519, "m/44'/784'/0'/0'/%d'"},
	types.ChainTon:      {curveEd25519, "m/44'/607'/%d'"},
}

// NewMnemonic returns a fresh 12 word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DerivationPath returns the path used for code at index.
func DerivationPath(code types.ChainCode, index uint32) (string, error) {
	d, ok := derivations[code]
	if !ok {
		return "", errors.Validationf(errors.ErrCodeUnknownChain, "no derivation path for chain %q", code)
	}
	return fmt.Sprintf(d.path, index), nil
}

// DeriveKey derives the private key of code at index from a mnemonic.
func DeriveKey(code types.ChainCode, mnemonic, passphrase string, index uint32) (chain.PrivateKey, string, error) {
	path, err := DerivationPath(code, index)
	if err != nil {
		return nil, "", err
	}
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), passphrase)
	if err != nil {
		return nil, "", errors.Validationf(errors.ErrCodeInvalidPayload, "invalid mnemonic: %v", err)
	}
	defer clearBytes(seed)

	indices, err := parseDerivationPath(path)
	if err != nil {
		return nil, "", errors.Internal(err)
	}
	var key []byte
	if derivations[code].curve == curveEd25519 {
		key, err = deriveEd25519(seed, indices)
	} else {
		key, err = deriveSecp256k1(seed, indices)
	}
	if err != nil {
		return nil, "", errors.Internal(err)
	}
	return key, path, nil
}

// ImportMnemonic derives the key of code at index and stores it under password.
func (k *LocalKeystore) ImportMnemonic(code types.ChainCode, mnemonic, passphrase string, index uint32, password string) (string, error) {
	key, path, err := DeriveKey(code, mnemonic, passphrase, index)
	if err != nil {
		return "", err
	}
	defer clearBytes(key)
	return k.store(code, key, password, SourceMnemonic, path)
}

func parseDerivationPath(path string) ([]uint32, error) {
	if !strings.HasPrefix(path, "m/") {
		return nil, fmt.Errorf("path must start with m/")
	}
	parts := strings.Split(path[2:], "/")
	indices := make([]uint32, 0, len(parts))
	for _, p := range parts {
		hardened := strings.HasSuffix(p, "'")
		n, err := strconv.ParseUint(strings.TrimSuffix(p, "'"), 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid path element %q: %w", p, err)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func deriveSecp256k1(seed []byte, indices []uint32) ([]byte, error) {
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	for _, i := range indices {
		if node, err = node.Derive(i); err != nil {
			return nil, err
		}
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

// deriveEd25519 implements SLIP-10 for ed25519, hardened steps only.
func deriveEd25519(seed []byte, indices []uint32) ([]byte, error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, i := range indices {
		if i < hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("ed25519 derivation supports hardened indices only")
		}
		data := make([]byte, 0, 37)
		data = append(data, 0)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, i)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}
	return append([]byte(nil), key...), nil
}
