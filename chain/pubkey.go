package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"filippo.io/edwards25519"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
)

// ValidatePubkey checks a hex encoded member pubkey against the curve of the
// chain family: secp256k1 for evm, utxo and tron, ed25519 for the rest.
func ValidatePubkey(code types.ChainCode, pubkey string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(pubkey, "0x"))
	if err != nil || len(raw) == 0 {
		return errors.Validationf(errors.ErrCodeInvalidMembers, "pubkey %q is not hex", pubkey).WithChain(code.String())
	}
	switch FamilyOf(code) {
	case FamilyEVM, FamilyUTXO, FamilyTron:
		if _, err := secp256k1.ParsePubKey(raw); err != nil {
			return errors.Validationf(errors.ErrCodeInvalidMembers, "invalid secp256k1 pubkey: %v", err).WithChain(code.String())
		}
	case FamilySui, FamilyGateway:
		if len(raw) != ed25519.PublicKeySize {
			return errors.Validationf(errors.ErrCodeInvalidMembers, "ed25519 pubkey must be %d bytes", ed25519.PublicKeySize).WithChain(code.String())
		}
		if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
			return errors.Validation(errors.ErrCodeInvalidMembers, "ed25519 pubkey is not on the curve").WithChain(code.String())
		}
	default:
		return errors.Validation(errors.ErrCodeUnknownChain, errors.ErrMsgUnknownChain).WithChain(code.String())
	}
	return nil
}
