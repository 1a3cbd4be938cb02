package chain

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/mezonai/msig/errors"
	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human readable decimal amount into base units.
// The amount must be strictly positive and fit the given precision.
func ToBaseUnits(value string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, errors.Validationf(errors.ErrCodeInvalidAmount, "invalid amount %q", value)
	}
	if !d.IsPositive() {
		return nil, errors.Validationf(errors.ErrCodeInvalidAmount, "amount must be positive, got %s", value)
	}
	base := d.Shift(int32(decimals))
	if !base.Equal(base.Truncate(0)) {
		return nil, errors.Validationf(errors.ErrCodeInvalidAmount, "amount %s exceeds %d decimals", value, decimals)
	}
	out, overflow := uint256.FromBig(base.BigInt())
	if overflow {
		return nil, errors.Validationf(errors.ErrCodeInvalidAmount, "amount %s overflows", value)
	}
	return out, nil
}

// FromBaseUnits renders base units as a human readable decimal string.
func FromBaseUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ValidateAmount checks value is a positive decimal.
func ValidateAmount(value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return errors.Validationf(errors.ErrCodeInvalidAmount, "invalid amount %q", value)
	}
	if !d.IsPositive() {
		return errors.Validationf(errors.ErrCodeInvalidAmount, "amount must be positive, got %s", value)
	}
	return nil
}
