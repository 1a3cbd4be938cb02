package chain

import (
	"math/big"
	"testing"

	"github.com/mezonai/msig/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"1", 8, "100000000", false},
		{"1.5", 8, "150000000", false},
		{"0.00000001", 8, "1", false},
		{"12.345678", 6, "12345678", false},
		{"1000000", 18, "1000000000000000000000000", false},
		{"0", 8, "", true},
		{"-1", 8, "", true},
		{"1.001", 2, "", true},
		{"abc", 8, "", true},
		{"", 8, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ToBaseUnits(tt.value, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.Code(errors.ErrCodeInvalidAmount), errors.CodeOf(err))
				assert.True(t, errors.IsKind(err, errors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestToBaseUnitsOverflow(t *testing.T) {
	_, err := ToBaseUnits("1000000000000000000000000000000000000000000000000000000000000", 18)
	require.Error(t, err)
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FromBaseUnits(big.NewInt(150000000), 8))
	assert.Equal(t, "0.000001", FromBaseUnits(big.NewInt(1), 6))
	assert.Equal(t, "42", FromBaseUnits(big.NewInt(42), 0))
	assert.Equal(t, "0", FromBaseUnits(nil, 8))
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount("0.1"))
	assert.Error(t, ValidateAmount("0"))
	assert.Error(t, ValidateAmount("1.2.3"))
}
