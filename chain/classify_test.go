package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/mezonai/msig/errors"
	"github.com/stretchr/testify/assert"
)

func TestRejectionCode(t *testing.T) {
	tests := []struct {
		msg  string
		want errors.Code
	}{
		{"insufficient funds for gas * price + value", errors.ErrCodeInsufficientBalance},
		{"contract validate error : balance is not sufficient", errors.ErrCodeInsufficientBalance},
		{"-26: dust", errors.ErrCodeDustAmount},
		{"account resource insufficient error: Energy", errors.ErrCodeEnergyTooLow},
		{"replacement transaction underpriced", errors.ErrCodeInsufficientFee},
		{"min relay fee not met", errors.ErrCodeInsufficientFee},
		{"GasBalanceTooLow", errors.ErrCodeInsufficientFee},
		{"nonce too low", errors.ErrCodeChainRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rejectionCode(tt.msg), tt.msg)
	}
}

func TestClassifyBroadcast(t *testing.T) {
	assert.NoError(t, classifyBroadcast("eth", nil))

	err := classifyBroadcast("eth", context.DeadlineExceeded)
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))

	err = classifyBroadcast("btc", fmt.Errorf("dial tcp: connection refused"))
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))

	err = classifyBroadcast("tron", fmt.Errorf("CONTRACT_VALIDATE_ERROR: balance is not sufficient"))
	assert.Equal(t, errors.KindChainRejection, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeInsufficientBalance), errors.CodeOf(err))

	classified := errors.Conflict(errors.ErrCodeAlreadySubmitted, "dup")
	assert.Same(t, classified, classifyBroadcast("eth", classified))
}

func TestClassifyRPC(t *testing.T) {
	err := classifyRPC("sui", fmt.Errorf("boom"))
	e, ok := errors.As(err)
	if assert.True(t, ok) {
		assert.Equal(t, errors.KindNetwork, e.Kind)
		assert.Equal(t, "sui", e.ChainCode)
	}
}
