package chain

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/mezonai/msig/errors"
)

var rejectionPatterns = []struct {
	needle string
	code   errors.Code
}{
	{"insufficient funds", errors.ErrCodeInsufficientBalance},
	{"insufficient balance", errors.ErrCodeInsufficientBalance},
	{"balance is not sufficient", errors.ErrCodeInsufficientBalance},
	{"dust", errors.ErrCodeDustAmount},
	{"energy", errors.ErrCodeEnergyTooLow},
	{"bandwidth", errors.ErrCodeEnergyTooLow},
	{"underpriced", errors.ErrCodeInsufficientFee},
	{"fee too low", errors.ErrCodeInsufficientFee},
	{"min relay fee", errors.ErrCodeInsufficientFee},
	{"insufficient fee", errors.ErrCodeInsufficientFee},
	{"gasbalance", errors.ErrCodeInsufficientFee},
}

// rejectionCode maps a node's rejection message to a stable business code.
func rejectionCode(msg string) errors.Code {
	lower := strings.ToLower(msg)
	for _, p := range rejectionPatterns {
		if strings.Contains(lower, p.needle) {
			return p.code
		}
	}
	return errors.ErrCodeChainRejected
}

// classifyRPC turns an error of a read-only RPC into a network error.
func classifyRPC(chain string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.Network(errors.ErrCodeRPCUnavailable, err).WithChain(chain)
}

// classifyBroadcast distinguishes transport failures from node rejections
// of a submitted transaction.
func classifyBroadcast(chain string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) || isTransportError(err) {
		return errors.Network(errors.ErrCodeRPCUnavailable, err).WithChain(chain)
	}
	return errors.ChainRejection(rejectionCode(err.Error()), err.Error()).WithChain(chain)
}

func isTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "timeout", "eof", "connection reset", "status code 5"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func rejected(chain string, code errors.Code, msg string) error {
	return errors.ChainRejection(code, msg).WithChain(chain)
}

func invalidAddress(chain, address string) error {
	return errors.Validationf(errors.ErrCodeInvalidAddress, "invalid %s address %q", chain, address).WithChain(chain)
}

func invalidPayload(chain string, err error) error {
	return errors.Wrap(err, errors.KindValidation, errors.ErrCodeInvalidPayload, "malformed raw transaction").WithChain(chain)
}
