package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/mezonai/msig/jsonx"
	pkgerrors "github.com/pkg/errors"
)

// Error is the classified error returned by the registry, the coordinator
// and the chain adapters. It carries enough context for a caller to pick
// between retry, prompting the user and a recovery pull.
type Error struct {
	Kind      Kind   `json:"kind"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	AccountID string `json:"account_id,omitempty"`
	QueueID   string `json:"queue_id,omitempty"`
	ChainCode string `json:"chain_code,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	out := *e
	if e.cause != nil && out.Message == "" {
		out.Message = e.cause.Error()
	} else if e.cause != nil {
		out.Message = fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	data, _ := jsonx.Marshal(out)
	return string(data)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause lets pkg/errors.Cause walk through classified errors.
func (e *Error) Cause() error { return e.cause }

// Retryable reports whether the external task queue may retry the failed call.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindChainRejection
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithAccount returns a copy of e annotated with the account id.
func (e *Error) WithAccount(id string) *Error {
	c := e.clone()
	c.AccountID = id
	return c
}

func (e *Error) WithQueue(id string) *Error {
	c := e.clone()
	c.QueueID = id
	return c
}

func (e *Error) WithChain(code string) *Error {
	c := e.clone()
	c.ChainCode = code
	return c
}

func newError(kind Kind, code Code, message string, cause error) *Error {
	if cause != nil {
		cause = pkgerrors.WithStack(cause)
	}
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func Validation(code Code, message string) *Error {
	return newError(KindValidation, code, message, nil)
}

func Validationf(code Code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, fmt.Sprintf(format, args...), nil)
}

func NotFound(code Code, message string) *Error {
	return newError(KindNotFound, code, message, nil)
}

func Auth(code Code, message string) *Error {
	return newError(KindAuth, code, message, nil)
}

func Network(code Code, cause error) *Error {
	return newError(KindNetwork, code, "", cause)
}

func ChainRejection(code Code, message string) *Error {
	return newError(KindChainRejection, code, message, nil)
}

func Conflict(code Code, message string) *Error {
	return newError(KindConflict, code, message, nil)
}

func Internal(cause error) *Error {
	return newError(KindInternal, ErrCodeInternal, "", cause)
}

// Wrap classifies cause. An already classified cause keeps its own kind and code.
func Wrap(cause error, kind Kind, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	var e *Error
	if stderrors.As(cause, &e) {
		return e
	}
	return newError(kind, code, message, cause)
}

// As extracts the classified error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	if err == nil {
		return ""
	}
	return ErrCodeInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}

// Is and New mirror the standard library so callers can import a single errors package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func New(text string) error { return stderrors.New(text) }
