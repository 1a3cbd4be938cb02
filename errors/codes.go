package errors

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindAuth           Kind = "auth"
	KindNetwork        Kind = "network"
	KindChainRejection Kind = "chain_rejection"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Code is a stable business code surfaced to callers and stored as fail_reason.
type Code string

const (
	ErrCodeInternal Code = "internal_error"

	// Validation errors
	ErrCodeInvalidThreshold = "invalid_threshold"
	ErrCodeUnknownChain     = "unknown_chain"
	ErrCodeInvalidAddress   = "invalid_address"
	ErrCodeInvalidAmount    = "invalid_amount"
	ErrCodeInvalidMembers   = "invalid_members"
	ErrCodeInvalidStatus    = "invalid_status"
	ErrCodeInvalidPayload   = "invalid_payload"
	ErrCodeInvalidText      = "invalid_text"
	ErrCodeUnsupported      = "unsupported_operation"
	ErrCodeNotMember        = "not_member"
	ErrCodeExpired          = "expired"
	ErrCodeCanceled         = "canceled"

	// Lookup errors
	ErrCodeAccountNotFound = "account_not_found"
	ErrCodeQueueNotFound   = "queue_not_found"
	ErrCodeKeyNotFound     = "key_not_found"

	// Auth errors
	ErrCodeBadPassword    = "bad_password"
	ErrCodeKeyUnavailable = "key_unavailable"

	// Network errors
	ErrCodeRPCUnavailable     = "rpc_unavailable"
	ErrCodeBackendUnavailable = "backend_unavailable"
	ErrCodeTransportFailed    = "transport_failed"

	// Chain rejections
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeInsufficientFee     = "insufficient_fee"
	ErrCodeDustAmount          = "dust_amount"
	ErrCodeEnergyTooLow        = "energy_too_low"
	ErrCodeChainRejected       = "chain_rejected"

	// Concurrency conflicts
	ErrCodeAlreadySubmitted = "already_submitted"
)

// Fail reasons recorded on queue entries that never reached the chain.
const (
	FailReasonSignFailed = "sign_failed"
	FailReasonExpired    = "expired"
)

// Error message constants
const (
	ErrMsgInvalidThreshold  = "threshold must be between 1 and the number of members"
	ErrMsgUnknownChain      = "chain is not supported"
	ErrMsgAccountNotFound   = "multisig account does not exist"
	ErrMsgQueueNotFound     = "multisig transaction does not exist"
	ErrMsgAlreadySubmitted  = "transaction already submitted"
	ErrMsgBadPassword       = "password is incorrect"
	ErrMsgNotMember         = "this wallet does not control any member of the account"
	ErrMsgExpired           = "multisig transaction has expired"
	ErrMsgTextTooLong       = "%s must be at most %d characters"
	ErrMsgInvalidCharacters = "%s contains invalid characters"
)
