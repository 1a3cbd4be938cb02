package events

import (
	"time"

	"github.com/mezonai/msig/types"
)

// EventType is an enum-like string type for wallet events
type EventType string

const (
	EventAccountCreated       EventType = "AccountCreated"
	EventAccountStatusChanged EventType = "AccountStatusChanged"
	EventMemberConfirmed      EventType = "MemberConfirmed"
	EventQueueCreated         EventType = "QueueCreated"
	EventQueueStatusChanged   EventType = "QueueStatusChanged"
	EventSignatureMerged      EventType = "SignatureMerged"
)

// MultisigEvent is anything the UI layer may want to render.
type MultisigEvent interface {
	Type() EventType
	Timestamp() time.Time
	AccountID() string
	QueueID() string
}

// AccountEvent reports a new account or an account status transition.
type AccountEvent struct {
	eventType EventType
	account   types.MultisigAccount
	previous  types.AccountStatus
	timestamp time.Time
}

func NewAccountCreated(account *types.MultisigAccount) *AccountEvent {
	return &AccountEvent{eventType: EventAccountCreated, account: *account, previous: account.Status, timestamp: time.Now()}
}

func NewAccountStatusChanged(account *types.MultisigAccount, previous types.AccountStatus) *AccountEvent {
	return &AccountEvent{eventType: EventAccountStatusChanged, account: *account, previous: previous, timestamp: time.Now()}
}

func (e *AccountEvent) Type() EventType      { return e.eventType }
func (e *AccountEvent) Timestamp() time.Time { return e.timestamp }
func (e *AccountEvent) AccountID() string    { return e.account.ID }
func (e *AccountEvent) QueueID() string      { return "" }

// Account returns a snapshot of the account at publish time.
func (e *AccountEvent) Account() types.MultisigAccount { return e.account }

func (e *AccountEvent) Previous() types.AccountStatus { return e.previous }

// MemberEvent reports a member confirming participation.
type MemberEvent struct {
	accountID string
	address   string
	timestamp time.Time
}

func NewMemberConfirmed(accountID, address string) *MemberEvent {
	return &MemberEvent{accountID: accountID, address: address, timestamp: time.Now()}
}

func (e *MemberEvent) Type() EventType      { return EventMemberConfirmed }
func (e *MemberEvent) Timestamp() time.Time { return e.timestamp }
func (e *MemberEvent) AccountID() string    { return e.accountID }
func (e *MemberEvent) QueueID() string      { return "" }
func (e *MemberEvent) Address() string      { return e.address }

// QueueEvent reports a new queue entry or a queue status transition.
type QueueEvent struct {
	eventType EventType
	queue     types.MultisigQueueEntry
	previous  types.QueueStatus
	timestamp time.Time
}

func NewQueueCreated(queue *types.MultisigQueueEntry) *QueueEvent {
	return &QueueEvent{eventType: EventQueueCreated, queue: *queue, previous: queue.Status, timestamp: time.Now()}
}

func NewQueueStatusChanged(queue *types.MultisigQueueEntry, previous types.QueueStatus) *QueueEvent {
	return &QueueEvent{eventType: EventQueueStatusChanged, queue: *queue, previous: previous, timestamp: time.Now()}
}

func (e *QueueEvent) Type() EventType      { return e.eventType }
func (e *QueueEvent) Timestamp() time.Time { return e.timestamp }
func (e *QueueEvent) AccountID() string    { return e.queue.AccountID }
func (e *QueueEvent) QueueID() string      { return e.queue.ID }

func (e *QueueEvent) Queue() types.MultisigQueueEntry { return e.queue }

func (e *QueueEvent) Previous() types.QueueStatus { return e.previous }

// SignatureEvent reports a signature that changed after a merge.
type SignatureEvent struct {
	accountID string
	signature types.MultisigSignature
	timestamp time.Time
}

func NewSignatureMerged(accountID string, sig *types.MultisigSignature) *SignatureEvent {
	return &SignatureEvent{accountID: accountID, signature: *sig, timestamp: time.Now()}
}

func (e *SignatureEvent) Type() EventType      { return EventSignatureMerged }
func (e *SignatureEvent) Timestamp() time.Time { return e.timestamp }
func (e *SignatureEvent) AccountID() string    { return e.accountID }
func (e *SignatureEvent) QueueID() string      { return e.signature.QueueID }

func (e *SignatureEvent) Signature() types.MultisigSignature { return e.signature }
