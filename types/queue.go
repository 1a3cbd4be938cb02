package types

import "time"

type QueueStatus int8

const (
	QueuePendingSignature QueueStatus = 0
	QueueSignable         QueueStatus = 1
	QueueSubmitted        QueueStatus = 2
	QueueSuccess          QueueStatus = 3
	QueueFailed           QueueStatus = 4
	QueueCanceled         QueueStatus = 5
	QueueExpired          QueueStatus = 6
)

var queueStatusNames = map[QueueStatus]string{
	QueuePendingSignature: "pending_signature",
	QueueSignable:         "signable",
	QueueSubmitted:        "submitted",
	QueueSuccess:          "success",
	QueueFailed:           "failed",
	QueueCanceled:         "canceled",
	QueueExpired:          "expired",
}

func (s QueueStatus) String() string {
	if name, ok := queueStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s QueueStatus) IsValid() bool {
	_, ok := queueStatusNames[s]
	return ok
}

// Rank orders queue statuses by confidence. Anything that reached the chain
// outranks a local cancel or expiry.
func (s QueueStatus) Rank() int {
	switch s {
	case QueuePendingSignature:
		return 0
	case QueueSignable:
		return 1
	case QueueCanceled, QueueExpired:
		return 2
	case QueueSubmitted:
		return 3
	case QueueSuccess, QueueFailed:
		return 4
	default:
		return -1
	}
}

// IsOpen reports whether the entry still collects signatures or awaits execution.
func (s QueueStatus) IsOpen() bool {
	return s == QueuePendingSignature || s == QueueSignable
}

func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueSuccess, QueueFailed, QueueCanceled, QueueExpired:
		return true
	}
	return false
}

// MergeQueueStatus returns the higher-confidence status. Signable is derived
// from local signature counts, so an incoming Signable only counts as
// PendingSignature here and the caller re-evaluates the threshold.
func MergeQueueStatus(stored, incoming QueueStatus) QueueStatus {
	if incoming == QueueSignable {
		incoming = QueuePendingSignature
	}
	if incoming.Rank() > stored.Rank() {
		return incoming
	}
	return stored
}

type MultisigQueueEntry struct {
	ID           string      `json:"id"`
	AccountID    string      `json:"account_id"`
	FromAddr     string      `json:"from_addr"`
	ToAddr       string      `json:"to_addr"`
	Value        string      `json:"value"`
	Symbol       string      `json:"symbol"`
	ChainCode    ChainCode   `json:"chain_code"`
	TokenAddr    string      `json:"token_addr,omitempty"`
	Expiration   int64       `json:"expiration"`
	MsgHash      string      `json:"msg_hash"`
	TxHash       string      `json:"tx_hash"`
	RawData      string      `json:"raw_data"`
	Status       QueueStatus `json:"status"`
	Notes        string      `json:"notes"`
	FailReason   string      `json:"fail_reason"`
	TransferType int         `json:"transfer_type"`
	PermissionID string      `json:"permission_id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (q *MultisigQueueEntry) Clone() *MultisigQueueEntry {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

// IsExpired reports whether the entry passed its expiration at now.
func (q *MultisigQueueEntry) IsExpired(now time.Time) bool {
	return q.Expiration > 0 && now.Unix() >= q.Expiration
}

// MergeQueue folds incoming into stored. Build output (raw_data, msg_hash and
// the transfer fields) is immutable once stored; status follows the lattice
// and tx_hash/fail_reason travel with the status that produced them.
func MergeQueue(stored, incoming *MultisigQueueEntry) (*MultisigQueueEntry, bool) {
	if stored == nil {
		if incoming == nil {
			return nil, false
		}
		created := incoming.Clone()
		created.Status = MergeQueueStatus(QueuePendingSignature, incoming.Status)
		return created, true
	}
	if incoming == nil {
		return stored, false
	}
	merged := stored.Clone()
	merged.Status = MergeQueueStatus(stored.Status, incoming.Status)
	if merged.Status != stored.Status {
		if incoming.TxHash != "" {
			merged.TxHash = incoming.TxHash
		}
		merged.FailReason = incoming.FailReason
	}
	if merged.TxHash == "" {
		merged.TxHash = incoming.TxHash
	}
	if merged.RawData == "" {
		merged.RawData = incoming.RawData
		merged.MsgHash = incoming.MsgHash
	}
	return merged, *merged != *stored
}

// MultisigQueueData is a queue entry together with its signatures.
type MultisigQueueData struct {
	Queue      *MultisigQueueEntry  `json:"queue"`
	Signatures []*MultisigSignature `json:"signatures"`
}

func (d *MultisigQueueData) ConfirmedCount() int {
	return CountConfirmed(d.Signatures)
}

func (d *MultisigQueueData) Signature(address string) *MultisigSignature {
	for _, s := range d.Signatures {
		if SameAddress(s.Address, address) {
			return s
		}
	}
	return nil
}
