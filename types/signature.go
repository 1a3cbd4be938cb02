package types

import (
	"sort"
	"strings"
	"time"
)

type SignatureStatus int8

const (
	SignatureUnconfirmed SignatureStatus = 0
	SignatureConfirmed   SignatureStatus = 1
	SignatureRejected    SignatureStatus = 2
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureUnconfirmed:
		return "unconfirmed"
	case SignatureConfirmed:
		return "confirmed"
	case SignatureRejected:
		return "rejected"
	}
	return "unknown"
}

func (s SignatureStatus) IsValid() bool {
	return s >= SignatureUnconfirmed && s <= SignatureRejected
}

// Rank orders signature statuses. Confirmed and Rejected are both final
// answers from a member, so neither replaces the other.
func (s SignatureStatus) Rank() int {
	switch s {
	case SignatureUnconfirmed:
		return 0
	case SignatureConfirmed, SignatureRejected:
		return 1
	}
	return -1
}

type MultisigSignature struct {
	QueueID   string          `json:"queue_id"`
	Address   string          `json:"address"`
	Signature string          `json:"signature"`
	Status    SignatureStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *MultisigSignature) Clone() *MultisigSignature {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// MergeSignature applies the confidence rule for one (queue_id, address) row.
// A strictly higher status replaces the stored row; an equal or lower one is a no-op.
func MergeSignature(stored, incoming *MultisigSignature) (*MultisigSignature, bool) {
	if incoming == nil {
		return stored, false
	}
	if stored == nil {
		return incoming.Clone(), true
	}
	if incoming.Status.Rank() <= stored.Status.Rank() {
		return stored, false
	}
	merged := incoming.Clone()
	merged.QueueID = stored.QueueID
	merged.Address = stored.Address
	if !stored.CreatedAt.IsZero() {
		merged.CreatedAt = stored.CreatedAt
	}
	return merged, true
}

func CountConfirmed(sigs []*MultisigSignature) int {
	n := 0
	for _, s := range sigs {
		if s.Status == SignatureConfirmed {
			n++
		}
	}
	return n
}

// SortSignaturesByAddress orders signatures by ascending signer address, the
// order in which adapters assemble them.
func SortSignaturesByAddress(sigs []*MultisigSignature) {
	sort.Slice(sigs, func(i, j int) bool { return lessAddress(sigs[i].Address, sigs[j].Address) })
}

func lessAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.ToLower(a) < strings.ToLower(b)
	}
	return a < b
}
