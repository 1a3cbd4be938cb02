package store

import "strconv"

// Declare database key prefix for objects
const (
	PrefixMultisigAccount = "msig_account:"
	PrefixMultisigMember  = "msig_member:"
	PrefixMultisigQueue   = "msig_queue:"
	PrefixQueueByAccount  = "msig_queue_acc:"
	PrefixMultisigSig     = "msig_sig:"
)

func accountKey(id string) []byte {
	return []byte(PrefixMultisigAccount + id)
}

// scoped keys carry the id length so an id holding ':' never shares a
// prefix with another id.
func scopePrefix(prefix, id string) []byte {
	return []byte(prefix + strconv.Itoa(len(id)) + ":" + id + ":")
}

func memberPrefix(accountID string) []byte {
	return scopePrefix(PrefixMultisigMember, accountID)
}

func memberKey(accountID, address string) []byte {
	return append(memberPrefix(accountID), address...)
}

func queueKey(id string) []byte {
	return []byte(PrefixMultisigQueue + id)
}

func queueByAccountPrefix(accountID string) []byte {
	return scopePrefix(PrefixQueueByAccount, accountID)
}

func queueByAccountKey(accountID, queueID string) []byte {
	return append(queueByAccountPrefix(accountID), queueID...)
}

func signaturePrefix(queueID string) []byte {
	return scopePrefix(PrefixMultisigSig, queueID)
}

func signatureKey(queueID, address string) []byte {
	return append(signaturePrefix(queueID), address...)
}
