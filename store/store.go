package store

import (
	"errors"

	"github.com/mezonai/msig/types"
)

// ErrNotFound is returned by lookups of a missing account, queue entry or signature.
var ErrNotFound = errors.New("store: not found")

// MultisigStore is the persistence boundary for accounts, members, queue
// entries and signatures. Upserts replace the stored row; merge rules live
// in the callers, which serialize writes per account or queue id.
type MultisigStore interface {
	// SaveAccountData upserts the account and all its members atomically
	SaveAccountData(data *types.MultisigAccountData) error
	UpsertAccount(account *types.MultisigAccount) error
	GetAccount(id string) (*types.MultisigAccount, error)
	GetAccountData(id string) (*types.MultisigAccountData, error)
	// ListAccounts returns accounts of chain, or of every chain when chain is empty
	ListAccounts(chain types.ChainCode) ([]*types.MultisigAccount, error)
	CountAccounts(chain types.ChainCode) (int, error)

	UpsertMember(member *types.MultisigMember) error
	GetMembers(accountID string) ([]*types.MultisigMember, error)

	// SaveQueueData upserts the entry and all given signatures atomically
	SaveQueueData(data *types.MultisigQueueData) error
	UpsertQueue(entry *types.MultisigQueueEntry) error
	GetQueue(id string) (*types.MultisigQueueEntry, error)
	GetQueueData(id string) (*types.MultisigQueueData, error)
	ListQueuesByAccount(accountID string) ([]*types.MultisigQueueEntry, error)
	ListQueuesByStatus(statuses ...types.QueueStatus) ([]*types.MultisigQueueEntry, error)

	UpsertSignature(sig *types.MultisigSignature) error
	GetSignature(queueID, address string) (*types.MultisigSignature, error)
	GetSignatures(queueID string) ([]*types.MultisigSignature, error)

	Close() error
}
