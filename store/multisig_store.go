package store

import (
	"fmt"
	"sort"

	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

// GenericMultisigStore implements MultisigStore on any iterable key-value provider.
type GenericMultisigStore struct {
	dbProvider db.IterableProvider
	txManager  *db.DBTxManager
}

func NewGenericMultisigStore(dbProvider db.DatabaseProvider) (*GenericMultisigStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	iterable, ok := dbProvider.(db.IterableProvider)
	if !ok {
		return nil, fmt.Errorf("database provider does not support iteration")
	}

	return &GenericMultisigStore{
		dbProvider: iterable,
		txManager:  db.NewDBTxManager(dbProvider),
	}, nil
}

func (s *GenericMultisigStore) SaveAccountData(data *types.MultisigAccountData) error {
	if data == nil || data.Account == nil {
		return fmt.Errorf("account data cannot be nil")
	}
	return s.txManager.WithBatch("save account", func(batch db.DatabaseBatch) error {
		accData, err := jsonx.Marshal(data.Account)
		if err != nil {
			return fmt.Errorf("failed to marshal multisig account: %w", err)
		}
		batch.Put(accountKey(data.Account.ID), accData)

		for _, m := range data.Members {
			memberData, err := jsonx.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal multisig member: %w", err)
			}
			batch.Put(memberKey(data.Account.ID, types.AddressKey(m.Address)), memberData)
		}
		return nil
	})
}

func (s *GenericMultisigStore) UpsertAccount(account *types.MultisigAccount) error {
	if account == nil {
		return fmt.Errorf("account cannot be nil")
	}
	return s.put(accountKey(account.ID), account)
}

func (s *GenericMultisigStore) GetAccount(id string) (*types.MultisigAccount, error) {
	var account types.MultisigAccount
	if err := s.get(accountKey(id), &account); err != nil {
		return nil, fmt.Errorf("multisig account %s: %w", id, err)
	}
	return &account, nil
}

func (s *GenericMultisigStore) GetAccountData(id string) (*types.MultisigAccountData, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, err
	}
	members, err := s.GetMembers(id)
	if err != nil {
		return nil, err
	}
	return &types.MultisigAccountData{Account: account, Members: members}, nil
}

func (s *GenericMultisigStore) ListAccounts(chain types.ChainCode) ([]*types.MultisigAccount, error) {
	var accounts []*types.MultisigAccount
	err := s.dbProvider.IteratePrefix([]byte(PrefixMultisigAccount), func(key, value []byte) bool {
		var account types.MultisigAccount
		if err := jsonx.Unmarshal(value, &account); err != nil {
			logx.Error("MULTISIG_STORE", "failed to unmarshal multisig account", "key", string(key), "error", err)
			return true
		}
		if chain == "" || account.ChainCode == chain {
			accounts = append(accounts, &account)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate multisig accounts: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (s *GenericMultisigStore) CountAccounts(chain types.ChainCode) (int, error) {
	accounts, err := s.ListAccounts(chain)
	if err != nil {
		return 0, err
	}
	return len(accounts), nil
}

func (s *GenericMultisigStore) UpsertMember(member *types.MultisigMember) error {
	if member == nil {
		return fmt.Errorf("member cannot be nil")
	}
	return s.put(memberKey(member.AccountID, types.AddressKey(member.Address)), member)
}

func (s *GenericMultisigStore) GetMembers(accountID string) ([]*types.MultisigMember, error) {
	var members []*types.MultisigMember
	err := s.dbProvider.IteratePrefix(memberPrefix(accountID), func(key, value []byte) bool {
		var m types.MultisigMember
		if err := jsonx.Unmarshal(value, &m); err != nil {
			logx.Error("MULTISIG_STORE", "failed to unmarshal multisig member", "key", string(key), "error", err)
			return true
		}
		members = append(members, &m)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate members of %s: %w", accountID, err)
	}
	return members, nil
}

func (s *GenericMultisigStore) SaveQueueData(data *types.MultisigQueueData) error {
	if data == nil || data.Queue == nil {
		return fmt.Errorf("queue data cannot be nil")
	}
	q := data.Queue
	return s.txManager.WithBatch("save queue", func(batch db.DatabaseBatch) error {
		queueData, err := jsonx.Marshal(q)
		if err != nil {
			return fmt.Errorf("failed to marshal multisig queue entry: %w", err)
		}
		batch.Put(queueKey(q.ID), queueData)
		batch.Put(queueByAccountKey(q.AccountID, q.ID), []byte{1})

		for _, sig := range data.Signatures {
			sigData, err := jsonx.Marshal(sig)
			if err != nil {
				return fmt.Errorf("failed to marshal multisig signature: %w", err)
			}
			batch.Put(signatureKey(q.ID, types.AddressKey(sig.Address)), sigData)
		}
		return nil
	})
}

func (s *GenericMultisigStore) UpsertQueue(entry *types.MultisigQueueEntry) error {
	if entry == nil {
		return fmt.Errorf("queue entry cannot be nil")
	}
	return s.SaveQueueData(&types.MultisigQueueData{Queue: entry})
}

func (s *GenericMultisigStore) GetQueue(id string) (*types.MultisigQueueEntry, error) {
	var entry types.MultisigQueueEntry
	if err := s.get(queueKey(id), &entry); err != nil {
		return nil, fmt.Errorf("multisig queue %s: %w", id, err)
	}
	return &entry, nil
}

func (s *GenericMultisigStore) GetQueueData(id string) (*types.MultisigQueueData, error) {
	entry, err := s.GetQueue(id)
	if err != nil {
		return nil, err
	}
	sigs, err := s.GetSignatures(id)
	if err != nil {
		return nil, err
	}
	return &types.MultisigQueueData{Queue: entry, Signatures: sigs}, nil
}

func (s *GenericMultisigStore) ListQueuesByAccount(accountID string) ([]*types.MultisigQueueEntry, error) {
	prefix := queueByAccountPrefix(accountID)
	var keys [][]byte
	err := s.dbProvider.IteratePrefix(prefix, func(key, _ []byte) bool {
		keys = append(keys, queueKey(string(key[len(prefix):])))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate queue index of %s: %w", accountID, err)
	}

	values, err := s.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entries of %s: %w", accountID, err)
	}
	entries := make([]*types.MultisigQueueEntry, 0, len(values))
	for _, key := range keys {
		value, ok := values[string(key)]
		if !ok {
			continue
		}
		var entry types.MultisigQueueEntry
		if err := jsonx.Unmarshal(value, &entry); err != nil {
			logx.Error("MULTISIG_STORE", "failed to unmarshal queue entry", "key", string(key), "error", err)
			continue
		}
		entries = append(entries, &entry)
	}
	sortQueues(entries)
	return entries, nil
}

func (s *GenericMultisigStore) ListQueuesByStatus(statuses ...types.QueueStatus) ([]*types.MultisigQueueEntry, error) {
	wanted := make(map[types.QueueStatus]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	var entries []*types.MultisigQueueEntry
	err := s.dbProvider.IteratePrefix([]byte(PrefixMultisigQueue), func(key, value []byte) bool {
		var entry types.MultisigQueueEntry
		if err := jsonx.Unmarshal(value, &entry); err != nil {
			logx.Error("MULTISIG_STORE", "failed to unmarshal queue entry", "key", string(key), "error", err)
			return true
		}
		if _, ok := wanted[entry.Status]; ok || len(wanted) == 0 {
			entries = append(entries, &entry)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	sortQueues(entries)
	return entries, nil
}

func (s *GenericMultisigStore) UpsertSignature(sig *types.MultisigSignature) error {
	if sig == nil {
		return fmt.Errorf("signature cannot be nil")
	}
	return s.put(signatureKey(sig.QueueID, types.AddressKey(sig.Address)), sig)
}

func (s *GenericMultisigStore) GetSignature(queueID, address string) (*types.MultisigSignature, error) {
	var sig types.MultisigSignature
	if err := s.get(signatureKey(queueID, types.AddressKey(address)), &sig); err != nil {
		return nil, fmt.Errorf("signature %s/%s: %w", queueID, address, err)
	}
	return &sig, nil
}

func (s *GenericMultisigStore) GetSignatures(queueID string) ([]*types.MultisigSignature, error) {
	var sigs []*types.MultisigSignature
	err := s.dbProvider.IteratePrefix(signaturePrefix(queueID), func(key, value []byte) bool {
		var sig types.MultisigSignature
		if err := jsonx.Unmarshal(value, &sig); err != nil {
			logx.Error("MULTISIG_STORE", "failed to unmarshal signature", "key", string(key), "error", err)
			return true
		}
		sigs = append(sigs, &sig)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate signatures of %s: %w", queueID, err)
	}
	return sigs, nil
}

func (s *GenericMultisigStore) Close() error {
	return s.dbProvider.Close()
}

func (s *GenericMultisigStore) put(key []byte, v interface{}) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", string(key), err)
	}
	if err := s.dbProvider.Put(key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", string(key), err)
	}
	return nil
}

func (s *GenericMultisigStore) get(key []byte, v interface{}) error {
	data, err := s.dbProvider.Get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	if err := jsonx.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func sortQueues(entries []*types.MultisigQueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
