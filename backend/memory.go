package backend

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
)

// Memory is an in-process Client. Saved data is visible to every uid.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*types.MultisigAccountData
	queues   map[string]*types.MultisigQueueData
	fees     map[types.ChainCode]*ServiceFee
	deposits map[types.ChainCode]*DepositAddress

	// AccountPulls and QueuePulls count recovery calls
	AccountPulls *atomic.Int32
	QueuePulls   *atomic.Int32
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]*types.MultisigAccountData),
		queues:       make(map[string]*types.MultisigQueueData),
		fees:         make(map[types.ChainCode]*ServiceFee),
		deposits:     make(map[types.ChainCode]*DepositAddress),
		AccountPulls: atomic.NewInt32(0),
		QueuePulls:   atomic.NewInt32(0),
	}
}

func (m *Memory) SetServiceFee(code types.ChainCode, fee *ServiceFee) {
	m.mu.Lock()
	m.fees[code] = fee
	m.mu.Unlock()
}

func (m *Memory) SetDepositAddress(code types.ChainCode, addr *DepositAddress) {
	m.mu.Lock()
	m.deposits[code] = addr
	m.mu.Unlock()
}

func (m *Memory) ServiceFee(_ context.Context, code types.ChainCode) (*ServiceFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fee, ok := m.fees[code]; ok {
		return fee, nil
	}
	return nil, errors.NotFound(errors.ErrCodeUnsupported, "no service fee configured").WithChain(code.String())
}

func (m *Memory) DepositAddress(_ context.Context, code types.ChainCode) (*DepositAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if addr, ok := m.deposits[code]; ok {
		return addr, nil
	}
	return nil, errors.NotFound(errors.ErrCodeUnsupported, "no deposit address available").WithChain(code.String())
}

func (m *Memory) RecoverAccounts(_ context.Context, _ []string, id string) ([]*types.MultisigAccountData, error) {
	m.AccountPulls.Inc()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.MultisigAccountData
	for key, data := range m.accounts {
		if id == "" || key == id {
			out = append(out, cloneAccountData(data))
		}
	}
	return out, nil
}

func (m *Memory) RecoverQueues(_ context.Context, _ []string, id string) ([]*types.MultisigQueueData, error) {
	m.QueuePulls.Inc()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.MultisigQueueData
	for key, data := range m.queues {
		if id == "" || key == id {
			out = append(out, cloneQueueData(data))
		}
	}
	return out, nil
}

func (m *Memory) SaveAccount(_ context.Context, data *types.MultisigAccountData) error {
	m.mu.Lock()
	m.accounts[data.Account.ID] = cloneAccountData(data)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveQueue(_ context.Context, data *types.MultisigQueueData) error {
	m.mu.Lock()
	m.queues[data.Queue.ID] = cloneQueueData(data)
	m.mu.Unlock()
	return nil
}

func cloneAccountData(d *types.MultisigAccountData) *types.MultisigAccountData {
	out := &types.MultisigAccountData{Account: d.Account.Clone()}
	for _, m := range d.Members {
		out.Members = append(out.Members, m.Clone())
	}
	return out
}

func cloneQueueData(d *types.MultisigQueueData) *types.MultisigQueueData {
	out := &types.MultisigQueueData{Queue: d.Queue.Clone()}
	for _, s := range d.Signatures {
		out.Signatures = append(out.Signatures, s.Clone())
	}
	return out
}
