package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/keystore"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/namedlocker"
	"github.com/mezonai/msig/store"
	"github.com/mezonai/msig/types"
)

// DefaultExpirationHours applies when a proposal does not set one.
const DefaultExpirationHours = 24

type Options struct {
	Store     store.MultisigStore
	Chains    *chain.Registry
	Keystore  keystore.Keystore
	Messenger messaging.Messenger
	Backend   backend.Client
	Events    events.Publisher
	UIDs      []string
}

// Coordinator drives multisig transactions from proposal to the chain.
type Coordinator struct {
	store     store.MultisigStore
	chains    *chain.Registry
	keys      keystore.Keystore
	messenger messaging.Messenger
	backend   backend.Client
	events    events.Publisher
	uids      []string

	locker *namedlocker.NamedLocker

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	now func() time.Time
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Chains == nil || opts.Keystore == nil || opts.Messenger == nil {
		return nil, fmt.Errorf("queue coordinator needs a store, chains, a keystore and a messenger")
	}
	if len(opts.UIDs) == 0 {
		return nil, fmt.Errorf("queue coordinator needs at least one local uid")
	}
	pub := opts.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Coordinator{
		store:     opts.Store,
		chains:    opts.Chains,
		keys:      opts.Keystore,
		messenger: opts.Messenger,
		backend:   opts.Backend,
		events:    pub,
		uids:      append([]string(nil), opts.UIDs...),
		locker:    namedlocker.NewNamedLocker(),
		inflight:  make(map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Coordinator) uid() string { return c.uids[0] }

func (c *Coordinator) lockName(id string) string { return "queue:" + id }

func (c *Coordinator) loadAccount(id string) (*types.MultisigAccountData, error) {
	data, err := c.store.GetAccountData(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound(errors.ErrCodeAccountNotFound, errors.ErrMsgAccountNotFound).WithAccount(id)
		}
		return nil, errors.Internal(err).WithAccount(id)
	}
	return data, nil
}

func (c *Coordinator) load(id string) (*types.MultisigQueueData, error) {
	data, err := c.store.GetQueueData(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound(errors.ErrCodeQueueNotFound, errors.ErrMsgQueueNotFound).WithQueue(id)
		}
		return nil, errors.Internal(err).WithQueue(id)
	}
	return data, nil
}

func (c *Coordinator) adapter(code types.ChainCode) (chain.Adapter, error) {
	adapter, err := c.chains.Get(code)
	if err != nil {
		return nil, errors.Validation(errors.ErrCodeUnknownChain, errors.ErrMsgUnknownChain).WithChain(code.String())
	}
	return adapter, nil
}

func (c *Coordinator) save(data *types.MultisigQueueData) error {
	data.Queue.UpdatedAt = c.now()
	if err := c.store.SaveQueueData(data); err != nil {
		return errors.Internal(err).WithQueue(data.Queue.ID)
	}
	return nil
}

// evaluate flips PendingSignature to Signable once enough members confirmed.
// It never executes.
func evaluate(data *types.MultisigQueueData, threshold int) bool {
	if data.Queue.Status == types.QueuePendingSignature && data.ConfirmedCount() >= threshold {
		data.Queue.Status = types.QueueSignable
		return true
	}
	return false
}

// ensureRows adds an Unconfirmed signature row for every member without one.
func (c *Coordinator) ensureRows(data *types.MultisigQueueData, members []*types.MultisigMember) {
	for _, m := range members {
		if data.Signature(m.Address) != nil {
			continue
		}
		data.Signatures = append(data.Signatures, &types.MultisigSignature{
			QueueID:   data.Queue.ID,
			Address:   m.Address,
			Status:    types.SignatureUnconfirmed,
			CreatedAt: c.now(),
			UpdatedAt: c.now(),
		})
	}
	types.SortSignaturesByAddress(data.Signatures)
}

func (c *Coordinator) publishTransition(data *types.MultisigQueueData, previous types.QueueStatus) {
	if data.Queue.Status == previous {
		return
	}
	monitoring.RecordQueueTransition(data.Queue.Status.String())
	c.events.Publish(events.NewQueueStatusChanged(data.Queue, previous))
	logx.Info("QUEUE", fmt.Sprintf("Status changed | queue=%s | account=%s | from=%s | to=%s",
		data.Queue.ID, data.Queue.AccountID, previous, data.Queue.Status))
}

func (c *Coordinator) peers(accountID string) []string {
	account, err := c.loadAccount(accountID)
	if err != nil {
		return nil
	}
	return account.PeerUIDs(c.uids)
}

func (c *Coordinator) send(ctx context.Context, accountID string, msgType types.MessageType, payload interface{}) {
	peers := c.peers(accountID)
	if len(peers) == 0 {
		return
	}
	if err := messaging.SendPayload(ctx, c.messenger, peers, msgType, c.uid(), payload); err != nil {
		logx.Warn("QUEUE", fmt.Sprintf("Failed to send %s | account=%s | err=%v", msgType, accountID, err))
	}
}

func (c *Coordinator) sendProposal(ctx context.Context, data *types.MultisigQueueData) {
	c.send(ctx, data.Queue.AccountID, types.MsgQueueProposal, types.NewQueueProposal(data))
}

func (c *Coordinator) sendExecuted(ctx context.Context, q *types.MultisigQueueEntry) {
	c.send(ctx, q.AccountID, types.MsgQueueExecuted, &types.QueueExecuted{
		QueueID:    q.ID,
		Status:     q.Status,
		TxHash:     q.TxHash,
		FailReason: q.FailReason,
	})
}

func (c *Coordinator) mirror(ctx context.Context, data *types.MultisigQueueData) {
	if c.backend == nil {
		return
	}
	if err := c.backend.SaveQueue(ctx, data); err != nil {
		logx.Warn("QUEUE", fmt.Sprintf("Failed to mirror queue | queue=%s | err=%v", data.Queue.ID, err))
	}
}

func (c *Coordinator) GetQueue(id string) (*types.MultisigQueueData, error) {
	return c.load(id)
}

func (c *Coordinator) ListQueues(accountID string) ([]*types.MultisigQueueEntry, error) {
	entries, err := c.store.ListQueuesByAccount(accountID)
	if err != nil {
		return nil, errors.Internal(err).WithAccount(accountID)
	}
	return entries, nil
}

func (c *Coordinator) ListQueuesByStatus(statuses ...types.QueueStatus) ([]*types.MultisigQueueEntry, error) {
	entries, err := c.store.ListQueuesByStatus(statuses...)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return entries, nil
}

// EvaluateThreshold re-checks the signature count of a queue entry.
func (c *Coordinator) EvaluateThreshold(ctx context.Context, queueID string) (types.QueueStatus, error) {
	c.locker.Lock(c.lockName(queueID))
	data, err := c.load(queueID)
	if err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return 0, err
	}
	account, err := c.loadAccount(data.Queue.AccountID)
	if err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return 0, err
	}
	previous := data.Queue.Status
	if evaluate(data, account.Account.Threshold) {
		if err := c.save(data); err != nil {
			c.locker.Unlock(c.lockName(queueID))
			return 0, err
		}
	}
	c.locker.Unlock(c.lockName(queueID))
	c.publishTransition(data, previous)
	return data.Queue.Status, nil
}

// apply merges incoming into the stored entry by confidence and re-evaluates
// the threshold. origin labels the merge in metrics.
func (c *Coordinator) apply(ctx context.Context, incoming *types.MultisigQueueData, origin string) (*types.MultisigQueueData, error) {
	q := incoming.Queue
	account, err := c.loadAccount(q.AccountID)
	if err != nil {
		return nil, err
	}

	c.locker.Lock(c.lockName(q.ID))
	stored, err := c.load(q.ID)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		c.locker.Unlock(c.lockName(q.ID))
		return nil, err
	}

	var (
		merged   *types.MultisigQueueData
		previous types.QueueStatus
		created  bool
		changed  bool
		sigs     []*types.MultisigSignature
	)
	if stored == nil {
		entry, _ := types.MergeQueue(nil, q)
		entry.ChainCode = account.Account.ChainCode
		merged = &types.MultisigQueueData{Queue: entry}
		previous, created, changed = entry.Status, true, true
	} else {
		merged = stored
		previous = stored.Queue.Status
		entry, queueChanged := types.MergeQueue(stored.Queue, q)
		merged.Queue = entry
		changed = queueChanged
	}

	for _, in := range incoming.Signatures {
		if account.Member(in.Address) == nil {
			logx.Warn("QUEUE", fmt.Sprintf("Ignoring signature of non member | queue=%s | address=%s", q.ID, in.Address))
			continue
		}
		if in.Status == types.SignatureConfirmed && in.Signature == "" {
			logx.Warn("QUEUE", fmt.Sprintf("Ignoring confirmed signature without data | queue=%s | address=%s", q.ID, in.Address))
			continue
		}
		in.QueueID = q.ID
		current := merged.Signature(in.Address)
		next, sigChanged := types.MergeSignature(current, in)
		monitoring.RecordSignatureMerge(origin, sigChanged)
		if !sigChanged {
			continue
		}
		if current == nil {
			merged.Signatures = append(merged.Signatures, next)
		} else {
			*current = *next
		}
		if next.Status != types.SignatureUnconfirmed {
			sigs = append(sigs, next.Clone())
		}
		changed = true
	}
	c.ensureRows(merged, account.Members)
	if evaluate(merged, account.Account.Threshold) {
		changed = true
	}

	if changed || created {
		if err := c.save(merged); err != nil {
			c.locker.Unlock(c.lockName(q.ID))
			return nil, err
		}
	}
	c.locker.Unlock(c.lockName(q.ID))

	if created {
		logx.Info("QUEUE", fmt.Sprintf("Queue entry received | queue=%s | account=%s | status=%s", q.ID, q.AccountID, merged.Queue.Status))
		c.events.Publish(events.NewQueueCreated(merged.Queue))
	} else {
		c.publishTransition(merged, previous)
	}
	for _, s := range sigs {
		c.events.Publish(events.NewSignatureMerged(q.AccountID, s))
	}
	return merged, nil
}
