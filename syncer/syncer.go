// Package syncer applies state-change messages from other members' wallets.
//
// Every message is applied through the account registry or the queue
// coordinator, which merge by confidence, so a message may arrive any number
// of times and in any order. A message that references an account or queue
// entry this wallet has never seen triggers a recovery pull from the backend
// before it is retried once.
package syncer

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/ratelimit"
	"github.com/mezonai/msig/types"
)

const DefaultCacheSize = 4096

// Accounts is the part of the account registry the syncer drives.
type Accounts interface {
	ReceiveAccountInvite(ctx context.Context, invite *types.AccountInvite) (*types.MultisigAccountData, error)
	ApplyConfirmComplete(ctx context.Context, msg *types.AccountConfirmComplete) (*types.MultisigAccountData, error)
	ApplyDeployed(ctx context.Context, msg *types.AccountDeployedPayload) (*types.MultisigAccountData, error)
	ApplyCanceled(ctx context.Context, msg *types.AccountCanceledPayload) (*types.MultisigAccountData, error)
	RestoreAccount(ctx context.Context, data *types.MultisigAccountData) (*types.MultisigAccountData, error)
}

// Queues is the part of the queue coordinator the syncer drives.
type Queues interface {
	ReceiveProposal(ctx context.Context, p *types.QueueProposal) (*types.MultisigQueueData, error)
	ApplyExecuted(ctx context.Context, msg *types.QueueExecuted) (*types.MultisigQueueData, error)
	RestoreQueue(ctx context.Context, data *types.MultisigQueueData) (*types.MultisigQueueData, error)
}

type Options struct {
	Accounts Accounts
	Queues   Queues
	// Backend serves recovery pulls; without it unknown ids are dropped
	Backend   backend.Client
	UIDs      []string
	CacheSize int
	// RecoveryLimit caps the recovery pulls one sender can trigger, zero disables it
	RecoveryLimit ratelimit.Config
}

type Syncer struct {
	accounts Accounts
	queues   Queues
	backend  backend.Client
	uids     []string

	applied *lru.Cache
	pulls   singleflight.Group
	limiter *ratelimit.RateLimiter
}

func New(opts Options) (*Syncer, error) {
	if opts.Accounts == nil || opts.Queues == nil {
		return nil, fmt.Errorf("syncer needs the account registry and the queue coordinator")
	}
	if len(opts.UIDs) == 0 {
		return nil, fmt.Errorf("syncer needs at least one local uid")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	applied, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create applied message cache: %w", err)
	}
	var limiter *ratelimit.RateLimiter
	if opts.RecoveryLimit.MaxRequests > 0 {
		if limiter, err = ratelimit.NewRateLimiter(opts.RecoveryLimit); err != nil {
			return nil, err
		}
	}
	return &Syncer{
		accounts: opts.Accounts,
		queues:   opts.Queues,
		backend:  opts.Backend,
		uids:     append([]string(nil), opts.UIDs...),
		applied:  applied,
		limiter:  limiter,
	}, nil
}

// Run subscribes the local uids on transport and applies inbound messages
// until ctx is done.
func (s *Syncer) Run(ctx context.Context, transport messaging.Transport) error {
	if err := transport.Subscribe(ctx, s.uids, s.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe %v: %w", s.uids, err)
	}
	logx.Info("SYNC", fmt.Sprintf("Listening | uids=%v", s.uids))
	<-ctx.Done()
	logx.Info("SYNC", "Stopped listening")
	return nil
}

// HandleMessage is a messaging.Handler; failures are logged.
func (s *Syncer) HandleMessage(ctx context.Context, msg *types.SyncMessage) {
	_ = s.Handle(ctx, msg)
}

// Handle applies one message. It returns the error that made the message be
// dropped, or nil when it was applied or had been applied before.
func (s *Syncer) Handle(ctx context.Context, msg *types.SyncMessage) error {
	if msg == nil || msg.ID == "" {
		logx.Warn("SYNC", "Dropping message without id")
		return errors.Validation(errors.ErrCodeInvalidPayload, "message without id")
	}
	msgType := string(msg.Type)
	if s.applied.Contains(msg.ID) {
		monitoring.RecordMessageApplied(msgType, monitoring.ApplyDuplicate)
		logx.Debug("SYNC", fmt.Sprintf("Duplicate message | id=%s | type=%s", msg.ID, msg.Type))
		return nil
	}

	err := s.dispatch(ctx, msg)
	result := monitoring.ApplyApplied
	if errors.IsKind(err, errors.KindNotFound) {
		if recovered := s.recover(ctx, msg, err); recovered {
			err = s.dispatch(ctx, msg)
			result = monitoring.ApplyRecovered
		}
		if errors.IsKind(err, errors.KindNotFound) {
			monitoring.RecordMessageApplied(msgType, monitoring.ApplyDropped)
			logx.Warn("SYNC", fmt.Sprintf("Dropping message for unknown state | id=%s | type=%s | from=%s | err=%v",
				msg.ID, msg.Type, msg.FromUID, err))
			return err
		}
	}
	if err != nil {
		monitoring.RecordMessageApplied(msgType, monitoring.ApplyFailed)
		logx.Error("SYNC", fmt.Sprintf("Failed to apply message | id=%s | type=%s | from=%s | err=%v",
			msg.ID, msg.Type, msg.FromUID, err))
		return err
	}

	s.applied.Add(msg.ID, struct{}{})
	monitoring.RecordMessageApplied(msgType, result)
	logx.Debug("SYNC", fmt.Sprintf("Applied message | id=%s | type=%s | from=%s | result=%s", msg.ID, msg.Type, msg.FromUID, result))
	return nil
}

func decode(msg *types.SyncMessage, v interface{}) error {
	if err := msg.Decode(v); err != nil {
		return errors.Wrap(err, errors.KindValidation, errors.ErrCodeInvalidPayload, fmt.Sprintf("malformed %s payload", msg.Type))
	}
	return nil
}

func (s *Syncer) dispatch(ctx context.Context, msg *types.SyncMessage) error {
	var err error
	switch msg.Type {
	case types.MsgAccountInvite:
		var p types.AccountInvite
		if err = decode(msg, &p); err == nil {
			_, err = s.accounts.ReceiveAccountInvite(ctx, &p)
		}
	case types.MsgAccountConfirmComplete:
		var p types.AccountConfirmComplete
		if err = decode(msg, &p); err == nil {
			_, err = s.accounts.ApplyConfirmComplete(ctx, &p)
		}
	case types.MsgAccountDeployed:
		var p types.AccountDeployedPayload
		if err = decode(msg, &p); err == nil {
			_, err = s.accounts.ApplyDeployed(ctx, &p)
		}
	case types.MsgAccountCanceled:
		var p types.AccountCanceledPayload
		if err = decode(msg, &p); err == nil {
			_, err = s.accounts.ApplyCanceled(ctx, &p)
		}
	case types.MsgQueueProposal:
		var p types.QueueProposal
		if err = decode(msg, &p); err == nil {
			_, err = s.queues.ReceiveProposal(ctx, &p)
		}
	case types.MsgQueueExecuted:
		var p types.QueueExecuted
		if err = decode(msg, &p); err == nil {
			_, err = s.queues.ApplyExecuted(ctx, &p)
		}
	default:
		err = errors.Validationf(errors.ErrCodeInvalidPayload, "unknown message type %q", msg.Type)
	}
	return err
}

// recover pulls whatever cause says is missing. It reports whether anything
// was restored.
func (s *Syncer) recover(ctx context.Context, msg *types.SyncMessage, cause error) bool {
	if s.backend == nil {
		return false
	}
	e, _ := errors.As(cause)
	if e == nil {
		return false
	}
	var pull func(ctx context.Context, id string) (int, error)
	var id string
	switch e.Code {
	case errors.ErrCodeAccountNotFound:
		pull, id = s.RecoverAccount, e.AccountID
	case errors.ErrCodeQueueNotFound:
		pull, id = s.RecoverQueue, e.QueueID
	}
	if pull == nil || id == "" {
		logx.Debug("SYNC", fmt.Sprintf("No recovery for %s | id=%s | code=%s", msg.Type, msg.ID, e.Code))
		return false
	}
	if !s.limiter.Allow(msg.FromUID) {
		monitoring.RecordRecoveryPull("sender", "limited")
		logx.Warn("SYNC", fmt.Sprintf("Recovery refused | id=%s | %v", msg.ID, ratelimit.NewRateLimitError("sender", msg.FromUID)))
		return false
	}
	n, _ := pull(ctx, id)
	return n > 0
}

// RecoverAccount pulls one account from the backend and restores it.
// Concurrent pulls for the same id share one request.
func (s *Syncer) RecoverAccount(ctx context.Context, id string) (int, error) {
	if s.backend == nil {
		return 0, errors.NotFound(errors.ErrCodeAccountNotFound, errors.ErrMsgAccountNotFound).WithAccount(id)
	}
	v, err, shared := s.pulls.Do("account:"+id, func() (interface{}, error) {
		found, err := s.backend.RecoverAccounts(ctx, s.uids, id)
		if err != nil {
			monitoring.RecordRecoveryPull("account", "error")
			return 0, err
		}
		n := 0
		for _, data := range found {
			if _, err := s.accounts.RestoreAccount(ctx, data); err != nil {
				logx.Warn("SYNC", fmt.Sprintf("Failed to restore account | account=%s | err=%v", id, err))
				continue
			}
			n++
		}
		outcome := "found"
		if n == 0 {
			outcome = "empty"
		}
		monitoring.RecordRecoveryPull("account", outcome)
		logx.Info("SYNC", fmt.Sprintf("Recovery pull | account=%s | restored=%d", id, n))
		return n, nil
	})
	if err != nil {
		logx.Warn("SYNC", fmt.Sprintf("Recovery pull failed | account=%s | shared=%v | err=%v", id, shared, err))
		return 0, err
	}
	return v.(int), nil
}

// RecoverQueue pulls one queue entry from the backend, recovering its
// account first when that is missing too.
func (s *Syncer) RecoverQueue(ctx context.Context, id string) (int, error) {
	if s.backend == nil {
		return 0, errors.NotFound(errors.ErrCodeQueueNotFound, errors.ErrMsgQueueNotFound).WithQueue(id)
	}
	v, err, shared := s.pulls.Do("queue:"+id, func() (interface{}, error) {
		found, err := s.backend.RecoverQueues(ctx, s.uids, id)
		if err != nil {
			monitoring.RecordRecoveryPull("queue", "error")
			return 0, err
		}
		n := 0
		for _, data := range found {
			_, err := s.queues.RestoreQueue(ctx, data)
			if errors.IsKind(err, errors.KindNotFound) && data.Queue != nil {
				if restored, _ := s.RecoverAccount(ctx, data.Queue.AccountID); restored > 0 {
					_, err = s.queues.RestoreQueue(ctx, data)
				}
			}
			if err != nil {
				logx.Warn("SYNC", fmt.Sprintf("Failed to restore queue | queue=%s | err=%v", id, err))
				continue
			}
			n++
		}
		outcome := "found"
		if n == 0 {
			outcome = "empty"
		}
		monitoring.RecordRecoveryPull("queue", outcome)
		logx.Info("SYNC", fmt.Sprintf("Recovery pull | queue=%s | restored=%d", id, n))
		return n, nil
	})
	if err != nil {
		logx.Warn("SYNC", fmt.Sprintf("Recovery pull failed | queue=%s | shared=%v | err=%v", id, shared, err))
		return 0, err
	}
	return v.(int), nil
}
