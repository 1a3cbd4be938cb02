package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/types"
)

type ExecuteRequest struct {
	Password string `json:"password"`
	// Fee is passed to the adapter, chain specific
	Fee string `json:"fee"`
	// Executor pays the network fee, defaults to the lowest self member
	Executor string `json:"executor"`
}

func (c *Coordinator) tryStart(queueID string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, busy := c.inflight[queueID]; busy {
		return false
	}
	c.inflight[queueID] = struct{}{}
	return true
}

func (c *Coordinator) finish(queueID string) {
	c.inflightMu.Lock()
	delete(c.inflight, queueID)
	c.inflightMu.Unlock()
}

// validateExecutable checks, in order, expiry, an earlier submission, failure
// and the signable state.
func (c *Coordinator) validateExecutable(q *types.MultisigQueueEntry) error {
	if q.Status.IsOpen() && q.IsExpired(c.now()) || q.Status == types.QueueExpired {
		return errors.Validation(errors.ErrCodeExpired, errors.ErrMsgExpired).WithQueue(q.ID)
	}
	switch q.Status {
	case types.QueueSubmitted, types.QueueSuccess:
		return errors.Conflict(errors.ErrCodeAlreadySubmitted, errors.ErrMsgAlreadySubmitted).WithQueue(q.ID)
	case types.QueueFailed:
		return errors.Validation(errors.ErrCodeInvalidStatus, "multisig transaction failed on chain").WithQueue(q.ID)
	case types.QueueCanceled:
		return errors.Validation(errors.ErrCodeCanceled, "multisig transaction has been canceled").WithQueue(q.ID)
	case types.QueueSignable:
		return nil
	}
	return errors.Validation(errors.ErrCodeInvalidStatus, "multisig transaction does not have enough signatures").WithQueue(q.ID)
}

// Execute assembles the collected signatures and broadcasts the transaction.
// Only one broadcast per queue id runs at a time; a failed broadcast leaves
// the entry Signable with fail_reason set to the error code.
func (c *Coordinator) Execute(ctx context.Context, queueID string, req *ExecuteRequest) (*types.MultisigQueueData, error) {
	if !c.tryStart(queueID) {
		return nil, errors.Conflict(errors.ErrCodeAlreadySubmitted, errors.ErrMsgAlreadySubmitted).WithQueue(queueID)
	}
	defer c.finish(queueID)

	data, err := c.load(queueID)
	if err != nil {
		return nil, err
	}
	if err := c.validateExecutable(data.Queue); err != nil {
		return nil, err
	}
	account, err := c.loadAccount(data.Queue.AccountID)
	if err != nil {
		return nil, err
	}
	acc := account.Account
	adapter, err := c.adapter(acc.ChainCode)
	if err != nil {
		return nil, err
	}

	executor := req.Executor
	if executor == "" {
		if self := account.SelfMembers(); len(self) > 0 {
			executor = self[0].Address
		}
	}
	if executor == "" || !c.keys.Controls(acc.ChainCode, executor) {
		return nil, errors.Validation(errors.ErrCodeNotMember, errors.ErrMsgNotMember).WithQueue(queueID)
	}
	key, err := c.keys.GetPrivateKey(executor, acc.ChainCode, req.Password)
	if err != nil {
		return nil, err
	}

	sigs := make([]*types.MultisigSignature, 0, len(data.Signatures))
	for _, s := range data.Signatures {
		sigs = append(sigs, s.Clone())
	}
	types.SortSignaturesByAddress(sigs)

	logx.Info("QUEUE", fmt.Sprintf("Executing | queue=%s | account=%s | chain=%s | confirmed=%d/%d",
		queueID, acc.ID, acc.ChainCode, data.ConfirmedCount(), acc.Threshold))
	started := time.Now()
	txHash, execErr := adapter.ExecuteMultisigTx(ctx, acc, account.Members, data.Queue, sigs, key, req.Fee)
	if execErr != nil {
		monitoring.RecordExecution(acc.ChainCode.String(), string(errors.CodeOf(execErr)), time.Since(started))
		logx.Error("QUEUE", fmt.Sprintf("Execute failed | queue=%s | code=%s | err=%v", queueID, errors.CodeOf(execErr), execErr))
		c.recordFailure(queueID, string(errors.CodeOf(execErr)))
		if e, ok := errors.As(execErr); ok {
			return nil, e.WithQueue(queueID)
		}
		return nil, errors.Internal(execErr).WithQueue(queueID)
	}
	monitoring.RecordExecution(acc.ChainCode.String(), "submitted", time.Since(started))

	c.locker.Lock(c.lockName(queueID))
	stored, err := c.load(queueID)
	if err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return nil, err
	}
	previous := stored.Queue.Status
	entry, _ := types.MergeQueue(stored.Queue, &types.MultisigQueueEntry{
		ID:     queueID,
		Status: types.QueueSubmitted,
		TxHash: txHash,
	})
	stored.Queue = entry
	if err := c.save(stored); err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return nil, err
	}
	c.locker.Unlock(c.lockName(queueID))

	logx.Info("QUEUE", fmt.Sprintf("Submitted | queue=%s | tx_hash=%s", queueID, txHash))
	c.publishTransition(stored, previous)
	c.mirror(ctx, stored)
	c.sendExecuted(ctx, stored.Queue)
	return stored, nil
}

func (c *Coordinator) recordFailure(queueID, reason string) {
	c.locker.Lock(c.lockName(queueID))
	defer c.locker.Unlock(c.lockName(queueID))
	data, err := c.load(queueID)
	if err != nil {
		return
	}
	data.Queue.FailReason = reason
	if err := c.save(data); err != nil {
		logx.Error("QUEUE", fmt.Sprintf("Failed to record fail reason | queue=%s | err=%v", queueID, err))
	}
}

// Cancel withdraws an entry that has not been submitted.
func (c *Coordinator) Cancel(ctx context.Context, queueID string) (*types.MultisigQueueData, error) {
	data, changed, err := c.close(queueID, types.QueueCanceled, "")
	if err != nil {
		return nil, err
	}
	if changed {
		c.mirror(ctx, data)
		c.sendExecuted(ctx, data.Queue)
	}
	return data, nil
}

// close moves an open entry to a local terminal status.
func (c *Coordinator) close(queueID string, status types.QueueStatus, reason string) (*types.MultisigQueueData, bool, error) {
	c.locker.Lock(c.lockName(queueID))
	data, err := c.load(queueID)
	if err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return nil, false, err
	}
	previous := data.Queue.Status
	if previous == status {
		c.locker.Unlock(c.lockName(queueID))
		return data, false, nil
	}
	if !previous.IsOpen() {
		c.locker.Unlock(c.lockName(queueID))
		return nil, false, errors.Validationf(errors.ErrCodeInvalidStatus, "multisig transaction is %s", previous).WithQueue(queueID)
	}
	data.Queue.Status = status
	data.Queue.FailReason = reason
	if err := c.save(data); err != nil {
		c.locker.Unlock(c.lockName(queueID))
		return nil, false, err
	}
	c.locker.Unlock(c.lockName(queueID))
	c.publishTransition(data, previous)
	return data, true, nil
}

// CancelForAccount cancels every open entry of an account.
func (c *Coordinator) CancelForAccount(ctx context.Context, accountID string) (int, error) {
	entries, err := c.ListQueues(accountID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, q := range entries {
		if !q.Status.IsOpen() {
			continue
		}
		if c.isInflight(q.ID) {
			logx.Warn("QUEUE", fmt.Sprintf("Skipping cancel of entry being executed | queue=%s", q.ID))
			continue
		}
		if _, changed, err := c.close(q.ID, types.QueueCanceled, ""); err != nil {
			logx.Warn("QUEUE", fmt.Sprintf("Failed to cancel | queue=%s | err=%v", q.ID, err))
			continue
		} else if changed {
			n++
		}
	}
	return n, nil
}

func (c *Coordinator) isInflight(queueID string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	_, busy := c.inflight[queueID]
	return busy
}

// ApplyExecuted records a status change reported by another member.
func (c *Coordinator) ApplyExecuted(ctx context.Context, msg *types.QueueExecuted) (*types.MultisigQueueData, error) {
	if msg == nil || msg.QueueID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "execution report without queue id")
	}
	if !msg.Status.IsValid() {
		return nil, errors.Validationf(errors.ErrCodeInvalidStatus, "unknown queue status %d", msg.Status).WithQueue(msg.QueueID)
	}
	c.locker.Lock(c.lockName(msg.QueueID))
	data, err := c.load(msg.QueueID)
	if err != nil {
		c.locker.Unlock(c.lockName(msg.QueueID))
		return nil, err
	}
	previous := data.Queue.Status
	entry, changed := types.MergeQueue(data.Queue, &types.MultisigQueueEntry{
		ID:         msg.QueueID,
		Status:     msg.Status,
		TxHash:     msg.TxHash,
		FailReason: msg.FailReason,
	})
	data.Queue = entry
	if changed {
		if err := c.save(data); err != nil {
			c.locker.Unlock(c.lockName(msg.QueueID))
			return nil, err
		}
	}
	c.locker.Unlock(c.lockName(msg.QueueID))
	c.publishTransition(data, previous)
	return data, nil
}
