package queue

import (
	"context"
	"fmt"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/types"
)

// ExpireSweep expires open entries past their expiration.
func (c *Coordinator) ExpireSweep(ctx context.Context) (int, error) {
	entries, err := c.ListQueuesByStatus(types.QueuePendingSignature, types.QueueSignable)
	if err != nil {
		return 0, err
	}
	now := c.now()
	n := 0
	for _, q := range entries {
		if ctx.Err() != nil {
			break
		}
		if !q.IsExpired(now) || c.isInflight(q.ID) {
			continue
		}
		_, changed, err := c.close(q.ID, types.QueueExpired, errors.FailReasonExpired)
		if err != nil {
			// raced with an execute or a remote update
			logx.Debug("QUEUE", fmt.Sprintf("Skip expiring | queue=%s | err=%v", q.ID, err))
			continue
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		monitoring.AddExpiredEntries(n)
		logx.Info("QUEUE", fmt.Sprintf("Expired entries | count=%d", n))
	}
	return n, nil
}

// PollSubmitted promotes Submitted entries to Success or Failed once the
// chain reports a result.
func (c *Coordinator) PollSubmitted(ctx context.Context) (int, error) {
	entries, err := c.ListQueuesByStatus(types.QueueSubmitted)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, q := range entries {
		if ctx.Err() != nil {
			break
		}
		if q.TxHash == "" {
			continue
		}
		adapter, err := c.adapter(q.ChainCode)
		if err != nil {
			logx.Warn("QUEUE", fmt.Sprintf("No adapter for submitted entry | queue=%s | chain=%s", q.ID, q.ChainCode))
			continue
		}
		res, err := adapter.QueryTxResult(ctx, q.TxHash)
		if err != nil {
			logx.Warn("QUEUE", fmt.Sprintf("Result query failed | queue=%s | tx_hash=%s | err=%v", q.ID, q.TxHash, err))
			continue
		}
		var status types.QueueStatus
		reason := ""
		switch res.Status {
		case chain.TxSuccess:
			status = types.QueueSuccess
		case chain.TxFailed:
			status = types.QueueFailed
			reason = res.Reason
			if reason == "" {
				reason = errors.ErrCodeChainRejected
			}
		default:
			continue
		}

		data, err := c.ApplyExecuted(ctx, &types.QueueExecuted{QueueID: q.ID, Status: status, TxHash: q.TxHash, FailReason: reason})
		if err != nil {
			logx.Error("QUEUE", fmt.Sprintf("Failed to record result | queue=%s | err=%v", q.ID, err))
			continue
		}
		n++
		c.mirror(ctx, data)
		c.sendExecuted(ctx, data.Queue)
	}
	return n, nil
}

// RetryPending re-sends the proposals of open entries this wallet has
// answered, covering messages lost while peers were offline.
func (c *Coordinator) RetryPending(ctx context.Context) (int, error) {
	entries, err := c.ListQueuesByStatus(types.QueuePendingSignature, types.QueueSignable)
	if err != nil {
		return 0, err
	}
	now := c.now()
	n := 0
	for _, q := range entries {
		if ctx.Err() != nil {
			break
		}
		if q.IsExpired(now) {
			continue
		}
		data, err := c.load(q.ID)
		if err != nil {
			continue
		}
		account, err := c.loadAccount(q.AccountID)
		if err != nil {
			continue
		}
		answered := false
		for _, m := range account.SelfMembers() {
			if s := data.Signature(m.Address); s != nil && s.Status != types.SignatureUnconfirmed {
				answered = true
				break
			}
		}
		if !answered {
			continue
		}
		c.sendProposal(ctx, data)
		n++
	}
	if n > 0 {
		logx.Debug("QUEUE", fmt.Sprintf("Re-sent proposals | count=%d", n))
	}
	return n, nil
}
