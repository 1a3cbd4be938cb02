package queue

import (
	"context"
	"fmt"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

// pendingSelf returns the self members that have not given a final answer yet.
func pendingSelf(account *types.MultisigAccountData, data *types.MultisigQueueData) []*types.MultisigMember {
	var out []*types.MultisigMember
	for _, m := range account.SelfMembers() {
		if s := data.Signature(m.Address); s == nil || s.Status == types.SignatureUnconfirmed {
			out = append(out, m)
		}
	}
	return out
}

func (c *Coordinator) checkOpen(data *types.MultisigQueueData) error {
	q := data.Queue
	if q.Status.IsOpen() && q.IsExpired(c.now()) {
		return errors.Validation(errors.ErrCodeExpired, errors.ErrMsgExpired).WithQueue(q.ID)
	}
	switch q.Status {
	case types.QueuePendingSignature, types.QueueSignable:
		return nil
	case types.QueueExpired:
		return errors.Validation(errors.ErrCodeExpired, errors.ErrMsgExpired).WithQueue(q.ID)
	case types.QueueCanceled:
		return errors.Validation(errors.ErrCodeCanceled, "multisig transaction has been canceled").WithQueue(q.ID)
	default:
		return errors.Validationf(errors.ErrCodeInvalidStatus, "multisig transaction is %s", q.Status).WithQueue(q.ID)
	}
}

// Sign signs the entry for every self member that has not answered yet.
func (c *Coordinator) Sign(ctx context.Context, queueID, password string) (*types.MultisigQueueData, error) {
	data, err := c.load(queueID)
	if err != nil {
		return nil, err
	}
	if err := c.checkOpen(data); err != nil {
		return nil, err
	}
	account, err := c.loadAccount(data.Queue.AccountID)
	if err != nil {
		return nil, err
	}
	if len(account.SelfMembers()) == 0 {
		return nil, errors.Validation(errors.ErrCodeNotMember, errors.ErrMsgNotMember).WithQueue(queueID)
	}
	todo := pendingSelf(account, data)
	if len(todo) == 0 {
		return data, nil
	}
	adapter, err := c.adapter(account.Account.ChainCode)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var incoming []*types.MultisigSignature
	for _, m := range todo {
		key, err := c.keys.GetPrivateKey(m.Address, account.Account.ChainCode, password)
		if err != nil {
			return nil, err
		}
		sig, err := adapter.SignMultisigTx(ctx, account.Account, m.Address, key, data.Queue.RawData)
		if err != nil {
			logx.Error("QUEUE", fmt.Sprintf("Signing failed | queue=%s | address=%s | err=%v", queueID, m.Address, err))
			if e, ok := errors.As(err); ok {
				return nil, e.WithQueue(queueID)
			}
			return nil, errors.Wrap(err, errors.KindInternal, errors.FailReasonSignFailed, "signing failed").WithQueue(queueID)
		}
		incoming = append(incoming, &types.MultisigSignature{
			QueueID:   queueID,
			Address:   m.Address,
			Signature: sig,
			Status:    types.SignatureConfirmed,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	merged, err := c.apply(ctx, &types.MultisigQueueData{Queue: &types.MultisigQueueEntry{ID: queueID, AccountID: data.Queue.AccountID}, Signatures: incoming}, "local")
	if err != nil {
		return nil, err
	}
	logx.Info("QUEUE", fmt.Sprintf("Signed | queue=%s | signers=%d | confirmed=%d/%d | status=%s",
		queueID, len(incoming), merged.ConfirmedCount(), account.Account.Threshold, merged.Queue.Status))
	c.mirror(ctx, merged)
	c.sendProposal(ctx, merged)
	return merged, nil
}

// Reject records a rejection for every self member that has not answered yet.
func (c *Coordinator) Reject(ctx context.Context, queueID string) (*types.MultisigQueueData, error) {
	data, err := c.load(queueID)
	if err != nil {
		return nil, err
	}
	if err := c.checkOpen(data); err != nil {
		return nil, err
	}
	account, err := c.loadAccount(data.Queue.AccountID)
	if err != nil {
		return nil, err
	}
	if len(account.SelfMembers()) == 0 {
		return nil, errors.Validation(errors.ErrCodeNotMember, errors.ErrMsgNotMember).WithQueue(queueID)
	}
	todo := pendingSelf(account, data)
	if len(todo) == 0 {
		return data, nil
	}

	now := c.now()
	var incoming []*types.MultisigSignature
	for _, m := range todo {
		incoming = append(incoming, &types.MultisigSignature{
			QueueID:   queueID,
			Address:   m.Address,
			Status:    types.SignatureRejected,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	merged, err := c.apply(ctx, &types.MultisigQueueData{Queue: &types.MultisigQueueEntry{ID: queueID, AccountID: data.Queue.AccountID}, Signatures: incoming}, "local")
	if err != nil {
		return nil, err
	}
	logx.Info("QUEUE", fmt.Sprintf("Rejected | queue=%s | signers=%d", queueID, len(incoming)))
	c.mirror(ctx, merged)
	c.sendProposal(ctx, merged)
	return merged, nil
}
