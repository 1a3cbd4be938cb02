package account

import (
	"context"
	"fmt"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

// ConfirmParticipation confirms every member this wallet controls and tells
// the other members.
func (r *Registry) ConfirmParticipation(ctx context.Context, accountID string) (*types.MultisigAccountData, error) {
	r.locker.Lock(r.lockName(accountID))
	data, err := r.load(accountID)
	if err != nil {
		r.locker.Unlock(r.lockName(accountID))
		return nil, err
	}
	switch data.Account.Status {
	case types.AccountCanceled:
		r.locker.Unlock(r.lockName(accountID))
		return nil, errors.Validation(errors.ErrCodeCanceled, "account has been canceled").WithAccount(accountID)
	case types.AccountDeployed:
		r.locker.Unlock(r.lockName(accountID))
		return data, nil
	}
	if len(data.SelfMembers()) == 0 {
		r.locker.Unlock(r.lockName(accountID))
		return nil, errors.Validation(errors.ErrCodeNotMember, errors.ErrMsgNotMember).WithAccount(accountID)
	}

	previous := data.Account.Status
	accepted, err := r.confirmSelf(data)
	if err != nil {
		r.locker.Unlock(r.lockName(accountID))
		return nil, err
	}
	promote(data)
	if err := r.save(data); err != nil {
		r.locker.Unlock(r.lockName(accountID))
		return nil, err
	}
	r.locker.Unlock(r.lockName(accountID))

	logx.Info("ACCOUNT", fmt.Sprintf("Participation confirmed | account=%s | addresses=%v | confirmed=%d/%d",
		accountID, accepted, data.ConfirmedCount(), len(data.Members)))
	for _, addr := range accepted {
		r.events.Publish(events.NewMemberConfirmed(accountID, addr))
	}
	r.publishTransition(data, previous)
	r.mirror(ctx, data)
	r.send(ctx, data, types.MsgAccountConfirmComplete, types.NewAccountConfirmComplete(data, accepted))

	r.refreshAddress(ctx, accountID)
	return r.load(accountID)
}

// ApplyConfirmComplete merges another wallet's member view.
func (r *Registry) ApplyConfirmComplete(ctx context.Context, msg *types.AccountConfirmComplete) (*types.MultisigAccountData, error) {
	if msg == nil || msg.AccountID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "confirmation without account id")
	}
	incoming := &types.MultisigAccountData{Account: &types.MultisigAccount{ID: msg.AccountID}}
	for _, m := range msg.AddressList {
		incoming.Members = append(incoming.Members, &types.MultisigMember{
			AccountID: msg.AccountID,
			Address:   m.Address,
			Pubkey:    m.Pubkey,
			Confirmed: m.Status == types.MemberStatusConfirmed,
			UID:       m.UID,
		})
	}
	data, err := r.apply(ctx, incoming, false)
	if err != nil {
		return nil, err
	}
	r.refreshAddress(ctx, data.Account.ID)
	return r.load(data.Account.ID)
}

type DeployRequest struct {
	// Fee is passed to the adapter, chain specific
	Fee string `json:"fee"`
	// Payer defaults to the initiator
	Payer    string `json:"payer"`
	Password string `json:"password"`
}

func (r *Registry) startDeploy(id string) bool {
	r.deployMu.Lock()
	defer r.deployMu.Unlock()
	if _, busy := r.deploying[id]; busy {
		return false
	}
	r.deploying[id] = struct{}{}
	return true
}

func (r *Registry) endDeploy(id string) {
	r.deployMu.Lock()
	delete(r.deploying, id)
	r.deployMu.Unlock()
}

// Deploy creates the multisig account on chain. A failed deployment leaves
// the account Confirmed.
func (r *Registry) Deploy(ctx context.Context, accountID string, req *DeployRequest) (*types.MultisigAccountData, error) {
	if !r.startDeploy(accountID) {
		return nil, errors.Conflict(errors.ErrCodeAlreadySubmitted, "account deployment already in progress").WithAccount(accountID)
	}
	defer r.endDeploy(accountID)

	data, err := r.load(accountID)
	if err != nil {
		return nil, err
	}
	acc := data.Account
	if acc.Status != types.AccountConfirmed {
		return nil, errors.Validationf(errors.ErrCodeInvalidStatus, "account is %s, only a confirmed account can be deployed", acc.Status).WithAccount(accountID)
	}
	adapter, err := r.adapter(acc.ChainCode)
	if err != nil {
		return nil, err
	}

	payer := req.Payer
	if payer == "" {
		payer = acc.InitiatorAddr
	}
	if !r.keys.Controls(acc.ChainCode, payer) {
		return nil, errors.Validationf(errors.ErrCodeNotMember, "payer %s is not controlled by this wallet", payer).WithAccount(accountID)
	}
	key, err := r.keys.GetPrivateKey(payer, acc.ChainCode, req.Password)
	if err != nil {
		return nil, err
	}

	logx.Info("ACCOUNT", fmt.Sprintf("Deploying | account=%s | chain=%s | payer=%s", accountID, acc.ChainCode, payer))
	result, err := adapter.DeployMultisigAccount(ctx, acc, data.Members, req.Fee, key)
	if err != nil {
		logx.Error("ACCOUNT", fmt.Sprintf("Deploy failed | account=%s | code=%s | err=%v", accountID, errors.CodeOf(err), err))
		if e, ok := errors.As(err); ok {
			return nil, e.WithAccount(accountID)
		}
		return nil, errors.Internal(err).WithAccount(accountID)
	}

	deployed := &types.MultisigAccount{
		ID:            accountID,
		Status:        types.AccountDeployed,
		Address:       result.Address,
		Salt:          result.Salt,
		AuthorityAddr: result.AuthorityAddr,
		DeployHash:    result.DeployHash,
		FeeHash:       result.FeeHash,
		FeeChain:      acc.ChainCode.String(),
	}
	updated, err := r.apply(ctx, &types.MultisigAccountData{Account: deployed}, false)
	if err != nil {
		return nil, err
	}
	logx.Info("ACCOUNT", fmt.Sprintf("Deployed | account=%s | address=%s | deploy_hash=%s", accountID, updated.Account.Address, updated.Account.DeployHash))

	r.mirror(ctx, updated)
	r.send(ctx, updated, types.MsgAccountDeployed, &types.AccountDeployedPayload{
		AccountID:     accountID,
		Address:       updated.Account.Address,
		AddressType:   updated.Account.AddressType,
		Salt:          updated.Account.Salt,
		AuthorityAddr: updated.Account.AuthorityAddr,
		DeployHash:    updated.Account.DeployHash,
		FeeHash:       updated.Account.FeeHash,
		FeeChain:      updated.Account.FeeChain,
	})
	return updated, nil
}

// ApplyDeployed records a deployment done by another member.
func (r *Registry) ApplyDeployed(ctx context.Context, msg *types.AccountDeployedPayload) (*types.MultisigAccountData, error) {
	if msg == nil || msg.AccountID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "deployment without account id")
	}
	return r.apply(ctx, &types.MultisigAccountData{Account: &types.MultisigAccount{
		ID:            msg.AccountID,
		Status:        types.AccountDeployed,
		Address:       msg.Address,
		AddressType:   msg.AddressType,
		Salt:          msg.Salt,
		AuthorityAddr: msg.AuthorityAddr,
		DeployHash:    msg.DeployHash,
		FeeHash:       msg.FeeHash,
		FeeChain:      msg.FeeChain,
	}}, false)
}

// Cancel abandons an account that has not been deployed yet.
func (r *Registry) Cancel(ctx context.Context, accountID string) (*types.MultisigAccountData, error) {
	r.locker.Lock(r.lockName(accountID))
	data, err := r.load(accountID)
	if err != nil {
		r.locker.Unlock(r.lockName(accountID))
		return nil, err
	}
	previous := data.Account.Status
	switch previous {
	case types.AccountDeployed:
		r.locker.Unlock(r.lockName(accountID))
		return nil, errors.Validation(errors.ErrCodeInvalidStatus, "a deployed account cannot be canceled").WithAccount(accountID)
	case types.AccountCanceled:
		r.locker.Unlock(r.lockName(accountID))
		return data, nil
	}
	data.Account.Status = types.AccountCanceled
	if err := r.save(data); err != nil {
		r.locker.Unlock(r.lockName(accountID))
		return nil, err
	}
	r.locker.Unlock(r.lockName(accountID))

	r.publishTransition(data, previous)
	r.mirror(ctx, data)
	r.send(ctx, data, types.MsgAccountCanceled, &types.AccountCanceledPayload{AccountID: accountID})
	r.cancelQueues(ctx, accountID)
	return data, nil
}

// ApplyCanceled records a cancel done by another member. A deployed account
// stays deployed.
func (r *Registry) ApplyCanceled(ctx context.Context, msg *types.AccountCanceledPayload) (*types.MultisigAccountData, error) {
	if msg == nil || msg.AccountID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "cancel without account id")
	}
	return r.apply(ctx, &types.MultisigAccountData{Account: &types.MultisigAccount{
		ID:     msg.AccountID,
		Status: types.AccountCanceled,
	}}, false)
}
