package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
	"github.com/mezonai/msig/validation"
)

type MemberInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	UID     string `json:"uid"`
	Pubkey  string `json:"pubkey,omitempty"`
}

type CreateRequest struct {
	Name      string          `json:"name"`
	ChainCode types.ChainCode `json:"chain_code"`
	Threshold int             `json:"threshold"`
	Members   []MemberInput   `json:"members"`
	// AddressType selects p2sh or p2wsh on Bitcoin-like chains
	AddressType string `json:"address_type"`
	// Address is the existing account converted to multisig, tron only
	Address string `json:"address"`
	// InitiatorAddr defaults to the lowest self member address
	InitiatorAddr string `json:"initiator_addr"`
}

func (r *Registry) validateMembers(code types.ChainCode, threshold int, members []MemberInput) error {
	adapter, err := r.adapter(code)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return errors.Validation(errors.ErrCodeInvalidMembers, "an account needs at least one member")
	}
	if threshold < 1 || threshold > len(members) {
		return errors.Validation(errors.ErrCodeInvalidThreshold, errors.ErrMsgInvalidThreshold)
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.Address == "" {
			return errors.Validation(errors.ErrCodeInvalidMembers, "member address must not be empty")
		}
		key := types.AddressKey(m.Address)
		if _, dup := seen[key]; dup {
			return errors.Validationf(errors.ErrCodeInvalidMembers, "duplicate member %s", m.Address)
		}
		seen[key] = struct{}{}
		if err := adapter.ValidateAddress(m.Address); err != nil {
			return err
		}
		if m.Pubkey != "" {
			if err := chain.ValidatePubkey(code, m.Pubkey); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateNames(req *CreateRequest) error {
	if err := validation.ValidateShortText(validation.AccountNameField, req.Name); err != nil {
		return err
	}
	for _, m := range req.Members {
		if err := validation.ValidateShortText(validation.MemberNameField, m.Name); err != nil {
			return err
		}
	}
	return nil
}

// CreateAccount creates an account initiated by this wallet and invites the
// other members.
func (r *Registry) CreateAccount(ctx context.Context, req *CreateRequest) (*types.MultisigAccountData, error) {
	code, ok := types.ParseChainCode(req.ChainCode.String())
	if !ok {
		return nil, errors.Validation(errors.ErrCodeUnknownChain, errors.ErrMsgUnknownChain).WithChain(req.ChainCode.String())
	}
	if err := r.validateMembers(code, req.Threshold, req.Members); err != nil {
		return nil, err
	}
	if err := validateNames(req); err != nil {
		return nil, err
	}
	adapter, err := r.adapter(code)
	if err != nil {
		return nil, err
	}

	now := r.now()
	id := uuid.Must(uuid.NewV7()).String()
	data := &types.MultisigAccountData{
		Account: &types.MultisigAccount{
			ID:          id,
			Name:        req.Name,
			ChainCode:   code,
			Address:     req.Address,
			Threshold:   req.Threshold,
			MemberNum:   len(req.Members),
			Owner:       types.OwnerInitiator,
			Status:      types.AccountInitiating,
			AddressType: req.AddressType,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	for _, m := range req.Members {
		data.Members = append(data.Members, &types.MultisigMember{
			AccountID: id,
			Address:   m.Address,
			Name:      m.Name,
			Pubkey:    m.Pubkey,
			UID:       m.UID,
		})
	}
	r.markSelf(data)

	self := data.SelfMembers()
	if len(self) == 0 {
		return nil, errors.Validation(errors.ErrCodeNotMember, errors.ErrMsgNotMember).WithChain(code.String())
	}
	initiator := req.InitiatorAddr
	if initiator == "" {
		initiator = self[0].Address
	} else if m := data.Member(initiator); m == nil || !m.IsSelf {
		return nil, errors.Validationf(errors.ErrCodeNotMember, "initiator %s is not a member controlled by this wallet", initiator)
	} else {
		initiator = m.Address
	}
	data.Account.InitiatorAddr = initiator
	for _, m := range self {
		if !types.SameAddress(m.Address, initiator) {
			data.Account.Owner = types.OwnerBoth
			break
		}
	}

	if _, err := r.confirmSelf(data); err != nil {
		return nil, err
	}

	if data.Account.Name == "" {
		n, err := r.store.CountAccounts(code)
		if err != nil {
			return nil, errors.Internal(err)
		}
		data.Account.Name = fmt.Sprintf("Multisig-%s-%d", code, n+1)
	}

	addr, err := adapter.MultisigAddress(ctx, data.Account, data.Members)
	switch {
	case err == nil:
		data.Account.Address = addr.Address
		data.Account.Salt = addr.Salt
		data.Account.AuthorityAddr = addr.AuthorityAddr
	case data.HasAllPubkeys():
		return nil, err
	default:
		logx.Debug("ACCOUNT", fmt.Sprintf("Address preview deferred until all pubkeys are known | account=%s | err=%v", id, err))
	}

	promote(data)

	r.locker.Lock(r.lockName(id))
	err = r.save(data)
	r.locker.Unlock(r.lockName(id))
	if err != nil {
		return nil, err
	}

	logx.Info("ACCOUNT", fmt.Sprintf("Account created | account=%s | chain=%s | threshold=%d | members=%d | status=%s",
		id, code, data.Account.Threshold, len(data.Members), data.Account.Status))
	r.events.Publish(events.NewAccountCreated(data.Account))
	r.mirror(ctx, data)
	r.send(ctx, data, types.MsgAccountInvite, types.NewAccountInvite(data))
	return data, nil
}

// ReceiveAccountInvite applies an invite. Applying the same invite twice
// leaves the account unchanged.
func (r *Registry) ReceiveAccountInvite(ctx context.Context, invite *types.AccountInvite) (*types.MultisigAccountData, error) {
	if invite == nil || invite.ID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "invite without account id")
	}
	members := make([]MemberInput, 0, len(invite.Members))
	for _, m := range invite.Members {
		members = append(members, MemberInput{Address: m.Address})
	}
	if err := r.validateMembers(invite.ChainCode, invite.Threshold, members); err != nil {
		if e, ok := errors.As(err); ok {
			return nil, e.WithAccount(invite.ID)
		}
		return nil, err
	}

	data, err := r.apply(ctx, invite.ToAccountData(r.now()), true)
	if err != nil {
		return nil, err
	}
	r.refreshAddress(ctx, data.Account.ID)
	return r.load(data.Account.ID)
}

// RestoreAccount merges an account recovered from the backend.
func (r *Registry) RestoreAccount(ctx context.Context, incoming *types.MultisigAccountData) (*types.MultisigAccountData, error) {
	if incoming == nil || incoming.Account == nil || incoming.Account.ID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "recovered account without id")
	}
	if _, ok := types.ParseChainCode(incoming.Account.ChainCode.String()); !ok {
		return nil, errors.Validation(errors.ErrCodeUnknownChain, errors.ErrMsgUnknownChain).WithAccount(incoming.Account.ID)
	}
	restored := &types.MultisigAccountData{Account: incoming.Account.Clone()}
	for _, m := range incoming.Members {
		c := m.Clone()
		c.IsSelf = false
		restored.Members = append(restored.Members, c)
	}
	restored.Account.Owner = types.OwnerParticipant
	return r.apply(ctx, restored, true)
}

// apply merges incoming into the stored account under the account lock. When
// create is false a missing account is a NotFound error.
func (r *Registry) apply(ctx context.Context, incoming *types.MultisigAccountData, create bool) (*types.MultisigAccountData, error) {
	id := incoming.Account.ID
	r.locker.Lock(r.lockName(id))

	stored, err := r.load(id)
	if err != nil && !(create && errors.IsKind(err, errors.KindNotFound)) {
		r.locker.Unlock(r.lockName(id))
		return nil, err
	}

	var (
		merged   *types.MultisigAccountData
		previous types.AccountStatus
		created  bool
		changed  bool
		newlyOK  []string
	)
	if stored == nil {
		merged = incoming
		r.markSelf(merged)
		merged.Account.Owner = types.OwnerParticipant
		promote(merged)
		previous, created, changed = merged.Account.Status, true, true
	} else {
		previous = stored.Account.Status
		merged = stored
		account, accountChanged := types.MergeAccount(stored.Account, incoming.Account)
		merged.Account = account
		changed = accountChanged
		for _, in := range incoming.Members {
			current := merged.Member(in.Address)
			if current == nil {
				// members are fixed at creation, a foreign address is ignored
				logx.Warn("ACCOUNT", fmt.Sprintf("Ignoring unknown member | account=%s | address=%s", id, in.Address))
				continue
			}
			was := current.Confirmed
			m, memberChanged := types.MergeMember(current, in)
			if memberChanged {
				*current = *m
				changed = true
				if !was && current.Confirmed {
					newlyOK = append(newlyOK, current.Address)
				}
			}
		}
		before := merged.Account.Status
		promote(merged)
		if merged.Account.Status != before {
			changed = true
		}
	}

	if changed {
		if err := r.save(merged); err != nil {
			r.locker.Unlock(r.lockName(id))
			return nil, err
		}
	}
	r.locker.Unlock(r.lockName(id))

	if created {
		logx.Info("ACCOUNT", fmt.Sprintf("Account received | account=%s | chain=%s | status=%s", id, merged.Account.ChainCode, merged.Account.Status))
		r.events.Publish(events.NewAccountCreated(merged.Account))
	}
	for _, addr := range newlyOK {
		r.events.Publish(events.NewMemberConfirmed(id, addr))
	}
	if !created {
		r.publishTransition(merged, previous)
	}
	if changed && merged.Account.Status == types.AccountCanceled && previous != types.AccountCanceled {
		r.cancelQueues(ctx, id)
	}
	return merged, nil
}

// refreshAddress derives the preview address once every member published its pubkey.
func (r *Registry) refreshAddress(ctx context.Context, id string) {
	data, err := r.load(id)
	if err != nil || data.Account.Address != "" || !data.HasAllPubkeys() {
		return
	}
	if data.Account.Status == types.AccountCanceled || data.Account.Status == types.AccountDeployed {
		return
	}
	adapter, err := r.adapter(data.Account.ChainCode)
	if err != nil {
		return
	}
	addr, err := adapter.MultisigAddress(ctx, data.Account, data.Members)
	if err != nil {
		logx.Warn("ACCOUNT", fmt.Sprintf("Failed to derive address | account=%s | err=%v", id, err))
		return
	}

	r.locker.Lock(r.lockName(id))
	defer r.locker.Unlock(r.lockName(id))
	data, err = r.load(id)
	if err != nil || data.Account.Address != "" {
		return
	}
	data.Account.Address = addr.Address
	data.Account.Salt = addr.Salt
	data.Account.AuthorityAddr = addr.AuthorityAddr
	if err := r.save(data); err != nil {
		logx.Error("ACCOUNT", fmt.Sprintf("Failed to store derived address | account=%s | err=%v", id, err))
		return
	}
	logx.Info("ACCOUNT", fmt.Sprintf("Address derived | account=%s | address=%s", id, addr.Address))
}

func (r *Registry) cancelQueues(ctx context.Context, id string) {
	if r.queues == nil {
		return
	}
	n, err := r.queues.CancelForAccount(ctx, id)
	if err != nil {
		logx.Error("ACCOUNT", fmt.Sprintf("Failed to cancel queue entries | account=%s | err=%v", id, err))
		return
	}
	if n > 0 {
		logx.Info("ACCOUNT", fmt.Sprintf("Canceled queue entries | account=%s | count=%d", id, n))
	}
}
