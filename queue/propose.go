package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
	"github.com/mezonai/msig/validation"
)

type ProposeRequest struct {
	AccountID string `json:"account_id"`
	To        string `json:"to"`
	// Value is in human units of the asset
	Value           string `json:"value"`
	Symbol          string `json:"symbol"`
	TokenAddr       string `json:"token_addr"`
	Notes           string `json:"notes"`
	ExpirationHours int    `json:"expiration_hours"`
	// Password unlocks the self members' keys so they sign right away
	Password string `json:"password"`
	// PermissionID selects a Tron signer group instead of a multisig account
	PermissionID string `json:"permission_id"`
}

func (c *Coordinator) asset(ctx context.Context, adapter chain.Adapter, req *ProposeRequest) (chain.Asset, error) {
	asset := adapter.NativeAsset()
	if req.TokenAddr == "" {
		return asset, nil
	}
	decimals, err := adapter.Decimals(ctx, req.TokenAddr)
	if err != nil {
		return chain.Asset{}, err
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = req.TokenAddr
	}
	return chain.Asset{Symbol: symbol, TokenAddr: req.TokenAddr, Decimals: decimals}, nil
}

// Propose builds an unsigned transfer out of a deployed account, signs it for
// the self members when a password is given and shares it with the others.
func (c *Coordinator) Propose(ctx context.Context, req *ProposeRequest) (*types.MultisigQueueData, error) {
	account, err := c.loadAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	acc := account.Account
	if acc.Status != types.AccountDeployed {
		return nil, errors.Validationf(errors.ErrCodeInvalidStatus, "account is %s, transfers need a deployed account", acc.Status).WithAccount(acc.ID)
	}
	adapter, err := c.adapter(acc.ChainCode)
	if err != nil {
		return nil, err
	}
	if err := chain.ValidateAmount(req.Value); err != nil {
		return nil, err
	}
	if err := adapter.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if err := validation.ValidateLongText(validation.NotesField, req.Notes); err != nil {
		return nil, err
	}
	asset, err := c.asset(ctx, adapter, req)
	if err != nil {
		return nil, err
	}

	self := account.SelfMembers()
	var keys map[string]chain.PrivateKey
	if req.Password != "" && len(self) > 0 {
		// unlock up front so a wrong password fails before anything is stored
		keys = make(map[string]chain.PrivateKey, len(self))
		for _, m := range self {
			key, err := c.keys.GetPrivateKey(m.Address, acc.ChainCode, req.Password)
			if err != nil {
				return nil, err
			}
			keys[m.Address] = key
		}
	}
	var buildKey chain.PrivateKey
	if len(self) > 0 {
		buildKey = keys[self[0].Address]
	}

	hours := req.ExpirationHours
	if hours <= 0 {
		hours = DefaultExpirationHours
	}
	now := c.now()
	expiration := now.Add(time.Duration(hours) * time.Hour).Unix()
	txReq := &chain.MultisigTxRequest{
		From:       acc.Address,
		To:         req.To,
		Value:      req.Value,
		Expiration: expiration,
		Notes:      req.Notes,
	}

	var built *chain.BuiltTx
	if req.PermissionID != "" {
		permID, convErr := strconv.Atoi(req.PermissionID)
		if convErr != nil {
			return nil, errors.Validationf(errors.ErrCodeInvalidPayload, "invalid permission id %q", req.PermissionID)
		}
		perm := &chain.Permission{Address: acc.Address, PermissionID: permID, Threshold: acc.Threshold}
		for _, m := range account.Members {
			perm.Keys = append(perm.Keys, m.Address)
		}
		built, err = adapter.BuildMultisigWithPermission(ctx, txReq, perm, asset, buildKey)
	} else {
		built, err = adapter.BuildMultisigWithAccount(ctx, txReq, acc, asset, buildKey)
	}
	if err != nil {
		logx.Error("QUEUE", fmt.Sprintf("Build failed | account=%s | err=%v", acc.ID, err))
		return nil, err
	}

	data := &types.MultisigQueueData{Queue: &types.MultisigQueueEntry{
		ID:           uuid.Must(uuid.NewV7()).String(),
		AccountID:    acc.ID,
		FromAddr:     acc.Address,
		ToAddr:       req.To,
		Value:        req.Value,
		Symbol:       asset.Symbol,
		ChainCode:    acc.ChainCode,
		TokenAddr:    asset.TokenAddr,
		Expiration:   expiration,
		MsgHash:      built.MsgHash,
		RawData:      built.RawData,
		Status:       types.QueuePendingSignature,
		Notes:        req.Notes,
		PermissionID: req.PermissionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	c.ensureRows(data, account.Members)

	if keys != nil {
		signed := 0
		for _, m := range self {
			if signed >= acc.Threshold {
				break
			}
			sig, err := adapter.SignMultisigTx(ctx, acc, m.Address, keys[m.Address], built.RawData)
			if err != nil {
				logx.Error("QUEUE", fmt.Sprintf("Self signing failed | account=%s | address=%s | err=%v", acc.ID, m.Address, err))
				data.Queue.FailReason = errors.FailReasonSignFailed
				break
			}
			row := data.Signature(m.Address)
			row.Signature = sig
			row.Status = types.SignatureConfirmed
			row.UpdatedAt = now
			signed++
		}
	}
	evaluate(data, acc.Threshold)

	c.locker.Lock(c.lockName(data.Queue.ID))
	err = c.save(data)
	c.locker.Unlock(c.lockName(data.Queue.ID))
	if err != nil {
		return nil, err
	}

	logx.Info("QUEUE", fmt.Sprintf("Proposed | queue=%s | account=%s | to=%s | value=%s %s | signed=%d/%d | status=%s",
		data.Queue.ID, acc.ID, req.To, req.Value, asset.Symbol, data.ConfirmedCount(), acc.Threshold, data.Queue.Status))
	c.events.Publish(events.NewQueueCreated(data.Queue))
	for _, s := range data.Signatures {
		if s.Status == types.SignatureConfirmed {
			c.events.Publish(events.NewSignatureMerged(acc.ID, s))
		}
	}
	c.mirror(ctx, data)
	c.sendProposal(ctx, data)
	return data, nil
}

// ReceiveProposal applies a proposal or signature update from another member.
func (c *Coordinator) ReceiveProposal(ctx context.Context, p *types.QueueProposal) (*types.MultisigQueueData, error) {
	if p == nil || p.Queue == nil || p.Queue.ID == "" || p.Queue.AccountID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "proposal without queue or account id")
	}
	if p.Queue.RawData == "" || p.Queue.MsgHash == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "proposal without transaction").WithQueue(p.Queue.ID)
	}
	return c.apply(ctx, p.ToQueueData(c.now()), "remote")
}

// RestoreQueue merges a queue entry recovered from the backend.
func (c *Coordinator) RestoreQueue(ctx context.Context, data *types.MultisigQueueData) (*types.MultisigQueueData, error) {
	if data == nil || data.Queue == nil || data.Queue.ID == "" || data.Queue.AccountID == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "recovered queue without id")
	}
	return c.apply(ctx, data, "recovery")
}
