package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mezonai/msig/jsonx"
)

type MessageType string

const (
	MsgAccountInvite          MessageType = "ACCOUNT_INVITE"
	MsgAccountConfirmComplete MessageType = "ACCOUNT_CONFIRM_COMPLETE"
	MsgAccountDeployed        MessageType = "ACCOUNT_DEPLOYED"
	MsgAccountCanceled        MessageType = "ACCOUNT_CANCELED"
	MsgQueueProposal          MessageType = "QUEUE_PROPOSAL"
	MsgQueueExecuted          MessageType = "QUEUE_EXECUTED"
)

// SyncMessage is the envelope exchanged between wallet instances.
type SyncMessage struct {
	ID        string           `json:"id"`
	Type      MessageType      `json:"type"`
	FromUID   string           `json:"from_uid"`
	Data      jsonx.RawMessage `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewSyncMessage wraps payload in an envelope with a fresh id.
func NewSyncMessage(msgType MessageType, fromUID string, payload interface{}) (*SyncMessage, error) {
	data, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &SyncMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      msgType,
		FromUID:   fromUID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (m *SyncMessage) ToJSON() ([]byte, error) {
	return jsonx.Marshal(m)
}

// Decode unmarshals the payload into v.
func (m *SyncMessage) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("empty %s payload", m.Type)
	}
	return jsonx.Unmarshal(m.Data, v)
}

func ParseSyncMessage(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := jsonx.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("sync message without type")
	}
	return &msg, nil
}

type InviteMember struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Pubkey    string `json:"pubkey,omitempty"`
	Confirmed bool   `json:"confirmed"`
	UID       string `json:"uid"`
}

type AccountInvite struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	InitiatorAddr string         `json:"initiator_addr"`
	Address       string         `json:"address"`
	ChainCode     ChainCode      `json:"chain_code"`
	Threshold     int            `json:"threshold"`
	AddressType   string         `json:"address_type"`
	Members       []InviteMember `json:"members"`
}

// NewAccountInvite builds the invite payload for data.
func NewAccountInvite(data *MultisigAccountData) *AccountInvite {
	acc := data.Account
	invite := &AccountInvite{
		ID:            acc.ID,
		Name:          acc.Name,
		InitiatorAddr: acc.InitiatorAddr,
		Address:       acc.Address,
		ChainCode:     acc.ChainCode,
		Threshold:     acc.Threshold,
		AddressType:   acc.AddressType,
	}
	for _, m := range data.Members {
		invite.Members = append(invite.Members, InviteMember{
			Name:      m.Name,
			Address:   m.Address,
			Pubkey:    m.Pubkey,
			Confirmed: m.Confirmed,
			UID:       m.UID,
		})
	}
	return invite
}

// ToAccountData converts the invite into a Pending participant account.
func (inv *AccountInvite) ToAccountData(now time.Time) *MultisigAccountData {
	data := &MultisigAccountData{
		Account: &MultisigAccount{
			ID:            inv.ID,
			Name:          inv.Name,
			ChainCode:     inv.ChainCode,
			Address:       inv.Address,
			InitiatorAddr: inv.InitiatorAddr,
			Threshold:     inv.Threshold,
			MemberNum:     len(inv.Members),
			Owner:         OwnerParticipant,
			Status:        AccountPending,
			AddressType:   inv.AddressType,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	for _, m := range inv.Members {
		data.Members = append(data.Members, &MultisigMember{
			AccountID: inv.ID,
			Address:   m.Address,
			Name:      m.Name,
			Pubkey:    m.Pubkey,
			Confirmed: m.Confirmed,
			UID:       m.UID,
		})
	}
	return data
}

// Member confirmation states carried by AccountConfirmComplete.
const (
	MemberStatusUnconfirmed = 0
	MemberStatusConfirmed   = 1
)

type ConfirmMember struct {
	Address string `json:"address"`
	Pubkey  string `json:"pubkey"`
	Status  int    `json:"status"`
	UID     string `json:"uid"`
}

type AccountConfirmComplete struct {
	Status            AccountStatus   `json:"status"`
	AccountID         string          `json:"account_id"`
	AcceptAddressList []string        `json:"accept_address_list"`
	AddressList       []ConfirmMember `json:"address_list"`
	AcceptStatus      bool            `json:"accept_status"`
}

// NewAccountConfirmComplete reports the local member view of data; accepted
// lists the addresses this wallet just confirmed.
func NewAccountConfirmComplete(data *MultisigAccountData, accepted []string) *AccountConfirmComplete {
	msg := &AccountConfirmComplete{
		Status:            data.Account.Status,
		AccountID:         data.Account.ID,
		AcceptAddressList: accepted,
		AcceptStatus:      true,
	}
	for _, m := range data.Members {
		status := MemberStatusUnconfirmed
		if m.Confirmed {
			status = MemberStatusConfirmed
		}
		msg.AddressList = append(msg.AddressList, ConfirmMember{
			Address: m.Address,
			Pubkey:  m.Pubkey,
			Status:  status,
			UID:     m.UID,
		})
	}
	return msg
}

type AccountDeployedPayload struct {
	AccountID     string `json:"account_id"`
	Address       string `json:"address"`
	AddressType   string `json:"address_type"`
	Salt          string `json:"salt"`
	AuthorityAddr string `json:"authority_addr"`
	DeployHash    string `json:"deploy_hash"`
	FeeHash       string `json:"fee_hash"`
	FeeChain      string `json:"fee_chain,omitempty"`
}

type AccountCanceledPayload struct {
	AccountID string `json:"account_id"`
}

type ProposalSignature struct {
	Address   string          `json:"address"`
	Signature string          `json:"signature"`
	Status    SignatureStatus `json:"status"`
}

type QueueProposal struct {
	Queue      *MultisigQueueEntry `json:"queue"`
	Signatures []ProposalSignature `json:"signatures"`
}

func NewQueueProposal(data *MultisigQueueData) *QueueProposal {
	p := &QueueProposal{Queue: data.Queue.Clone()}
	for _, s := range data.Signatures {
		p.Signatures = append(p.Signatures, ProposalSignature{
			Address:   s.Address,
			Signature: s.Signature,
			Status:    s.Status,
		})
	}
	return p
}

// ToQueueData converts the proposal into local rows stamped with now.
func (p *QueueProposal) ToQueueData(now time.Time) *MultisigQueueData {
	data := &MultisigQueueData{Queue: p.Queue.Clone()}
	for _, s := range p.Signatures {
		data.Signatures = append(data.Signatures, &MultisigSignature{
			QueueID:   p.Queue.ID,
			Address:   s.Address,
			Signature: s.Signature,
			Status:    s.Status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return data
}

type QueueExecuted struct {
	QueueID    string      `json:"queue_id"`
	Status     QueueStatus `json:"status"`
	TxHash     string      `json:"tx_hash,omitempty"`
	FailReason string      `json:"fail_reason,omitempty"`
}
