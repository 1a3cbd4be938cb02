package account

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
	"github.com/mezonai/msig/validation"
)

// QueueCanceler cancels the open queue entries of an account.
type QueueCanceler interface {
	CancelForAccount(ctx context.Context, accountID string) (int, error)
}

type Options struct {
	Store     store.MultisigStore
	Chains    *chain.Registry
	Keystore  keystore.Keystore
	Messenger messaging.Messenger
	// Backend is optional; accounts are mirrored there for recovery
	Backend backend.Client
	Events  events.Publisher
	// UIDs are the messaging identities of this wallet, the first one signs outgoing messages
	UIDs []string
}

// Registry owns the multisig account lifecycle of this wallet.
type Registry struct {
	store     store.MultisigStore
	chains    *chain.Registry
	keys      keystore.Keystore
	messenger messaging.Messenger
	backend   backend.Client
	events    events.Publisher
	uids      []string

	locker *namedlocker.NamedLocker
	queues QueueCanceler

	deployMu  sync.Mutex
	deploying map[string]struct{}

	now func() time.Time
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Store == nil || opts.Chains == nil || opts.Keystore == nil || opts.Messenger == nil {
		return nil, fmt.Errorf("account registry needs a store, chains, a keystore and a messenger")
	}
	if len(opts.UIDs) == 0 {
		return nil, fmt.Errorf("account registry needs at least one local uid")
	}
	pub := opts.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Registry{
		store:     opts.Store,
		chains:    opts.Chains,
		keys:      opts.Keystore,
		messenger: opts.Messenger,
		backend:   opts.Backend,
		events:    pub,
		uids:      append([]string(nil), opts.UIDs...),
		locker:    namedlocker.NewNamedLocker(),
		deploying: make(map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetQueueCanceler wires the coordinator used when an account is canceled.
func (r *Registry) SetQueueCanceler(q QueueCanceler) {
	r.queues = q
}

// UID returns the uid outgoing messages are sent from.
func (r *Registry) UID() string { return r.uids[0] }

func (r *Registry) LocalUIDs() []string { return append([]string(nil), r.uids...) }

func (r *Registry) lockName(id string) string { return "account:" + id }

func (r *Registry) load(id string) (*types.MultisigAccountData, error) {
	data, err := r.store.GetAccountData(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound(errors.ErrCodeAccountNotFound, errors.ErrMsgAccountNotFound).WithAccount(id)
		}
		return nil, errors.Internal(err).WithAccount(id)
	}
	return data, nil
}

func (r *Registry) adapter(code types.ChainCode) (chain.Adapter, error) {
	adapter, err := r.chains.Get(code)
	if err != nil {
		return nil, errors.Validation(errors.ErrCodeUnknownChain, errors.ErrMsgUnknownChain).WithChain(code.String())
	}
	return adapter, nil
}

// markSelf flags the members this wallet holds keys for.
func (r *Registry) markSelf(data *types.MultisigAccountData) {
	for _, m := range data.Members {
		m.AccountID = data.Account.ID
		if r.keys.Controls(data.Account.ChainCode, m.Address) {
			m.IsSelf = true
		}
	}
}

// confirmSelf confirms every self member and fills its pubkey. It returns
// the addresses that changed.
func (r *Registry) confirmSelf(data *types.MultisigAccountData) ([]string, error) {
	var accepted []string
	for _, m := range data.SelfMembers() {
		if m.Pubkey == "" {
			pub, err := r.keys.PublicKey(data.Account.ChainCode, m.Address)
			if err != nil {
				return nil, err
			}
			m.Pubkey = pub
		}
		if m.UID == "" {
			m.UID = r.UID()
		}
		if !m.Confirmed {
			m.Confirmed = true
			accepted = append(accepted, m.Address)
		}
	}
	return accepted, nil
}

// promote moves a fully confirmed account out of the invitation stage.
func promote(data *types.MultisigAccountData) {
	if data.Account.Status.Rank() == 0 && data.AllConfirmed() {
		data.Account.Status = types.AccountConfirmed
	}
}

func (r *Registry) send(ctx context.Context, data *types.MultisigAccountData, msgType types.MessageType, payload interface{}) {
	peers := data.PeerUIDs(r.uids)
	if len(peers) == 0 {
		return
	}
	if err := messaging.SendPayload(ctx, r.messenger, peers, msgType, r.UID(), payload); err != nil {
		logx.Warn("ACCOUNT", fmt.Sprintf("Failed to send %s | account=%s | err=%v", msgType, data.Account.ID, err))
	}
}

// mirror stores data in the backend for recovery by the other members.
func (r *Registry) mirror(ctx context.Context, data *types.MultisigAccountData) {
	if r.backend == nil {
		return
	}
	if err := r.backend.SaveAccount(ctx, data); err != nil {
		logx.Warn("ACCOUNT", fmt.Sprintf("Failed to mirror account | account=%s | err=%v", data.Account.ID, err))
	}
}

func (r *Registry) publishTransition(data *types.MultisigAccountData, previous types.AccountStatus) {
	if data.Account.Status == previous {
		return
	}
	monitoring.RecordAccountTransition(data.Account.Status.String())
	r.events.Publish(events.NewAccountStatusChanged(data.Account, previous))
	logx.Info("ACCOUNT", fmt.Sprintf("Status changed | account=%s | from=%s | to=%s", data.Account.ID, previous, data.Account.Status))
}

func (r *Registry) save(data *types.MultisigAccountData) error {
	data.Account.MemberNum = len(data.Members)
	data.Account.UpdatedAt = r.now()
	if err := r.store.SaveAccountData(data); err != nil {
		return errors.Internal(err).WithAccount(data.Account.ID)
	}
	return nil
}

func (r *Registry) GetAccount(id string) (*types.MultisigAccountData, error) {
	return r.load(id)
}

// ListAccounts returns the accounts of code, or of every chain when code is empty.
func (r *Registry) ListAccounts(code types.ChainCode) ([]*types.MultisigAccount, error) {
	accounts, err := r.store.ListAccounts(code)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return accounts, nil
}

func (r *Registry) Rename(id, name string) (*types.MultisigAccountData, error) {
	if name == "" {
		return nil, errors.Validation(errors.ErrCodeInvalidPayload, "account name must not be empty").WithAccount(id)
	}
	if err := validation.ValidateShortText(validation.AccountNameField, name); err != nil {
		return nil, err
	}
	r.locker.Lock(r.lockName(id))
	defer r.locker.Unlock(r.lockName(id))

	data, err := r.load(id)
	if err != nil {
		return nil, err
	}
	data.Account.Name = name
	if err := r.save(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ServiceFee quotes the backend fee for deploying on code.
func (r *Registry) ServiceFee(ctx context.Context, code types.ChainCode) (*backend.ServiceFee, error) {
	if r.backend == nil {
		return nil, errors.Validation(errors.ErrCodeUnsupported, "no backend configured")
	}
	return r.backend.ServiceFee(ctx, code)
}

// DepositAddress returns where the service fee for code is paid.
func (r *Registry) DepositAddress(ctx context.Context, code types.ChainCode) (*backend.DepositAddress, error) {
	if r.backend == nil {
		return nil, errors.Validation(errors.ErrCodeUnsupported, "no backend configured")
	}
	return r.backend.DepositAddress(ctx, code)
}
