package account

import (
	"context"
	"strings"
	"testing"

	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/chain/chaintest"
	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/keystore"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/store"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChain    = types.ChainSui
	testPassword = "pw"
)

type wallet struct {
	uid   string
	reg   *Registry
	rec   *messaging.Recorder
	store store.MultisigStore
	bus   *events.EventBus
}

type canceler struct{ calls []string }

func (c *canceler) CancelForAccount(_ context.Context, id string) (int, error) {
	c.calls = append(c.calls, id)
	return 0, nil
}

func newWallet(t *testing.T, chains *chain.Registry, uid string, addrs ...string) *wallet {
	t.Helper()
	p, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := store.NewGenericMultisigStore(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	kp, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kp.Close() })
	ks, err := keystore.NewLocalKeystore(kp, chains, keystore.Config{Iterations: 1000})
	require.NoError(t, err)
	for _, addr := range addrs {
		got, err := ks.ImportPrivateKey(testChain, chaintest.KeyFor(addr), testPassword)
		require.NoError(t, err)
		require.Equal(t, addr, got)
	}

	rec := messaging.NewRecorder()
	bus := events.NewEventBus()
	reg, err := NewRegistry(Options{
		Store:     s,
		Chains:    chains,
		Keystore:  ks,
		Messenger: rec,
		Backend:   backend.NewMemory(),
		Events:    bus,
		UIDs:      []string{uid},
	})
	require.NoError(t, err)
	return &wallet{uid: uid, reg: reg, rec: rec, store: s, bus: bus}
}

func members() []MemberInput {
	return []MemberInput{
		{Name: "alice", Address: "A", UID: "ua"},
		{Name: "bob", Address: "B", UID: "ub"},
		{Name: "carol", Address: "C", UID: "uc"},
	}
}

func lastPayload(t *testing.T, w *wallet, msgType types.MessageType, out interface{}) messaging.Sent {
	t.Helper()
	sent, ok := w.rec.Last(msgType)
	require.True(t, ok, "no %s sent by %s", msgType, w.uid)
	require.NoError(t, sent.Message.Decode(out))
	return sent
}

func setup(t *testing.T) (*chaintest.Adapter, *wallet, *wallet, *wallet) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	return adapter, newWallet(t, chains, "ua", "A"), newWallet(t, chains, "ub", "B"), newWallet(t, chains, "uc", "C")
}

func TestCreateAccount_Validation(t *testing.T) {
	_, a, _, _ := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *CreateRequest
		code errors.Code
	}{
		{"unknown chain", &CreateRequest{ChainCode: "xrp", Threshold: 1, Members: members()}, errors.ErrCodeUnknownChain},
		{"chain without adapter", &CreateRequest{ChainCode: types.ChainBitcoin, Threshold: 1, Members: members()}, errors.ErrCodeUnknownChain},
		{"zero threshold", &CreateRequest{ChainCode: testChain, Threshold: 0, Members: members()}, errors.ErrCodeInvalidThreshold},
		{"threshold above members", &CreateRequest{ChainCode: testChain, Threshold: 4, Members: members()}, errors.ErrCodeInvalidThreshold},
		{"no members", &CreateRequest{ChainCode: testChain, Threshold: 1}, errors.ErrCodeInvalidMembers},
		{"duplicate member", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Address: "A"}, {Address: "A"}}}, errors.ErrCodeInvalidMembers},
		{"empty address", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Address: "A"}, {Address: ""}}}, errors.ErrCodeInvalidMembers},
		{"invalid address", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Address: "A"}, {Address: "B x"}}}, errors.ErrCodeInvalidAddress},
		{"malformed pubkey", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Address: "A"}, {Address: "B", Pubkey: "02ff"}}}, errors.ErrCodeInvalidMembers},
		{"no self member", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Address: "X"}, {Address: "Y"}}}, errors.ErrCodeNotMember},
		{"foreign initiator", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: members(), InitiatorAddr: "B"}, errors.ErrCodeNotMember},
		{"name with template", &CreateRequest{Name: "{{ .Env }}", ChainCode: testChain, Threshold: 1, Members: members()}, errors.ErrCodeInvalidText},
		{"member name with newline", &CreateRequest{ChainCode: testChain, Threshold: 1, Members: []MemberInput{{Name: "a\nb", Address: "A"}, {Address: "B"}}}, errors.ErrCodeInvalidText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.reg.CreateAccount(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
			assert.Equal(t, tc.code, errors.CodeOf(err))
		})
	}

	accounts, err := a.reg.ListAccounts("")
	require.NoError(t, err)
	assert.Empty(t, accounts, "nothing is persisted on validation failure")
}

func TestCreateAccount_Defaults(t *testing.T) {
	_, a, _, _ := setup(t)
	ctx := context.Background()

	data, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)

	acc := data.Account
	assert.Equal(t, "Multisig-sui-1", acc.Name)
	assert.Equal(t, "A", acc.InitiatorAddr)
	assert.Equal(t, types.OwnerInitiator, acc.Owner)
	assert.Equal(t, types.AccountInitiating, acc.Status)
	assert.Equal(t, 3, acc.MemberNum)
	assert.Empty(t, acc.Address, "address waits for every pubkey")

	self := data.Member("A")
	require.NotNil(t, self)
	assert.True(t, self.IsSelf)
	assert.True(t, self.Confirmed)
	assert.Equal(t, chaintest.PubkeyFor("A"), self.Pubkey)
	assert.False(t, data.Member("B").Confirmed)

	sent := lastPayload(t, a, types.MsgAccountInvite, &types.AccountInvite{})
	assert.Equal(t, []string{"ub", "uc"}, sent.UIDs)
	assert.Equal(t, "ua", sent.Message.FromUID)

	second, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 1, Members: members()})
	require.NoError(t, err)
	assert.Equal(t, "Multisig-sui-2", second.Account.Name)
}

func TestCreateAccount_AllSelfIsConfirmed(t *testing.T) {
	adapter := chaintest.New(testChain)
	w := newWallet(t, chaintest.Registry(adapter), "u1", "A", "B")

	data, err := w.reg.CreateAccount(context.Background(), &CreateRequest{
		ChainCode: testChain, Threshold: 2,
		Members: []MemberInput{{Address: "A"}, {Address: "B"}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.AccountConfirmed, data.Account.Status)
	assert.Equal(t, types.OwnerBoth, data.Account.Owner)
	assert.Equal(t, "ms-"+data.Account.ID, data.Account.Address, "preview address derived from known pubkeys")
	assert.Empty(t, w.rec.Messages(""), "no peers to invite")
}

func TestCreateAccount_FixedAddressChain(t *testing.T) {
	adapter, a, _, _ := setup(t)
	adapter.FixedAddress(true)

	data, err := a.reg.CreateAccount(context.Background(), &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)
	assert.Equal(t, "ms-"+data.Account.ID, data.Account.Address)
	assert.Equal(t, "salt-"+data.Account.ID, data.Account.Salt)
}

func TestReceiveAccountInvite_Idempotent(t *testing.T) {
	_, a, b, _ := setup(t)
	ctx := context.Background()

	created, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)
	var invite types.AccountInvite
	lastPayload(t, a, types.MsgAccountInvite, &invite)

	_, ch := b.bus.Subscribe()
	first, err := b.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)
	assert.Equal(t, types.AccountPending, first.Account.Status)
	assert.Equal(t, types.OwnerParticipant, first.Account.Owner)
	assert.True(t, first.Member("B").IsSelf)
	assert.False(t, first.Member("A").IsSelf)
	assert.True(t, first.Member("A").Confirmed)
	assert.False(t, first.Member("B").Confirmed, "invites are not auto-confirmed")

	second, err := b.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)
	assert.Equal(t, first.Account, second.Account)
	assert.Equal(t, first.Members, second.Members)

	ev := <-ch
	assert.Equal(t, events.EventAccountCreated, ev.Type())
	assert.Equal(t, created.Account.ID, ev.AccountID())
	assert.Len(t, ch, 0, "the second invite emits nothing")
}

func TestReceiveAccountInvite_Rejects(t *testing.T) {
	_, _, b, _ := setup(t)
	ctx := context.Background()

	_, err := b.reg.ReceiveAccountInvite(ctx, &types.AccountInvite{})
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidPayload), errors.CodeOf(err))

	_, err = b.reg.ReceiveAccountInvite(ctx, &types.AccountInvite{ID: "x", ChainCode: testChain, Threshold: 3,
		Members: []types.InviteMember{{Address: "A"}, {Address: "B"}}})
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidThreshold), errors.CodeOf(err))
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "x", e.AccountID)
}

// threshold=2 with members A, B, C: the account is Confirmed only once all
// three members confirmed.
func TestConfirmationScenario(t *testing.T) {
	_, a, b, c := setup(t)
	ctx := context.Background()

	created, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)
	id := created.Account.ID

	var invite types.AccountInvite
	lastPayload(t, a, types.MsgAccountInvite, &invite)
	_, err = b.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)
	_, err = c.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)

	bData, err := b.reg.ConfirmParticipation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountPending, bData.Account.Status, "A and B confirmed, C missing")

	var bConfirm types.AccountConfirmComplete
	sent := lastPayload(t, b, types.MsgAccountConfirmComplete, &bConfirm)
	assert.ElementsMatch(t, []string{"ua", "uc"}, sent.UIDs)
	assert.Equal(t, []string{"B"}, bConfirm.AcceptAddressList)

	aData, err := a.reg.ApplyConfirmComplete(ctx, &bConfirm)
	require.NoError(t, err)
	assert.Equal(t, types.AccountInitiating, aData.Account.Status)
	assert.Equal(t, 2, aData.ConfirmedCount())
	_, err = c.reg.ApplyConfirmComplete(ctx, &bConfirm)
	require.NoError(t, err)

	cData, err := c.reg.ConfirmParticipation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountConfirmed, cData.Account.Status)
	assert.Equal(t, "ms-"+id, cData.Account.Address, "address derived once every pubkey is known")

	var cConfirm types.AccountConfirmComplete
	lastPayload(t, c, types.MsgAccountConfirmComplete, &cConfirm)
	for _, w := range []*wallet{a, b} {
		data, err := w.reg.ApplyConfirmComplete(ctx, &cConfirm)
		require.NoError(t, err)
		assert.Equal(t, types.AccountConfirmed, data.Account.Status, w.uid)
		assert.Equal(t, "ms-"+id, data.Account.Address, w.uid)
	}

	// replaying an old confirmation changes nothing
	data, err := a.reg.ApplyConfirmComplete(ctx, &bConfirm)
	require.NoError(t, err)
	assert.Equal(t, types.AccountConfirmed, data.Account.Status)
}

func TestApplyConfirmComplete_UnknownAccount(t *testing.T) {
	_, a, _, _ := setup(t)
	_, err := a.reg.ApplyConfirmComplete(context.Background(), &types.AccountConfirmComplete{AccountID: "missing"})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func confirmedAccount(t *testing.T, adapter *chaintest.Adapter) (*wallet, *wallet, string) {
	t.Helper()
	chains := chaintest.Registry(adapter)
	a := newWallet(t, chains, "ua", "A")
	b := newWallet(t, chains, "ub", "B")
	ctx := context.Background()

	created, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 2,
		Members: []MemberInput{{Address: "A", UID: "ua"}, {Address: "B", UID: "ub"}}})
	require.NoError(t, err)
	var invite types.AccountInvite
	lastPayload(t, a, types.MsgAccountInvite, &invite)
	_, err = b.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)
	_, err = b.reg.ConfirmParticipation(ctx, created.Account.ID)
	require.NoError(t, err)
	var confirm types.AccountConfirmComplete
	lastPayload(t, b, types.MsgAccountConfirmComplete, &confirm)
	data, err := a.reg.ApplyConfirmComplete(ctx, &confirm)
	require.NoError(t, err)
	require.Equal(t, types.AccountConfirmed, data.Account.Status)
	return a, b, created.Account.ID
}

func TestDeploy(t *testing.T) {
	adapter := chaintest.New(testChain)
	a, b, id := confirmedAccount(t, adapter)
	ctx := context.Background()

	_, err := a.reg.Deploy(ctx, id, &DeployRequest{Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))

	adapter.FailDeploy(errors.ChainRejection(errors.ErrCodeInsufficientBalance, "not enough gas"))
	_, err = a.reg.Deploy(ctx, id, &DeployRequest{Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, errors.Code(errors.ErrCodeInsufficientBalance), errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
	data, err := a.reg.GetAccount(id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountConfirmed, data.Account.Status, "failed deploy leaves the account confirmed")

	adapter.FailDeploy(nil)
	deployed, err := a.reg.Deploy(ctx, id, &DeployRequest{Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, deployed.Account.Status)
	assert.Equal(t, "deploy-"+id, deployed.Account.DeployHash)
	assert.Equal(t, "fee-"+id, deployed.Account.FeeHash)
	assert.Equal(t, "ms-"+id, deployed.Account.Address)
	assert.Equal(t, int32(1), adapter.Deploys.Load())

	_, err = a.reg.Deploy(ctx, id, &DeployRequest{Password: testPassword})
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidStatus), errors.CodeOf(err))

	var msg types.AccountDeployedPayload
	lastPayload(t, a, types.MsgAccountDeployed, &msg)
	bData, err := b.reg.ApplyDeployed(ctx, &msg)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, bData.Account.Status)
	assert.Equal(t, "deploy-"+id, bData.Account.DeployHash)

	// a late cancel never reverts a deployment
	bData, err = b.reg.ApplyCanceled(ctx, &types.AccountCanceledPayload{AccountID: id})
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, bData.Account.Status)
	_, err = b.reg.Cancel(ctx, id)
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidStatus), errors.CodeOf(err))
}

func TestDeploy_RequiresConfirmed(t *testing.T) {
	_, a, _, _ := setup(t)
	created, err := a.reg.CreateAccount(context.Background(), &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)
	_, err = a.reg.Deploy(context.Background(), created.Account.ID, &DeployRequest{Password: testPassword})
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidStatus), errors.CodeOf(err))
}

func TestCancel(t *testing.T) {
	adapter := chaintest.New(testChain)
	a, b, id := confirmedAccount(t, adapter)
	ctx := context.Background()
	qa := &canceler{}
	a.reg.SetQueueCanceler(qa)
	qb := &canceler{}
	b.reg.SetQueueCanceler(qb)

	data, err := a.reg.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountCanceled, data.Account.Status)
	assert.Equal(t, []string{id}, qa.calls)

	again, err := a.reg.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountCanceled, again.Account.Status)
	assert.Len(t, qa.calls, 1, "canceling twice is a no-op")

	var msg types.AccountCanceledPayload
	lastPayload(t, a, types.MsgAccountCanceled, &msg)
	bData, err := b.reg.ApplyCanceled(ctx, &msg)
	require.NoError(t, err)
	assert.Equal(t, types.AccountCanceled, bData.Account.Status)
	assert.Equal(t, []string{id}, qb.calls)

	_, err = a.reg.ConfirmParticipation(ctx, id)
	assert.Equal(t, errors.Code(errors.ErrCodeCanceled), errors.CodeOf(err))
	_, err = a.reg.Deploy(ctx, id, &DeployRequest{Password: testPassword})
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidStatus), errors.CodeOf(err))
}

func TestRestoreAccount(t *testing.T) {
	_, a, _, c := setup(t)
	ctx := context.Background()
	created, err := a.reg.CreateAccount(ctx, &CreateRequest{ChainCode: testChain, Threshold: 2, Members: members()})
	require.NoError(t, err)

	recovered := &types.MultisigAccountData{Account: created.Account.Clone()}
	for _, m := range created.Members {
		recovered.Members = append(recovered.Members, m.Clone())
	}
	recovered.Account.Status = types.AccountDeployed
	recovered.Account.Address = "ms-restored"

	data, err := c.reg.RestoreAccount(ctx, recovered)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, data.Account.Status)
	assert.Equal(t, types.OwnerParticipant, data.Account.Owner)
	assert.True(t, data.Member("C").IsSelf)
	assert.False(t, data.Member("A").IsSelf, "is_self is recomputed locally")

	// an older invite afterwards does not move the account back
	var invite types.AccountInvite
	lastPayload(t, a, types.MsgAccountInvite, &invite)
	data, err = c.reg.ReceiveAccountInvite(ctx, &invite)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, data.Account.Status)
	assert.Equal(t, "ms-restored", data.Account.Address)
}

func TestRenameAndList(t *testing.T) {
	_, a, _, _ := setup(t)
	created, err := a.reg.CreateAccount(context.Background(), &CreateRequest{ChainCode: testChain, Threshold: 1, Members: members()})
	require.NoError(t, err)

	_, err = a.reg.Rename(created.Account.ID, "")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	_, err = a.reg.Rename(created.Account.ID, strings.Repeat("x", 200))
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidText), errors.CodeOf(err))
	renamed, err := a.reg.Rename(created.Account.ID, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "treasury", renamed.Account.Name)

	list, err := a.reg.ListAccounts(testChain)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "treasury", list[0].Name)

	_, err = a.reg.GetAccount("missing")
	assert.Equal(t, errors.Code(errors.ErrCodeAccountNotFound), errors.CodeOf(err))
}

func TestServiceFeeAndDeposit(t *testing.T) {
	_, a, _, _ := setup(t)
	mem := a.reg.backend.(*backend.Memory)
	mem.SetServiceFee(testChain, &backend.ServiceFee{ChainCode: "sui", Fee: 2})
	fee, err := a.reg.ServiceFee(context.Background(), testChain)
	require.NoError(t, err)
	assert.Equal(t, 2.0, fee.Fee)

	_, err = a.reg.DepositAddress(context.Background(), testChain)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}
