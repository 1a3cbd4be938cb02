package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/mezonai/msig/account"
	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/chain/chaintest"
	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/keystore"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/queue"
	"github.com/mezonai/msig/ratelimit"
	"github.com/mezonai/msig/store"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChain    = types.ChainSui
	testPassword = "pw"
)

type node struct {
	uid   string
	reg   *account.Registry
	coord *queue.Coordinator
	sync  *Syncer
	store store.MultisigStore
}

func newNode(t *testing.T, chains *chain.Registry, client backend.Client, messenger messaging.Messenger, uid string, addrs ...string) *node {
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
		_, err := ks.ImportPrivateKey(testChain, chaintest.KeyFor(addr), testPassword)
		require.NoError(t, err)
	}

	uids := []string{uid}
	reg, err := account.NewRegistry(account.Options{Store: s, Chains: chains, Keystore: ks, Messenger: messenger, Backend: client, UIDs: uids})
	require.NoError(t, err)
	coord, err := queue.NewCoordinator(queue.Options{Store: s, Chains: chains, Keystore: ks, Messenger: messenger, Backend: client, UIDs: uids})
	require.NoError(t, err)
	reg.SetQueueCanceler(coord)

	sy, err := New(Options{Accounts: reg, Queues: coord, Backend: client, UIDs: uids, CacheSize: 64})
	require.NoError(t, err)
	return &node{uid: uid, reg: reg, coord: coord, sync: sy, store: s}
}

func lastMessage(t *testing.T, rec *messaging.Recorder, msgType types.MessageType) *types.SyncMessage {
	t.Helper()
	sent, ok := rec.Last(msgType)
	require.True(t, ok, "no %s sent", msgType)
	return sent.Message
}

// deployedOrigin runs a wallet controlling both members of a 1-of-2 account,
// deploys it and proposes one signed transfer. Everything is mirrored to client.
func deployedOrigin(t *testing.T, chains *chain.Registry, client backend.Client) (*node, *messaging.Recorder, string, string) {
	t.Helper()
	rec := messaging.NewRecorder()
	origin := newNode(t, chains, client, rec, "ua", "A", "B")
	ctx := context.Background()

	data, err := origin.reg.CreateAccount(ctx, &account.CreateRequest{
		ChainCode: testChain,
		Threshold: 1,
		Members:   []account.MemberInput{{Address: "A", UID: "ua"}, {Address: "B", UID: "ub"}},
	})
	require.NoError(t, err)
	require.Equal(t, types.AccountConfirmed, data.Account.Status)
	accountID := data.Account.ID

	_, err = origin.reg.Deploy(ctx, accountID, &account.DeployRequest{Password: testPassword})
	require.NoError(t, err)

	q, err := origin.coord.Propose(ctx, &queue.ProposeRequest{AccountID: accountID, To: "R", Value: "1", Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, types.QueueSignable, q.Queue.Status)
	return origin, rec, accountID, q.Queue.ID
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	adapter := chaintest.New(testChain)
	n := newNode(t, chaintest.Registry(adapter), nil, messaging.NewRecorder(), "ua")
	_, err = New(Options{Accounts: n.reg, Queues: n.coord})
	require.Error(t, err, "local uids are required")
}

func TestHandle_EndToEndOverHub(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	hub := messaging.NewHub()
	client := backend.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, chains, client, hub.Transport(), "ua", "A")
	b := newNode(t, chains, client, hub.Transport(), "ub", "B")
	for _, n := range []*node{a, b} {
		require.NoError(t, hub.Transport().Subscribe(ctx, []string{n.uid}, n.sync.HandleMessage))
	}

	created, err := a.reg.CreateAccount(ctx, &account.CreateRequest{
		ChainCode: testChain,
		Threshold: 2,
		Members:   []account.MemberInput{{Name: "alice", Address: "A", UID: "ua"}, {Name: "bob", Address: "B", UID: "ub"}},
	})
	require.NoError(t, err)
	id := created.Account.ID

	atB, err := b.reg.GetAccount(id)
	require.NoError(t, err, "invite reached b")
	assert.Equal(t, types.AccountPending, atB.Account.Status)
	assert.Equal(t, types.OwnerParticipant, atB.Account.Owner)
	assert.True(t, atB.Member("B").IsSelf)

	_, err = b.reg.ConfirmParticipation(ctx, id)
	require.NoError(t, err)
	atA, err := a.reg.GetAccount(id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountConfirmed, atA.Account.Status)
	assert.Equal(t, "ms-"+id, atA.Account.Address)

	_, err = a.reg.Deploy(ctx, id, &account.DeployRequest{Password: testPassword})
	require.NoError(t, err)
	atB, err = b.reg.GetAccount(id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, atB.Account.Status)
	assert.Equal(t, "deploy-"+id, atB.Account.DeployHash)

	proposed, err := a.coord.Propose(ctx, &queue.ProposeRequest{AccountID: id, To: "R", Value: "3", Password: testPassword})
	require.NoError(t, err)
	qid := proposed.Queue.ID
	assert.Equal(t, types.QueuePendingSignature, proposed.Queue.Status)

	qB, err := b.coord.GetQueue(qid)
	require.NoError(t, err)
	assert.Equal(t, types.QueuePendingSignature, qB.Queue.Status)

	_, err = b.coord.Sign(ctx, qid, testPassword)
	require.NoError(t, err)
	qA, err := a.coord.GetQueue(qid)
	require.NoError(t, err)
	assert.Equal(t, types.QueueSignable, qA.Queue.Status)

	_, err = a.coord.Execute(ctx, qid, &queue.ExecuteRequest{Password: testPassword})
	require.NoError(t, err)
	qB, err = b.coord.GetQueue(qid)
	require.NoError(t, err)
	assert.Equal(t, types.QueueSubmitted, qB.Queue.Status)
	assert.Equal(t, "tx-"+qid, qB.Queue.TxHash)
	assert.Equal(t, int32(1), adapter.Broadcasts.Load())
}

type stubTransport struct {
	*messaging.Recorder
	subscribed chan []string
}

func (s *stubTransport) Subscribe(_ context.Context, uids []string, _ messaging.Handler) error {
	s.subscribed <- uids
	return nil
}

func (s *stubTransport) Close() error { return nil }

func TestRun_SubscribesLocalUIDs(t *testing.T) {
	adapter := chaintest.New(testChain)
	n := newNode(t, chaintest.Registry(adapter), nil, messaging.NewRecorder(), "ua")
	transport := &stubTransport{Recorder: messaging.NewRecorder(), subscribed: make(chan []string, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.sync.Run(ctx, transport) }()

	select {
	case uids := <-transport.subscribed:
		assert.Equal(t, []string{"ua"}, uids)
	case <-time.After(5 * time.Second):
		t.Fatal("run never subscribed")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestHandle_DuplicateMessage(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	client := backend.NewMemory()
	rec := messaging.NewRecorder()
	a := newNode(t, chains, client, rec, "ua", "A")
	b := newNode(t, chains, client, messaging.NewRecorder(), "ub", "B")
	ctx := context.Background()

	created, err := a.reg.CreateAccount(ctx, &account.CreateRequest{
		ChainCode: testChain,
		Threshold: 2,
		Members:   []account.MemberInput{{Address: "A", UID: "ua"}, {Address: "B", UID: "ub"}},
	})
	require.NoError(t, err)
	invite := lastMessage(t, rec, types.MsgAccountInvite)

	require.NoError(t, b.sync.Handle(ctx, invite))
	require.NoError(t, b.sync.Handle(ctx, invite))
	assert.True(t, b.sync.applied.Contains(invite.ID))

	// the same payload under a new id is merged idempotently
	var payload types.AccountInvite
	require.NoError(t, invite.Decode(&payload))
	again, err := types.NewSyncMessage(types.MsgAccountInvite, "ua", &payload)
	require.NoError(t, err)
	require.NoError(t, b.sync.Handle(ctx, again))

	accounts, err := b.reg.ListAccounts("")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, created.Account.ID, accounts[0].ID)
	assert.Zero(t, client.AccountPulls.Load())
}

func TestHandle_UnknownAccountIsRecovered(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	client := backend.NewMemory()
	_, rec, accountID, queueID := deployedOrigin(t, chains, client)
	b := newNode(t, chains, client, messaging.NewRecorder(), "ub")
	ctx := context.Background()

	proposal := lastMessage(t, rec, types.MsgQueueProposal)
	require.NoError(t, b.sync.Handle(ctx, proposal))
	assert.Equal(t, int32(1), client.AccountPulls.Load())

	acc, err := b.reg.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, acc.Account.Status)
	assert.Equal(t, types.OwnerParticipant, acc.Account.Owner)
	assert.Empty(t, acc.SelfMembers(), "recovered members are not marked self without keys")

	q, err := b.coord.GetQueue(queueID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueSignable, q.Queue.Status)

	require.NoError(t, b.sync.Handle(ctx, proposal))
	assert.Equal(t, int32(1), client.AccountPulls.Load(), "duplicates do not pull again")
}

func TestHandle_UnknownAccountDropped(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	_, rec, _, queueID := deployedOrigin(t, chains, backend.NewMemory())
	proposal := lastMessage(t, rec, types.MsgQueueProposal)
	ctx := context.Background()

	empty := backend.NewMemory()
	b := newNode(t, chains, empty, messaging.NewRecorder(), "ub")
	err := b.sync.Handle(ctx, proposal)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeAccountNotFound), errors.CodeOf(err))
	assert.Equal(t, int32(1), empty.AccountPulls.Load())
	assert.False(t, b.sync.applied.Contains(proposal.ID), "dropped messages can be retried on redelivery")

	_, err = b.coord.GetQueue(queueID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	offline := newNode(t, chains, nil, messaging.NewRecorder(), "ub")
	err = offline.sync.Handle(ctx, proposal)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestHandle_RecoveryLimitedPerSender(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	_, rec, _, _ := deployedOrigin(t, chains, backend.NewMemory())
	proposal := lastMessage(t, rec, types.MsgQueueProposal)
	ctx := context.Background()

	empty := backend.NewMemory()
	b := newNode(t, chains, empty, messaging.NewRecorder(), "ub")
	limiter, err := ratelimit.NewRateLimiter(ratelimit.Config{MaxRequests: 1, WindowSize: time.Hour})
	require.NoError(t, err)
	b.sync.limiter = limiter

	require.Error(t, b.sync.Handle(ctx, proposal))
	assert.Equal(t, int32(1), empty.AccountPulls.Load())

	err = b.sync.Handle(ctx, proposal)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.Equal(t, int32(1), empty.AccountPulls.Load(), "the sender used up its recovery budget")
	assert.Equal(t, 1, limiter.Count(proposal.FromUID))
}

func TestHandle_UnknownQueueIsRecovered(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	client := backend.NewMemory()
	origin, rec, _, queueID := deployedOrigin(t, chains, client)
	ctx := context.Background()

	_, err := origin.coord.Execute(ctx, queueID, &queue.ExecuteRequest{Password: testPassword})
	require.NoError(t, err)
	executed := lastMessage(t, rec, types.MsgQueueExecuted)

	b := newNode(t, chains, client, messaging.NewRecorder(), "ub")
	require.NoError(t, b.sync.Handle(ctx, executed))
	assert.Equal(t, int32(1), client.QueuePulls.Load())
	assert.Equal(t, int32(1), client.AccountPulls.Load(), "the queue's account is pulled too")

	q, err := b.coord.GetQueue(queueID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueSubmitted, q.Queue.Status)
	assert.Equal(t, "tx-"+queueID, q.Queue.TxHash)
}

func TestHandle_AccountLifecycleMessages(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	client := backend.NewMemory()
	rec := messaging.NewRecorder()
	a := newNode(t, chains, client, rec, "ua", "A")
	b := newNode(t, chains, client, messaging.NewRecorder(), "ub", "B")
	ctx := context.Background()

	created, err := a.reg.CreateAccount(ctx, &account.CreateRequest{
		ChainCode: testChain,
		Threshold: 1,
		Members:   []account.MemberInput{{Address: "A", UID: "ua"}, {Address: "B", UID: "ub"}},
	})
	require.NoError(t, err)
	id := created.Account.ID
	require.NoError(t, b.sync.Handle(ctx, lastMessage(t, rec, types.MsgAccountInvite)))

	_, err = a.reg.Cancel(ctx, id)
	require.NoError(t, err)
	require.NoError(t, b.sync.Handle(ctx, lastMessage(t, rec, types.MsgAccountCanceled)))

	acc, err := b.reg.GetAccount(id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountCanceled, acc.Account.Status)

	deployed, err := types.NewSyncMessage(types.MsgAccountDeployed, "ua", &types.AccountDeployedPayload{AccountID: id, Address: "ms-" + id, DeployHash: "late"})
	require.NoError(t, err)
	require.NoError(t, b.sync.Handle(ctx, deployed))
	acc, err = b.reg.GetAccount(id)
	require.NoError(t, err)
	assert.Equal(t, types.AccountDeployed, acc.Account.Status, "a deployment outranks a cancel")
}

func TestHandle_Malformed(t *testing.T) {
	adapter := chaintest.New(testChain)
	n := newNode(t, chaintest.Registry(adapter), backend.NewMemory(), messaging.NewRecorder(), "ub")
	ctx := context.Background()

	require.Error(t, n.sync.Handle(ctx, nil))

	unknown, err := types.NewSyncMessage("SOMETHING_ELSE", "ua", map[string]string{"a": "b"})
	require.NoError(t, err)
	err = n.sync.Handle(ctx, unknown)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	broken := &types.SyncMessage{ID: "m1", Type: types.MsgQueueProposal, FromUID: "ua", Data: []byte(`[1,2]`)}
	err = n.sync.Handle(ctx, broken)
	assert.Equal(t, errors.Code(errors.ErrCodeInvalidPayload), errors.CodeOf(err))
}

type slowBackend struct {
	*backend.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *slowBackend) RecoverAccounts(ctx context.Context, uids []string, id string) ([]*types.MultisigAccountData, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Memory.RecoverAccounts(ctx, uids, id)
}

func TestRecoverAccount_SharesConcurrentPulls(t *testing.T) {
	adapter := chaintest.New(testChain)
	chains := chaintest.Registry(adapter)
	mem := backend.NewMemory()
	_, _, accountID, _ := deployedOrigin(t, chains, mem)

	slow := &slowBackend{Memory: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	b := newNode(t, chains, slow, messaging.NewRecorder(), "ub")
	ctx := context.Background()

	results := make(chan int, 2)
	go func() {
		n, _ := b.sync.RecoverAccount(ctx, accountID)
		results <- n
	}()
	<-slow.entered
	go func() {
		n, _ := b.sync.RecoverAccount(ctx, accountID)
		results <- n
	}()
	time.Sleep(50 * time.Millisecond)
	close(slow.release)

	assert.Equal(t, 1, <-results)
	assert.Equal(t, 1, <-results)
	assert.Equal(t, int32(1), mem.AccountPulls.Load())
}
