package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToSubscribedUIDs(t *testing.T) {
	hub := NewHub()
	alice := hub.Transport()
	bob := hub.Transport()

	var mu sync.Mutex
	var got []*types.SyncMessage
	require.NoError(t, bob.Subscribe(context.Background(), []string{"bob"}, func(_ context.Context, msg *types.SyncMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}))

	msg, err := types.NewSyncMessage(types.MsgAccountCanceled, "alice", &types.AccountCanceledPayload{AccountID: "acc-1"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(context.Background(), []string{"bob", "carol"}, msg))

	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	var payload types.AccountCanceledPayload
	require.NoError(t, got[0].Decode(&payload))
	assert.Equal(t, "acc-1", payload.AccountID)
}

func TestHub_CanceledSubscriptionStopsDelivery(t *testing.T) {
	hub := NewHub()
	tr := hub.Transport()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, tr.Subscribe(ctx, []string{"u"}, func(context.Context, *types.SyncMessage) { calls++ }))
	cancel()

	msg, err := types.NewSyncMessage(types.MsgAccountCanceled, "x", &types.AccountCanceledPayload{AccountID: "a"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), []string{"u"}, msg))
	assert.Equal(t, 0, calls)
}

func TestDeliver_DropsMalformed(t *testing.T) {
	called := false
	deliver(context.Background(), "test", []byte("{not json"), func(context.Context, *types.SyncMessage) { called = true })
	assert.False(t, called)

	deliver(context.Background(), "test", []byte(`{"id":"1"}`), func(context.Context, *types.SyncMessage) { called = true })
	assert.False(t, called, "messages without a type are dropped")
}

func TestSendAll_ReportsTransportFailure(t *testing.T) {
	msg, err := types.NewSyncMessage(types.MsgAccountCanceled, "x", &types.AccountCanceledPayload{AccountID: "a"})
	require.NoError(t, err)

	var tried []string
	err = sendAll(context.Background(), "test", []string{"a", "b"}, msg, func(_ context.Context, uid string, _ []byte) error {
		tried = append(tried, uid)
		if uid == "a" {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, tried)
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeTransportFailed), errors.CodeOf(err))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	m1, _ := types.NewSyncMessage(types.MsgAccountInvite, "x", &types.AccountInvite{ID: "a"})
	m2, _ := types.NewSyncMessage(types.MsgAccountCanceled, "x", &types.AccountCanceledPayload{AccountID: "a"})
	require.NoError(t, r.Send(context.Background(), []string{"u1"}, m1))
	require.NoError(t, r.Send(context.Background(), []string{"u2"}, m2))

	assert.Len(t, r.Messages(""), 2)
	last, ok := r.Last(types.MsgAccountInvite)
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, last.UIDs)

	r.Fail(assert.AnError)
	assert.Error(t, r.Send(context.Background(), nil, m1))
	r.Reset()
	assert.Empty(t, r.Messages(""))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "msig/uid/u-1", Topic("u-1"))
}
