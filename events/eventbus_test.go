package events

import (
	"testing"
	"time"

	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	assert.Equal(t, 1, bus.GetTotalSubscriptions())
	assert.True(t, bus.HasSubscriber(id))

	q := &types.MultisigQueueEntry{ID: "q1", AccountID: "a1", Status: types.QueueSignable}
	bus.Publish(NewQueueStatusChanged(q, types.QueuePendingSignature))

	select {
	case ev := <-ch:
		assert.Equal(t, EventQueueStatusChanged, ev.Type())
		assert.Equal(t, "a1", ev.AccountID())
		assert.Equal(t, "q1", ev.QueueID())
		qe, ok := ev.(*QueueEvent)
		require.True(t, ok)
		assert.Equal(t, types.QueuePendingSignature, qe.Previous())
		assert.Equal(t, types.QueueSignable, qe.Queue().Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.GetTotalSubscriptions())
	_, open := <-ch
	assert.False(t, open)
}

func TestEventBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 80; i++ {
			bus.Publish(NewMemberConfirmed("a1", "addr"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 50)
}

func TestEventBus_EventSnapshots(t *testing.T) {
	acc := &types.MultisigAccount{ID: "a1", Status: types.AccountConfirmed}
	ev := NewAccountStatusChanged(acc, types.AccountPending)
	acc.Status = types.AccountDeployed

	assert.Equal(t, types.AccountConfirmed, ev.Account().Status)
	assert.Equal(t, types.AccountPending, ev.Previous())
	assert.Equal(t, "", ev.QueueID())

	sig := &types.MultisigSignature{QueueID: "q9", Address: "x", Status: types.SignatureConfirmed}
	sev := NewSignatureMerged("a1", sig)
	assert.Equal(t, "q9", sev.QueueID())
	assert.Equal(t, EventSignatureMerged, sev.Type())
}

func TestEventBus_SubscriberIDsAreUnique(t *testing.T) {
	bus := NewEventBus()
	a, _ := bus.Subscribe()
	b, _ := bus.Subscribe()
	assert.NotEqual(t, a, b)
	assert.ElementsMatch(t, []SubscriberID{a, b}, bus.GetSubscriberIDs())
}
