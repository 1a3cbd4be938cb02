package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mezonai/msig/logx"
)

type SubscriberID string

// Publisher is the write side of the bus used by the account and queue layers.
type Publisher interface {
	Publish(event MultisigEvent)
}

type Subscriber struct {
	ID      SubscriberID
	Channel chan MultisigEvent
}

type EventBus struct {
	subscribers map[SubscriberID]*Subscriber
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[SubscriberID]*Subscriber),
	}
}

func (eb *EventBus) generateUUIDID() SubscriberID {
	id := uuid.Must(uuid.NewV7())
	return SubscriberID(id.String())
}

func (eb *EventBus) Subscribe() (SubscriberID, chan MultisigEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.generateUUIDID()
	ch := make(chan MultisigEvent, 50)
	eb.subscribers[id] = &Subscriber{ID: id, Channel: ch}

	logx.Info("EVENTBUS", fmt.Sprintf("Subscribed | subscriber_id=%s | total_subscribers=%d", id, len(eb.subscribers)))
	return id, ch
}

// Unsubscribe removes a subscription by ID and closes its channel.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscriber, exists := eb.subscribers[id]
	if !exists {
		logx.Warn("EVENTBUS", fmt.Sprintf("Attempted to unsubscribe non-existent subscriber | subscriber_id=%s", id))
		return false
	}

	delete(eb.subscribers, id)
	close(subscriber.Channel)

	logx.Info("EVENTBUS", fmt.Sprintf("Unsubscribed | subscriber_id=%s | remaining_subscribers=%d", id, len(eb.subscribers)))
	return true
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(event MultisigEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if len(eb.subscribers) == 0 {
		logx.Debug("EVENTBUS", fmt.Sprintf("No subscribers | event_type=%s | account=%s | queue=%s", event.Type(), event.AccountID(), event.QueueID()))
		return
	}

	logx.Debug("EVENTBUS", fmt.Sprintf("Publishing | event_type=%s | account=%s | queue=%s | subscribers=%d",
		event.Type(), event.AccountID(), event.QueueID(), len(eb.subscribers)))
	for id, subscriber := range eb.subscribers {
		select {
		case subscriber.Channel <- event:
		default:
			logx.Warn("EVENTBUS", fmt.Sprintf("Subscriber channel full | subscriber_id=%s | event_type=%s", id, event.Type()))
		}
	}
}

func (eb *EventBus) GetTotalSubscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

func (eb *EventBus) GetSubscriberIDs() []SubscriberID {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	ids := make([]SubscriberID, 0, len(eb.subscribers))
	for id := range eb.subscribers {
		ids = append(ids, id)
	}
	return ids
}

func (eb *EventBus) HasSubscriber(id SubscriberID) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	_, exists := eb.subscribers[id]
	return exists
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(MultisigEvent) {}
