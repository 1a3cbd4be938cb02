package messaging

import (
	"context"
	"sync"

	"github.com/mezonai/msig/types"
)

// Hub is an in-process message router. Every Transport obtained from it sees
// messages sent by any other, which lets several wallets share one process.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]hubHandler
}

type hubHandler struct {
	ctx     context.Context
	handler Handler
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]hubHandler)}
}

// Transport returns a transport bound to the hub.
func (h *Hub) Transport() *HubTransport {
	return &HubTransport{hub: h}
}

// HubTransport delivers synchronously on the sender's goroutine.
type HubTransport struct {
	hub *Hub
}

func (t *HubTransport) Send(ctx context.Context, uids []string, msg *types.SyncMessage) error {
	return sendAll(ctx, "memory", uids, msg, func(ctx context.Context, uid string, data []byte) error {
		t.hub.mu.RLock()
		targets := append([]hubHandler(nil), t.hub.handlers[uid]...)
		t.hub.mu.RUnlock()

		for _, target := range targets {
			if target.ctx.Err() != nil {
				continue
			}
			deliver(target.ctx, "memory", data, target.handler)
		}
		return nil
	})
}

func (t *HubTransport) Subscribe(ctx context.Context, uids []string, handler Handler) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	for _, uid := range uids {
		t.hub.handlers[uid] = append(t.hub.handlers[uid], hubHandler{ctx: ctx, handler: handler})
	}
	return nil
}

func (t *HubTransport) Close() error { return nil }

// Sent is one recorded Send call.
type Sent struct {
	UIDs    []string
	Message *types.SyncMessage
}

// Recorder is a Messenger that only records what it is asked to send.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	err  error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, uids []string, msg *types.SyncMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, Sent{UIDs: append([]string(nil), uids...), Message: msg})
	return nil
}

// Fail makes every later Send return err; nil restores normal behavior.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Messages returns the recorded sends of msgType, or all of them when empty.
func (r *Recorder) Messages(msgType types.MessageType) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if msgType == "" || s.Message.Type == msgType {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent send of msgType.
func (r *Recorder) Last(msgType types.MessageType) (Sent, bool) {
	msgs := r.Messages(msgType)
	if len(msgs) == 0 {
		return Sent{}, false
	}
	return msgs[len(msgs)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
