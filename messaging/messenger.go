package messaging

import (
	"context"
	"fmt"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/types"
)

// Handler receives one decoded inbound message.
type Handler func(ctx context.Context, msg *types.SyncMessage)

// Messenger sends a message to every given uid. Delivery is at least once
// with no ordering guarantee.
type Messenger interface {
	Send(ctx context.Context, uids []string, msg *types.SyncMessage) error
}

// Transport is a Messenger that can also deliver inbound messages for a set
// of local uids. Subscribe returns once the subscription is live; delivery
// stops when ctx is done or the transport is closed.
type Transport interface {
	Messenger
	Subscribe(ctx context.Context, uids []string, handler Handler) error
	Close() error
}

// Topic returns the channel name a uid listens on.
func Topic(uid string) string {
	return "msig/uid/" + uid
}

func encode(msg *types.SyncMessage) ([]byte, error) {
	data, err := msg.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// deliver decodes data and hands it to handler, dropping garbage.
func deliver(ctx context.Context, transport string, data []byte, handler Handler) {
	msg, err := types.ParseSyncMessage(data)
	if err != nil {
		logx.Warn("MESSAGING", fmt.Sprintf("Dropping malformed message | transport=%s | err=%v", transport, err))
		return
	}
	handler(ctx, msg)
}

// sendAll publishes data to every uid and reports the first failure after
// trying all of them.
func sendAll(ctx context.Context, transport string, uids []string, msg *types.SyncMessage, publish func(ctx context.Context, uid string, data []byte) error) error {
	if len(uids) == 0 {
		return nil
	}
	data, err := encode(msg)
	if err != nil {
		return errors.Internal(err)
	}
	var firstErr error
	for _, uid := range uids {
		if err := publish(ctx, uid, data); err != nil {
			logx.Error("MESSAGING", fmt.Sprintf("Send failed | transport=%s | type=%s | uid=%s | err=%v", transport, msg.Type, uid, err))
			if firstErr == nil {
				firstErr = errors.Network(errors.ErrCodeTransportFailed, err)
			}
			continue
		}
	}
	if firstErr == nil {
		monitoring.RecordMessageSent(string(msg.Type))
		logx.Debug("MESSAGING", fmt.Sprintf("Sent | transport=%s | type=%s | id=%s | uids=%d", transport, msg.Type, msg.ID, len(uids)))
	}
	return firstErr
}

// SendPayload wraps payload in an envelope from fromUID and sends it to uids.
func SendPayload(ctx context.Context, m Messenger, uids []string, msgType types.MessageType, fromUID string, payload interface{}) error {
	if len(uids) == 0 {
		return nil
	}
	msg, err := types.NewSyncMessage(msgType, fromUID, payload)
	if err != nil {
		return errors.Internal(err)
	}
	return m.Send(ctx, uids, msg)
}
