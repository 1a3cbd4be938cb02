package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mezonai/msig/exception"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to every channel name
	Prefix string `yaml:"prefix"`
}

// RedisTransport relays messages over Redis pub/sub, one channel per uid.
type RedisTransport struct {
	client *redis.Client
	prefix string

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisTransport(opts RedisOptions) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisTransportWithClient(client, opts.Prefix), nil
}

func NewRedisTransportWithClient(client *redis.Client, prefix string) *RedisTransport {
	return &RedisTransport{client: client, prefix: prefix}
}

func (t *RedisTransport) channel(uid string) string {
	return t.prefix + Topic(uid)
}

func (t *RedisTransport) Send(ctx context.Context, uids []string, msg *types.SyncMessage) error {
	return sendAll(ctx, "redis", uids, msg, func(ctx context.Context, uid string, data []byte) error {
		return t.client.Publish(ctx, t.channel(uid), data).Err()
	})
}

func (t *RedisTransport) Subscribe(ctx context.Context, uids []string, handler Handler) error {
	if len(uids) == 0 {
		return fmt.Errorf("no uids to subscribe")
	}
	channels := make([]string, 0, len(uids))
	for _, uid := range uids {
		channels = append(channels, t.channel(uid))
	}

	ps := t.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation so no message published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe %v: %w", channels, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, ps)
	t.mu.Unlock()

	logx.Info("MESSAGING", fmt.Sprintf("Redis subscription live | channels=%v", channels))
	exception.SafeGo("RedisTransport.Subscribe", func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				deliver(ctx, "redis", []byte(m.Payload), handler)
			}
		}
	})
	return nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return t.client.Close()
}
