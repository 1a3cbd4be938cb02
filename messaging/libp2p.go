package messaging

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/mezonai/msig/exception"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

type Libp2pOptions struct {
	ListenAddr string `yaml:"listen_addr"`
	// IdentitySeed is a hex ed25519 seed; a random identity is used when empty
	IdentitySeed   string   `yaml:"identity_seed"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
}

// Libp2pTransport gossips messages between wallets, one topic per uid.
type Libp2pTransport struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   []*pubsub.Subscription
}

func identity(seedHex string) (crypto.PrivKey, error) {
	if seedHex == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d hex bytes", ed25519.SeedSize)
	}
	return crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed))
}

func NewLibp2pTransport(opts Libp2pOptions) (*Libp2pTransport, error) {
	privKey, err := identity(opts.IdentitySeed)
	if err != nil {
		return nil, fmt.Errorf("failed to load libp2p identity: %w", err)
	}
	listen := opts.ListenAddr
	if listen == "" {
		listen = "/ip4/0.0.0.0/tcp/0"
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMaxMessageSize(1024*1024),
		pubsub.WithValidateQueueSize(128),
		pubsub.WithPeerOutboundQueueSize(128),
	)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	t := &Libp2pTransport{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
	}
	t.connectBootstrap(opts.BootstrapPeers)

	logx.Info("MESSAGING", fmt.Sprintf("Libp2p host started | peer_id=%s | addrs=%v", h.ID(), h.Addrs()))
	return t, nil
}

func (t *Libp2pTransport) connectBootstrap(addrs []string) {
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			logx.Error("MESSAGING", "Invalid bootstrap address:", addr, ", error:", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			logx.Error("MESSAGING", "Invalid bootstrap peer:", addr, ", error:", err)
			continue
		}
		exception.SafeGo("Libp2pTransport.connect", func() {
			ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
			defer cancel()
			if err := t.host.Connect(ctx, *info); err != nil {
				logx.Warn("MESSAGING", fmt.Sprintf("Failed to connect bootstrap peer | peer=%s | err=%v", info.ID, err))
				return
			}
			logx.Info("MESSAGING", "Connected to bootstrap peer:", info.ID)
		})
	}
}

// ID returns the local peer id.
func (t *Libp2pTransport) ID() peer.ID { return t.host.ID() }

func (t *Libp2pTransport) topic(uid string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := Topic(uid)
	if topic, ok := t.topics[name]; ok {
		return topic, nil
	}
	topic, err := t.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", name, err)
	}
	t.topics[name] = topic
	return topic, nil
}

func (t *Libp2pTransport) Send(ctx context.Context, uids []string, msg *types.SyncMessage) error {
	return sendAll(ctx, "libp2p", uids, msg, func(ctx context.Context, uid string, data []byte) error {
		topic, err := t.topic(uid)
		if err != nil {
			return err
		}
		return topic.Publish(ctx, data)
	})
}

func (t *Libp2pTransport) Subscribe(ctx context.Context, uids []string, handler Handler) error {
	if len(uids) == 0 {
		return fmt.Errorf("no uids to subscribe")
	}
	for _, uid := range uids {
		topic, err := t.topic(uid)
		if err != nil {
			return err
		}
		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", Topic(uid), err)
		}
		t.mu.Lock()
		t.subs = append(t.subs, sub)
		t.mu.Unlock()

		exception.SafeGo("Libp2pTransport.Subscribe", func() {
			t.readLoop(ctx, sub, handler)
		})
	}
	logx.Info("MESSAGING", fmt.Sprintf("Libp2p subscription live | uids=%v", uids))
	return nil
}

func (t *Libp2pTransport) readLoop(ctx context.Context, sub *pubsub.Subscription, handler Handler) {
	defer sub.Cancel()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			// context canceled or subscription closed
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		deliver(ctx, "libp2p", msg.Data, handler)
	}
}

func (t *Libp2pTransport) Close() error {
	t.mu.Lock()
	for _, sub := range t.subs {
		sub.Cancel()
	}
	t.subs = nil
	for name, topic := range t.topics {
		_ = topic.Close()
		delete(t.topics, name)
	}
	t.mu.Unlock()

	t.cancel()
	return t.host.Close()
}
