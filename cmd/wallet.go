package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mezonai/msig/account"
	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/config"
	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/keystore"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/queue"
	"github.com/mezonai/msig/store"
)

// passwordEnv is read when no --password flag is given
const passwordEnv = "MSIG_PASSWORD"

// wallet is every component of one wallet process, built from the config file.
type wallet struct {
	cfg *config.Config

	chains    *chain.Registry
	keyDB     db.DatabaseProvider
	keys      *keystore.LocalKeystore
	store     store.MultisigStore
	transport messaging.Transport
	backend   backend.Client
	bus       *events.EventBus
	accounts  *account.Registry
	queues    *queue.Coordinator

	closers []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logx.Init(cfg.Log)
	return cfg, nil
}

// openKeys opens only the chains and the keystore, enough for key management.
func openKeys(ctx context.Context) (*wallet, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	w := &wallet{cfg: cfg}
	if err := w.openChains(ctx); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.openKeystore(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// openWallet builds the full wallet: storage, keys, transport, account
// registry and queue coordinator.
func openWallet(ctx context.Context) (*wallet, error) {
	w, err := openKeys(ctx)
	if err != nil {
		return nil, err
	}
	cfg := w.cfg

	st, err := store.CreateStore(&cfg.Store)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	w.store = st
	w.closers = append(w.closers, func() { _ = st.Close() })

	transport, err := newTransport(&cfg.Messaging)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.transport = transport
	w.closers = append(w.closers, func() { _ = transport.Close() })

	if cfg.Backend.URL != "" {
		w.backend = backend.NewHTTPClient(cfg.Backend)
	} else {
		logx.Warn("WALLET", "No backend configured, fees, deposit addresses and recovery are unavailable")
	}

	w.bus = events.NewEventBus()
	w.accounts, err = account.NewRegistry(account.Options{
		Store:     w.store,
		Chains:    w.chains,
		Keystore:  w.keys,
		Messenger: w.transport,
		Backend:   w.backend,
		Events:    w.bus,
		UIDs:      cfg.UIDs,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	w.queues, err = queue.NewCoordinator(queue.Options{
		Store:     w.store,
		Chains:    w.chains,
		Keystore:  w.keys,
		Messenger: w.transport,
		Backend:   w.backend,
		Events:    w.bus,
		UIDs:      cfg.UIDs,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	w.accounts.SetQueueCanceler(w.queues)

	logx.Info("WALLET", fmt.Sprintf("Wallet opened | uids=%v | chains=%v | store=%s | messaging=%s",
		cfg.UIDs, w.chains.Chains(), cfg.Store.Type, cfg.Messaging.Type))
	return w, nil
}

func (w *wallet) openChains(ctx context.Context) error {
	endpoints, err := config.LoadChains(w.cfg.ChainsFile)
	if err != nil {
		return err
	}
	chains, closeChains, err := chain.BuildRegistry(ctx, endpoints)
	if err != nil {
		return fmt.Errorf("failed to build chain adapters: %w", err)
	}
	w.chains = chains
	w.closers = append(w.closers, closeChains)
	return nil
}

func (w *wallet) openKeystore() error {
	if err := os.MkdirAll(w.cfg.Keystore.Directory, 0o700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}
	provider, err := db.NewLevelDBProvider(w.cfg.Keystore.Directory)
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}
	w.keyDB = provider
	w.closers = append(w.closers, func() { _ = provider.Close() })

	keys, err := keystore.NewLocalKeystore(provider, w.chains, keystore.Config{Iterations: w.cfg.Keystore.Iterations})
	if err != nil {
		return err
	}
	w.keys = keys
	return nil
}

// Close releases everything in reverse order of opening.
func (w *wallet) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}

func newTransport(cfg *config.MessagingConfig) (messaging.Transport, error) {
	switch cfg.Type {
	case config.MessagingRedis:
		t, err := messaging.NewRedisTransport(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis messaging: %w", err)
		}
		return t, nil
	case config.MessagingLibp2p:
		t, err := messaging.NewLibp2pTransport(cfg.Libp2p)
		if err != nil {
			return nil, fmt.Errorf("failed to start libp2p messaging: %w", err)
		}
		return t, nil
	case config.MessagingMemory:
		return messaging.NewHub().Transport(), nil
	default:
		return nil, fmt.Errorf("unsupported messaging type: %s", cfg.Type)
	}
}

// password returns the flag value, falling back to the environment.
func password(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnv)
}
