package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mezonai/msig/jobs"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/ratelimit"
	"github.com/mezonai/msig/store"
	"github.com/mezonai/msig/syncer"
)

// Default returns a configuration that runs against local files only.
func Default() *Config {
	return &Config{
		ChainsFile: DefaultChainsFile,
		Store: store.StoreConfig{
			Type:      store.LevelDBStoreType,
			Directory: DefaultStoreDir,
		},
		Keystore:  KeystoreConfig{Directory: DefaultKeystoreDir},
		Messaging: MessagingConfig{Type: MessagingMemory},
		Jobs:      jobs.DefaultConfig(),
		Metrics:   MetricsConfig{Addr: DefaultMetricsAddr},
		Sync: SyncConfig{
			CacheSize:     syncer.DefaultCacheSize,
			RecoveryLimit: ratelimit.DefaultConfig(),
		},
	}
}

// Load reads the YAML file at path on top of Default and validates it.
func Load(path string) (*Config, error) {
	logx.Info("CONFIG", fmt.Sprintf("Loading config | path=%s", path))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer file.Close()

	cfgFile := ConfigFile{Config: *Default()}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg := &cfgFile.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded config | uids=%v | store=%s | messaging=%s | backend=%t",
		cfg.UIDs, cfg.Store.Type, cfg.Messaging.Type, cfg.Backend.URL != ""))
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.UIDs) == 0 {
		return fmt.Errorf("at least one uid is required")
	}
	seen := make(map[string]struct{}, len(c.UIDs))
	for _, uid := range c.UIDs {
		if strings.TrimSpace(uid) == "" {
			return fmt.Errorf("uids must not be empty")
		}
		if _, dup := seen[uid]; dup {
			return fmt.Errorf("duplicate uid %s", uid)
		}
		seen[uid] = struct{}{}
	}
	if c.ChainsFile == "" {
		return fmt.Errorf("chains_file is required")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Keystore.Directory == "" {
		return fmt.Errorf("keystore directory is required")
	}
	if err := c.Messaging.Validate(); err != nil {
		return fmt.Errorf("messaging: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	return nil
}

func (m *MessagingConfig) Validate() error {
	switch m.Type {
	case MessagingRedis:
		if m.Redis.Addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	case MessagingLibp2p:
		if m.Libp2p.ListenAddr == "" {
			m.Libp2p.ListenAddr = DefaultLibp2pListenAddr
		}
	case MessagingMemory:
	case "":
		return fmt.Errorf("messaging type cannot be empty")
	default:
		return fmt.Errorf("unsupported messaging type: %s", m.Type)
	}
	return nil
}
