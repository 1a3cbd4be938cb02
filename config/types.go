package config

import (
	"github.com/mezonai/msig/backend"
	"github.com/mezonai/msig/jobs"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/messaging"
	"github.com/mezonai/msig/ratelimit"
	"github.com/mezonai/msig/store"
)

// Config is the wallet daemon configuration, read from a YAML file.
type Config struct {
	// UIDs are the messaging identities of this wallet; the first one signs outgoing messages
	UIDs []string `yaml:"uids"`
	// ChainsFile points to the INI file with one section per chain endpoint
	ChainsFile string `yaml:"chains_file"`

	Log       logx.Options      `yaml:"log"`
	Store     store.StoreConfig `yaml:"store"`
	Keystore  KeystoreConfig    `yaml:"keystore"`
	Messaging MessagingConfig   `yaml:"messaging"`
	Backend   backend.Config    `yaml:"backend"`
	Jobs      jobs.Config       `yaml:"jobs"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Sync      SyncConfig        `yaml:"sync"`
}

type KeystoreConfig struct {
	// Directory holds the LevelDB with encrypted keys
	Directory  string `yaml:"directory"`
	Iterations int    `yaml:"iterations"`
}

type MessagingConfig struct {
	Type   string                  `yaml:"type"`
	Redis  messaging.RedisOptions  `yaml:"redis"`
	Libp2p messaging.Libp2pOptions `yaml:"libp2p"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SyncConfig struct {
	// CacheSize bounds the applied message id cache
	CacheSize int `yaml:"cache_size"`
	// RecoveryLimit caps the backend pulls one sender's messages may trigger
	RecoveryLimit ratelimit.Config `yaml:"recovery_limit"`
}

// ConfigFile is the top-level structure of the YAML file
type ConfigFile struct {
	Config Config `yaml:"wallet"`
}
