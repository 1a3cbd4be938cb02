package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/msig/store"
	"github.com/mezonai/msig/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const walletYAML = `
wallet:
  uids: [u-alice, u-alice-2]
  chains_file: /etc/msig/chains.ini
  log:
    file: /var/log/msig.log
    level: debug
  store:
    type: bolt
    directory: /var/lib/msig/multisig.db
  keystore:
    directory: /var/lib/msig/keys
    iterations: 50000
  messaging:
    type: redis
    redis:
      addr: localhost:6379
      prefix: wallet
  backend:
    url: https://api.example.com
    timeout: 5s
    headers:
      Authorization: Bearer token
  jobs:
    poll_interval: 30s
  metrics:
    enabled: true
  sync:
    recovery_limit:
      max_requests: 3
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "wallet.yml", walletYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"u-alice", "u-alice-2"}, cfg.UIDs)
	assert.Equal(t, "/etc/msig/chains.ini", cfg.ChainsFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, store.BoltStoreType, cfg.Store.Type)
	assert.Equal(t, 50000, cfg.Keystore.Iterations)
	assert.Equal(t, MessagingRedis, cfg.Messaging.Type)
	assert.Equal(t, "wallet", cfg.Messaging.Redis.Prefix)
	assert.Equal(t, "https://api.example.com", cfg.Backend.URL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "Bearer token", cfg.Backend.Headers["Authorization"])

	assert.Equal(t, 30*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, time.Minute, cfg.Jobs.ExpireInterval, "unset values keep their defaults")
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Equal(t, 4096, cfg.Sync.CacheSize)
	assert.Equal(t, 3, cfg.Sync.RecoveryLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Sync.RecoveryLimit.WindowSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yml", "wallet:\n  uids: [a]\n  unknown_field: 1\n"))
	require.Error(t, err, "unknown fields are rejected")

	_, err = Load(writeFile(t, "nouid.yml", "wallet:\n  chains_file: x.ini\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults with a uid", func(c *Config) {}, true},
		{"no uid", func(c *Config) { c.UIDs = nil }, false},
		{"blank uid", func(c *Config) { c.UIDs = []string{" "} }, false},
		{"duplicate uid", func(c *Config) { c.UIDs = []string{"a", "a"} }, false},
		{"no chains file", func(c *Config) { c.ChainsFile = "" }, false},
		{"bad store", func(c *Config) { c.Store = store.StoreConfig{Type: "cassandra"} }, false},
		{"no keystore dir", func(c *Config) { c.Keystore.Directory = "" }, false},
		{"redis without addr", func(c *Config) { c.Messaging.Type = MessagingRedis }, false},
		{"unknown messaging", func(c *Config) { c.Messaging.Type = "carrier-pigeon" }, false},
		{"empty messaging", func(c *Config) { c.Messaging.Type = "" }, false},
		{"libp2p default listen addr", func(c *Config) { c.Messaging.Type = MessagingLibp2p }, true},
		{"metrics without addr", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.UIDs = []string{"u1"}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	cfg := Default()
	cfg.UIDs = []string{"u1"}
	cfg.Messaging.Type = MessagingLibp2p
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultLibp2pListenAddr, cfg.Messaging.Libp2p.ListenAddr)
}

const chainsINI = `
[eth]
url = https://eth.example.com
chain_id = 1
safe_factory = 0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67
timeout = 20s
header.x-api-key = secret

[btc]
url = localhost:8332
user = rpc
pass = rpc
disable_tls = true
fallback_fee_rate = 12

[sui]
url = https://fullnode.mainnet.sui.io
gas_budget = 20000000

[ton]
url = https://gateway.example.com/ton
disabled = true
`

func TestLoadChains(t *testing.T) {
	endpoints, err := LoadChains(writeFile(t, "chains.ini", chainsINI))
	require.NoError(t, err)
	require.Len(t, endpoints, 3)

	byCode := make(map[types.ChainCode]int)
	for i, ep := range endpoints {
		byCode[ep.Chain] = i
	}
	eth := endpoints[byCode[types.ChainEthereum]]
	assert.Equal(t, int64(1), eth.ChainID)
	assert.Equal(t, 20*time.Second, eth.Timeout)
	assert.Equal(t, "secret", eth.Headers["x-api-key"])

	btc := endpoints[byCode[types.ChainBitcoin]]
	assert.True(t, btc.DisableTLS)
	assert.Equal(t, int64(12), btc.FallbackFeeRate)
	assert.Nil(t, btc.Headers)

	sui := endpoints[byCode[types.ChainSui]]
	assert.Equal(t, "20000000", sui.GasBudget)

	_, ok := byCode[types.ChainTon]
	assert.False(t, ok, "disabled chains are skipped")
}

func TestLoadChains_Errors(t *testing.T) {
	_, err := LoadChains(writeFile(t, "unknown.ini", "[xrp]\nurl = x\n"))
	require.Error(t, err)

	_, err = LoadChains(writeFile(t, "nourl.ini", "[eth]\nchain_id = 1\n"))
	require.Error(t, err)

	_, err = LoadChains(writeFile(t, "empty.ini", "; nothing\n"))
	require.Error(t, err)

	_, err = LoadChains(filepath.Join(t.TempDir(), "missing.ini"))
	require.Error(t, err)
}
