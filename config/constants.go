package config

const (
	MessagingRedis  = "redis"
	MessagingLibp2p = "libp2p"
	// MessagingMemory only reaches wallets in the same process
	MessagingMemory = "memory"
)

const (
	DefaultChainsFile       = "./config/chains.ini"
	DefaultKeystoreDir      = "./data/keystore"
	DefaultStoreDir         = "./data/multisig"
	DefaultMetricsAddr      = ":9100"
	DefaultLibp2pListenAddr = "/ip4/0.0.0.0/tcp/4001"
)
