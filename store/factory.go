package store

import (
	"fmt"

	"github.com/mezonai/msig/db"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB implementation
	LevelDBStoreType StoreType = "leveldb"

	// RocksDBStoreType uses the RocksDB implementation, requires -tags rocksdb
	RocksDBStoreType StoreType = "rocksdb"

	// BoltStoreType uses a single bbolt file
	BoltStoreType StoreType = "bolt"

	// RedisStoreType uses the Redis implementation
	RedisStoreType StoreType = "redis"

	// MongoStoreType uses one MongoDB collection
	MongoStoreType StoreType = "mongo"

	// PostgresStoreType uses relational tables through lib/pq
	PostgresStoreType StoreType = "postgres"

	// MemoryStoreType keeps everything in an in-memory LevelDB, for tests and dry runs
	MemoryStoreType StoreType = "memory"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	// Type specifies which store implementation to use
	Type StoreType `json:"type" yaml:"type"`

	// Directory is the database directory path (for file-based databases)
	Directory string `json:"directory" yaml:"directory"`

	RocksDB     db.RocksDBOptions `json:"rocksdb" yaml:"rocksdb"`
	Redis       db.RedisOptions   `json:"redis" yaml:"redis"`
	Mongo       db.MongoOptions   `json:"mongo" yaml:"mongo"`
	PostgresURL string            `json:"postgres_url" yaml:"postgres_url"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case "":
		return fmt.Errorf("store type cannot be empty")
	case LevelDBStoreType, RocksDBStoreType, BoltStoreType:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty for %s store", sc.Type)
		}
	case RedisStoreType:
		if sc.Redis.Addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	case MongoStoreType:
		if sc.Mongo.URI == "" {
			return fmt.Errorf("mongo uri cannot be empty")
		}
	case PostgresStoreType:
		if sc.PostgresURL == "" {
			return fmt.Errorf("postgres url cannot be empty")
		}
	case MemoryStoreType:
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
	return nil
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

// NewStoreFactory creates a new store factory
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// CreateMultisigStore builds the store selected by config
func (sf *StoreFactory) CreateMultisigStore(config *StoreConfig) (MultisigStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.Type == PostgresStoreType {
		conn, err := ConnectDatabase(config.PostgresURL)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLMultisigStore(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	}

	provider, err := sf.CreateProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	s, err := NewGenericMultisigStore(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to create multisig store: %w", err)
	}
	return s, nil
}

// CreateProvider creates a key-value provider based on the configuration
func (sf *StoreFactory) CreateProvider(config *StoreConfig) (db.DatabaseProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch config.Type {
	case LevelDBStoreType:
		return db.NewLevelDBProvider(config.Directory)
	case RocksDBStoreType:
		opts := config.RocksDB
		opts.Directory = config.Directory
		return db.NewRocksDBProvider(opts)
	case BoltStoreType:
		return db.NewBoltProvider(config.Directory)
	case RedisStoreType:
		return db.NewRedisProvider(config.Redis)
	case MongoStoreType:
		return db.NewMongoProvider(config.Mongo)
	case MemoryStoreType:
		return db.NewMemLevelDBProvider()
	default:
		return nil, fmt.Errorf("store type %s has no key-value provider", config.Type)
	}
}

// Global factory instance
var globalFactory = NewStoreFactory()

// CreateStore creates a multisig store using the global factory
func CreateStore(config *StoreConfig) (MultisigStore, error) {
	return globalFactory.CreateMultisigStore(config)
}
