package db

// DatabaseProvider abstracts the low-level key-value operations the
// multisig repository is built on, so the same store code runs on
// LevelDB, BoltDB, RocksDB, Redis or MongoDB.
// Get returns (nil, nil) for a missing key.
type DatabaseProvider interface {
	// Get retrieves a value by key
	Get(key []byte) ([]byte, error)

	// GetBatch retrieves multiple values by keys in a single operation.
	// Missing keys are absent from the result.
	GetBatch(keys [][]byte) (map[string][]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// IterableProvider extends DatabaseProvider with iteration capabilities
type IterableProvider interface {
	DatabaseProvider

	// IteratePrefix iterates over all key-value pairs with the given prefix
	// in ascending key order. The callback returns false to stop iteration.
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error
}

// DatabaseBatch provides atomic batch operations
type DatabaseBatch interface {
	// Put adds a key-value pair to the batch
	Put(key, value []byte)

	// Delete adds a deletion to the batch
	Delete(key []byte)

	// Write commits all operations in the batch
	Write() error

	// Reset clears the batch
	Reset()

	// Close releases batch resources
	Close() error
}

// DefaultRocksDBCacheMB sizes the RocksDB block cache when none is configured.
const DefaultRocksDBCacheMB = 8

// RocksDBOptions configures the RocksDB provider. SyncWrites fsyncs every
// write so a signature accepted locally survives a crash.
type RocksDBOptions struct {
	Directory   string `json:"-" yaml:"-"`
	CacheSizeMB int    `json:"cache_size_mb" yaml:"cache_size_mb"`
	SyncWrites  bool   `json:"sync_writes" yaml:"sync_writes"`
}

// getBatchSequential implements GetBatch for backends without a multi-get.
func getBatchSequential(p DatabaseProvider, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := p.Get(key)
		if err != nil {
			return nil, err
		}
		if value != nil {
			result[string(key)] = value
		}
	}
	return result, nil
}
