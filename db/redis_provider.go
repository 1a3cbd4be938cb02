package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mezonai/msig/logx"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backed provider
type RedisOptions struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// RedisProvider implements DatabaseProvider for Redis
type RedisProvider struct {
	client    *redis.Client
	ctx       context.Context
	namespace string
}

// NewRedisProvider creates a new Redis provider
func NewRedisProvider(opts RedisOptions) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx := context.Background()

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisProviderWithClient(client, opts.Namespace), nil
}

// NewRedisProviderWithClient wraps an existing client, sharing it with the
// Redis message transport.
func NewRedisProviderWithClient(client *redis.Client, namespace string) *RedisProvider {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &RedisProvider{
		client:    client,
		ctx:       context.Background(),
		namespace: namespace,
	}
}

func (p *RedisProvider) redisKey(key []byte) string {
	return p.namespace + string(key)
}

// Get retrieves a value by key
func (p *RedisProvider) Get(key []byte) ([]byte, error) {
	value, err := p.client.Get(p.ctx, p.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

// GetBatch retrieves multiple values with a single MGET
func (p *RedisProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = p.redisKey(k)
	}
	values, err := p.client.MGet(p.ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		result[string(keys[i])] = []byte(s)
	}
	return result, nil
}

// Put stores a key-value pair
func (p *RedisProvider) Put(key, value []byte) error {
	logx.Debug("REDIS", "Put key:", p.redisKey(key), "value length:", len(value))
	return p.client.Set(p.ctx, p.redisKey(key), value, 0).Err()
}

// Delete removes a key-value pair
func (p *RedisProvider) Delete(key []byte) error {
	return p.client.Del(p.ctx, p.redisKey(key)).Err()
}

// Has checks if a key exists
func (p *RedisProvider) Has(key []byte) (bool, error) {
	count, err := p.client.Exists(p.ctx, p.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close closes the database connection
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Batch returns a new batch backed by a MULTI/EXEC pipeline
func (p *RedisProvider) Batch() DatabaseBatch {
	return &RedisBatch{
		provider: p,
		pipe:     p.client.TxPipeline(),
	}
}

// IteratePrefix implements IterableProvider for Redis using SCAN. Keys are
// collected first and visited in ascending order.
func (p *RedisProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	pattern := p.redisKey(prefix) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := p.client.Scan(p.ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		val, err := p.client.Get(p.ctx, k).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}
		if !fn([]byte(strings.TrimPrefix(k, p.namespace)), val) {
			return nil
		}
	}
	return nil
}

// RedisBatch implements DatabaseBatch for Redis
type RedisBatch struct {
	provider *RedisProvider
	pipe     redis.Pipeliner
}

// Put adds a key-value pair to the batch
func (b *RedisBatch) Put(key, value []byte) {
	b.pipe.Set(b.provider.ctx, b.provider.redisKey(key), value, 0)
}

// Delete adds a deletion to the batch
func (b *RedisBatch) Delete(key []byte) {
	b.pipe.Del(b.provider.ctx, b.provider.redisKey(key))
}

// Write commits all operations in the batch
func (b *RedisBatch) Write() error {
	_, err := b.pipe.Exec(b.provider.ctx)
	return err
}

// Reset clears the batch
func (b *RedisBatch) Reset() {
	b.pipe.Discard()
	b.pipe = b.provider.client.TxPipeline()
}

// Close releases batch resources
func (b *RedisBatch) Close() error {
	b.pipe.Discard()
	return nil
}
