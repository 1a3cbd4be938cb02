//go:build rocksdb
// +build rocksdb

package db

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/linxGnu/grocksdb"

	"github.com/mezonai/msig/logx"
)

// RocksDBProvider keeps wallet state in a single RocksDB instance.
type RocksDBProvider struct {
	once  sync.Once
	db    *grocksdb.DB
	cache *grocksdb.Cache
	ro    *grocksdb.ReadOptions
	wo    *grocksdb.WriteOptions
}

func NewRocksDBProvider(opts RocksDBOptions) (DatabaseProvider, error) {
	if opts.Directory == "" {
		return nil, fmt.Errorf("rocksdb directory cannot be empty")
	}
	cacheMB := opts.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = DefaultRocksDBCacheMB
	}

	dbOpts := grocksdb.NewDefaultOptions()
	defer dbOpts.Destroy()
	dbOpts.SetCreateIfMissing(true)
	dbOpts.SetCompression(grocksdb.LZ4Compression)

	cache := grocksdb.NewLRUCache(uint64(cacheMB) << 20)
	bbto := grocksdb.NewDefaultBlockBasedTableOptions()
	bbto.SetBlockCache(cache)
	bbto.SetFilterPolicy(grocksdb.NewBloomFilter(10))
	dbOpts.SetBlockBasedTableFactory(bbto)

	rdb, err := grocksdb.OpenDb(dbOpts, opts.Directory)
	if err != nil {
		cache.Destroy()
		return nil, fmt.Errorf("open rocksdb %s: %w", opts.Directory, err)
	}

	wo := grocksdb.NewDefaultWriteOptions()
	wo.SetSync(opts.SyncWrites)
	logx.Info("DB", fmt.Sprintf("RocksDB opened | dir=%s | cache_mb=%d | sync=%t", opts.Directory, cacheMB, opts.SyncWrites))

	return &RocksDBProvider{
		db:    rdb,
		cache: cache,
		ro:    grocksdb.NewDefaultReadOptions(),
		wo:    wo,
	}, nil
}

func (p *RocksDBProvider) Get(key []byte) ([]byte, error) {
	value, err := p.db.Get(p.ro, key)
	if err != nil {
		return nil, err
	}
	defer value.Free()
	if !value.Exists() {
		return nil, nil
	}
	return append([]byte(nil), value.Data()...), nil
}

func (p *RocksDBProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	return getBatchSequential(p, keys)
}

func (p *RocksDBProvider) Put(key, value []byte) error {
	return p.db.Put(p.wo, key, value)
}

func (p *RocksDBProvider) Delete(key []byte) error {
	return p.db.Delete(p.wo, key)
}

func (p *RocksDBProvider) Has(key []byte) (bool, error) {
	value, err := p.db.Get(p.ro, key)
	if err != nil {
		return false, err
	}
	defer value.Free()
	return value.Exists(), nil
}

func (p *RocksDBProvider) Close() error {
	p.once.Do(func() {
		p.ro.Destroy()
		p.wo.Destroy()
		p.db.Close()
		p.cache.Destroy()
	})
	return nil
}

func (p *RocksDBProvider) Batch() DatabaseBatch {
	return &RocksDBBatch{batch: grocksdb.NewWriteBatch(), provider: p}
}

// IteratePrefix walks keys in order starting at prefix. Keys and values
// handed to fn are copies.
func (p *RocksDBProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	it := p.db.NewIterator(p.ro)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k, v := it.Key(), it.Value()
		kdata := bytes.Clone(k.Data())
		vdata := bytes.Clone(v.Data())
		k.Free()
		v.Free()
		if !fn(kdata, vdata) {
			break
		}
	}
	return it.Err()
}

type RocksDBBatch struct {
	batch    *grocksdb.WriteBatch
	provider *RocksDBProvider
}

func (b *RocksDBBatch) Put(key, value []byte) { b.batch.Put(key, value) }

func (b *RocksDBBatch) Delete(key []byte) { b.batch.Delete(key) }

func (b *RocksDBBatch) Write() error {
	return b.provider.db.Write(b.provider.wo, b.batch)
}

func (b *RocksDBBatch) Reset() { b.batch.Clear() }

func (b *RocksDBBatch) Close() error {
	b.batch.Destroy()
	return nil
}
