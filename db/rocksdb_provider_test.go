//go:build rocksdb
// +build rocksdb

package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func init() {
	taggedProviders["rocksdb"] = func(t *testing.T) IterableProvider {
		p, err := NewRocksDBProvider(RocksDBOptions{Directory: filepath.Join(t.TempDir(), "rdb"), SyncWrites: true})
		require.NoError(t, err)
		return p.(*RocksDBProvider)
	}
}
