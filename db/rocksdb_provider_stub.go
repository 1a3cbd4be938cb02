//go:build !rocksdb
// +build !rocksdb

package db

import "fmt"

// NewRocksDBProvider fails in binaries built without the rocksdb tag.
func NewRocksDBProvider(opts RocksDBOptions) (DatabaseProvider, error) {
	return nil, fmt.Errorf("rocksdb store at %s needs a binary built with -tags rocksdb", opts.Directory)
}
