package db

import (
	"fmt"

	"github.com/mezonai/msig/logx"
)

// DBTxManager groups the writes of one repository operation (an account with
// its members, a queue entry with its signatures) into a single batch.
type DBTxManager struct {
	provider DatabaseProvider
}

func NewDBTxManager(provider DatabaseProvider) *DBTxManager {
	return &DBTxManager{provider: provider}
}

// WithBatch hands fn a fresh batch for op and writes it when fn returns nil.
// Nothing reaches the provider when fn fails.
func (tm *DBTxManager) WithBatch(op string, fn func(batch DatabaseBatch) error) error {
	batch := tm.provider.Batch()
	defer func() {
		if err := batch.Close(); err != nil {
			logx.Warn("DB", fmt.Sprintf("Batch close failed | op=%s | err=%v", op, err))
		}
	}()

	if err := fn(batch); err != nil {
		batch.Reset()
		logx.Debug("DB", fmt.Sprintf("Batch discarded | op=%s | err=%v", op, err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%s: commit batch: %w", op, err)
	}
	return nil
}
