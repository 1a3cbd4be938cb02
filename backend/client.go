package backend

import (
	"context"

	"github.com/mezonai/msig/types"
)

// Raw data kinds understood by the backend.
const (
	RawDataMultisig = "multisig"
	RawDataTrans    = "trans"
)

type ServiceFee struct {
	Name         string  `json:"name"`
	Code         string  `json:"code"`
	ChainCode    string  `json:"chainCode"`
	FeeTokenCode string  `json:"feeTokenCode"`
	Fee          float64 `json:"free"`
	Price        float64 `json:"price"`
	OldFee       float64 `json:"oldFree"`
}

type DepositAddress struct {
	ID        string `json:"id"`
	ChainCode string `json:"chainCode"`
	Address   string `json:"address"`
	Enable    bool   `json:"enable"`
}

// Client is the wallet backend: service fee quotes, fee deposit addresses and
// the raw data store used to recover accounts and queue entries a wallet
// missed while offline.
type Client interface {
	ServiceFee(ctx context.Context, chain types.ChainCode) (*ServiceFee, error)
	DepositAddress(ctx context.Context, chain types.ChainCode) (*DepositAddress, error)
	// RecoverAccounts returns the accounts stored for uids, only id when set
	RecoverAccounts(ctx context.Context, uids []string, id string) ([]*types.MultisigAccountData, error)
	RecoverQueues(ctx context.Context, uids []string, id string) ([]*types.MultisigQueueData, error)
	SaveAccount(ctx context.Context, data *types.MultisigAccountData) error
	SaveQueue(ctx context.Context, data *types.MultisigQueueData) error
}
