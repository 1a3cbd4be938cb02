package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// UTXO is one spendable output. Amount is in satoshis.
type UTXO struct {
	TxID     string
	Vout     uint32
	Amount   int64
	PkScript []byte
}

// UTXOClient is the node access a bitcoin-like adapter needs.
type UTXOClient interface {
	ListUnspent(ctx context.Context, address btcutil.Address) ([]UTXO, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
	BlockCount(ctx context.Context) (int64, error)
	// TxConfirmations reports found=false when the node does not know hash
	TxConfirmations(ctx context.Context, hash string) (confirmations int64, found bool, err error)
	// FeeRate returns the suggested fee rate in satoshi per virtual byte
	FeeRate(ctx context.Context) (int64, error)
}

type BtcdRPCConfig struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
	// FallbackFeeRate is used when the node cannot estimate, sat/vB
	FallbackFeeRate int64
}

// BtcdRPCClient talks to bitcoind compatible nodes (bitcoind, litecoind,
// dogecoind) over HTTP POST JSON-RPC.
type BtcdRPCClient struct {
	client   *rpcclient.Client
	fallback int64
}

func NewBtcdRPCClient(cfg BtcdRPCConfig) (*BtcdRPCClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client for %s: %w", cfg.Host, err)
	}
	fallback := cfg.FallbackFeeRate
	if fallback <= 0 {
		fallback = 10
	}
	return &BtcdRPCClient{client: client, fallback: fallback}, nil
}

func (c *BtcdRPCClient) ListUnspent(_ context.Context, address btcutil.Address) ([]UTXO, error) {
	unspent, err := c.client.ListUnspentMinMaxAddresses(0, 9999999, []btcutil.Address{address})
	if err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(unspent))
	for _, u := range unspent {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount of %s:%d: %w", u.TxID, u.Vout, err)
		}
		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid script of %s:%d: %w", u.TxID, u.Vout, err)
		}
		out = append(out, UTXO{TxID: u.TxID, Vout: u.Vout, Amount: int64(amount), PkScript: script})
	}
	return out, nil
}

func (c *BtcdRPCClient) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (string, error) {
	hash, err := c.client.SendRawTransaction(tx, false)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (c *BtcdRPCClient) BlockCount(context.Context) (int64, error) {
	return c.client.GetBlockCount()
}

func (c *BtcdRPCClient) TxConfirmations(_ context.Context, hash string) (int64, bool, error) {
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return 0, false, err
	}
	res, err := c.client.GetRawTransactionVerbose(h)
	if err != nil {
		if jerr, ok := err.(*btcjson.RPCError); ok && jerr.Code == btcjson.ErrRPCNoTxInfo {
			return 0, false, nil
		}
		return 0, false, err
	}
	return int64(res.Confirmations), true, nil
}

func (c *BtcdRPCClient) FeeRate(context.Context) (int64, error) {
	mode := btcjson.EstimateModeConservative
	res, err := c.client.EstimateSmartFee(6, &mode)
	if err != nil || res.FeeRate == nil || *res.FeeRate <= 0 {
		return c.fallback, nil
	}
	// BTC per kvB to sat per vB
	rate := int64(*res.FeeRate * btcutil.SatoshiPerBitcoin / 1000)
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

func (c *BtcdRPCClient) Close() {
	c.client.Shutdown()
}
