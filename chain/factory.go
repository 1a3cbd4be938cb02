package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

// Chain families sharing one adapter implementation.
const (
	FamilyEVM     = "evm"
	FamilyUTXO    = "utxo"
	FamilyTron    = "tron"
	FamilySui     = "sui"
	FamilyGateway = "gateway"
)

func FamilyOf(code types.ChainCode) string {
	switch code {
	case types.ChainEthereum, types.ChainBnb:
		return FamilyEVM
	case types.ChainBitcoin, types.ChainLitecoin, types.ChainDogecoin:
		return FamilyUTXO
	case types.ChainTron:
		return FamilyTron
	case types.ChainSui:
		return FamilySui
	case types.ChainSolana, types.ChainTon:
		return FamilyGateway
	}
	return ""
}

var defaultSymbols = map[types.ChainCode]string{
	types.ChainBitcoin:  "BTC",
	types.ChainEthereum: "ETH",
	types.ChainBnb:      "BNB",
	types.ChainTron:     "TRX",
	types.ChainSolana:   "SOL",
	types.ChainSui:      "SUI",
	types.ChainTon:      "TON",
	types.ChainLitecoin: "LTC",
	types.ChainDogecoin: "DOGE",
}

var gatewayDecimals = map[types.ChainCode]uint8{
	types.ChainSolana: 9,
	types.ChainTon:    9,
}

// EndpointConfig is one [chain] section of the chains file.
type EndpointConfig struct {
	Chain   types.ChainCode
	URL     string
	Network string
	Symbol  string
	Headers map[string]string
	Timeout time.Duration

	// evm
	ChainID         int64
	SafeFactory     string
	SafeSingleton   string
	FallbackHandler string

	// utxo
	User            string
	Pass            string
	DisableTLS      bool
	FallbackFeeRate int64

	// tron
	FeeLimit int64
	// sui
	GasBudget string
	// sol
	SquadsProgram string
}

func (c *EndpointConfig) Validate() error {
	if FamilyOf(c.Chain) == "" {
		return fmt.Errorf("unknown chain code %q", c.Chain)
	}
	if c.URL == "" {
		return fmt.Errorf("chain %s: url is required", c.Chain)
	}
	return nil
}

func (c *EndpointConfig) symbol() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return defaultSymbols[c.Chain]
}

// Closer releases the connections opened by BuildRegistry.
type Closer func()

// BuildRegistry dials every configured chain and returns the adapter
// registry. The registry is immutable once built.
func BuildRegistry(ctx context.Context, endpoints []EndpointConfig) (*Registry, Closer, error) {
	var (
		adapters []Adapter
		closers  []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for i := range endpoints {
		ep := endpoints[i]
		if err := ep.Validate(); err != nil {
			closeAll()
			return nil, nil, err
		}
		adapter, closer, err := buildAdapter(ctx, &ep)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		adapters = append(adapters, adapter)
		logx.Info("CHAIN", "adapter ready", "chain", ep.Chain, "family", FamilyOf(ep.Chain))
	}

	registry, err := NewRegistry(adapters...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return registry, closeAll, nil
}

func buildAdapter(ctx context.Context, ep *EndpointConfig) (Adapter, func(), error) {
	switch FamilyOf(ep.Chain) {
	case FamilyEVM:
		cfg := EVMConfig{
			Chain:           ep.Chain,
			Symbol:          ep.symbol(),
			SafeFactory:     ep.SafeFactory,
			SafeSingleton:   ep.SafeSingleton,
			FallbackHandler: ep.FallbackHandler,
		}
		if ep.ChainID > 0 {
			cfg.ChainID = big.NewInt(ep.ChainID)
		}
		adapter, err := DialEVM(ctx, cfg, ep.URL)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	case FamilyUTXO:
		params := UTXONetParams(ep.Chain, ep.Network)
		if params == nil {
			return nil, nil, fmt.Errorf("chain %s: unsupported network %q", ep.Chain, ep.Network)
		}
		client, err := NewBtcdRPCClient(BtcdRPCConfig{
			Host:            ep.URL,
			User:            ep.User,
			Pass:            ep.Pass,
			DisableTLS:      ep.DisableTLS,
			FallbackFeeRate: ep.FallbackFeeRate,
		})
		if err != nil {
			return nil, nil, err
		}
		adapter := NewUTXOAdapter(UTXOConfig{Chain: ep.Chain, Symbol: ep.symbol(), Params: params}, client)
		return adapter, client.Close, nil

	case FamilyTron:
		client := NewRESTClient(ep.URL, ep.Headers, ep.Timeout)
		return NewTronAdapter(TronConfig{Symbol: ep.symbol(), FeeLimit: ep.FeeLimit}, client), nil, nil

	case FamilySui:
		client, err := DialRPC(ctx, ep.URL, ep.Headers)
		if err != nil {
			return nil, nil, err
		}
		return NewSuiAdapter(SuiConfig{Symbol: ep.symbol(), GasBudget: ep.GasBudget}, client), client.Close, nil

	case FamilyGateway:
		client, err := DialRPC(ctx, ep.URL, ep.Headers)
		if err != nil {
			return nil, nil, err
		}
		adapter := NewGatewayAdapter(GatewayConfig{
			Chain:         ep.Chain,
			Symbol:        ep.symbol(),
			Decimals:      gatewayDecimals[ep.Chain],
			SquadsProgram: ep.SquadsProgram,
		}, client)
		return adapter, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown chain code %q", ep.Chain)
}
