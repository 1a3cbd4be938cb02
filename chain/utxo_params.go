package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/mezonai/msig/types"
)

var (
	LitecoinMainNetParams = litecoinParams()
	DogecoinMainNetParams = dogecoinParams()
)

func litecoinParams() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "litecoin"
	p.Net = wire.BitcoinNet(0xdbb6c0fb)
	p.DefaultPort = "9333"
	p.DNSSeeds = nil
	p.Bech32HRPSegwit = "ltc"
	p.PubKeyHashAddrID = 0x30
	p.ScriptHashAddrID = 0x32
	p.PrivateKeyID = 0xb0
	p.HDCoinType = 2
	return p
}

func dogecoinParams() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "dogecoin"
	p.Net = wire.BitcoinNet(0xc0c0c0c0)
	p.DefaultPort = "22556"
	p.DNSSeeds = nil
	p.Bech32HRPSegwit = "doge"
	p.PubKeyHashAddrID = 0x1e
	p.ScriptHashAddrID = 0x16
	p.PrivateKeyID = 0x9e
	p.HDCoinType = 3
	return p
}

func init() {
	// Register makes the address decoders accept the altcoin prefixes.
	for _, p := range []*chaincfg.Params{&LitecoinMainNetParams, &DogecoinMainNetParams} {
		if err := chaincfg.Register(p); err != nil && err != chaincfg.ErrDuplicateNet {
			panic(err)
		}
	}
}

// UTXONetParams returns the network parameters of a bitcoin-like chain.
func UTXONetParams(code types.ChainCode, network string) *chaincfg.Params {
	switch code {
	case types.ChainLitecoin:
		return &LitecoinMainNetParams
	case types.ChainDogecoin:
		return &DogecoinMainNetParams
	}
	switch network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
