package types

import "strings"

// ChainCode identifies a chain and selects its adapter.
type ChainCode string

const (
	ChainBitcoin  ChainCode = "btc"
	ChainEthereum ChainCode = "eth"
	ChainBnb      ChainCode = "bnb"
	ChainTron     ChainCode = "tron"
	ChainSolana   ChainCode = "sol"
	ChainSui      ChainCode = "sui"
	ChainTon      ChainCode = "ton"
	ChainLitecoin ChainCode = "ltc"
	ChainDogecoin ChainCode = "doge"
)

var AllChains = []ChainCode{
	ChainBitcoin, ChainEthereum, ChainBnb, ChainTron, ChainSolana,
	ChainSui, ChainTon, ChainLitecoin, ChainDogecoin,
}

func (c ChainCode) String() string { return string(c) }

// ParseChainCode normalizes s and reports whether it names a known chain.
func ParseChainCode(s string) (ChainCode, bool) {
	code := ChainCode(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range AllChains {
		if c == code {
			return code, true
		}
	}
	return code, false
}

// Address types understood by the Bitcoin-like adapters.
const (
	AddressTypeP2SH  = "p2sh"
	AddressTypeP2WSH = "p2wsh"
)

// SameAddress compares chain addresses. Hex encoded EVM addresses are
// case-insensitive, everything else is compared verbatim.
func SameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// AddressKey returns the canonical form of address used in storage keys.
func AddressKey(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}
