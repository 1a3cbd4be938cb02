package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

// headerPrefix marks keys of a chain section that become HTTP headers,
// e.g. header.x-api-key = secret
const headerPrefix = "header."

type chainSection struct {
	URL     string        `ini:"url"`
	Network string        `ini:"network"`
	Symbol  string        `ini:"symbol"`
	Timeout time.Duration `ini:"timeout"`

	ChainID         int64  `ini:"chain_id"`
	SafeFactory     string `ini:"safe_factory"`
	SafeSingleton   string `ini:"safe_singleton"`
	FallbackHandler string `ini:"fallback_handler"`

	User            string `ini:"user"`
	Pass            string `ini:"pass"`
	DisableTLS      bool   `ini:"disable_tls"`
	FallbackFeeRate int64  `ini:"fallback_fee_rate"`

	FeeLimit      int64  `ini:"fee_limit"`
	GasBudget     string `ini:"gas_budget"`
	SquadsProgram string `ini:"squads_program"`

	Disabled bool `ini:"disabled"`
}

// LoadChains reads the chain endpoint file. Every section is named after a
// chain code; disabled sections are skipped.
func LoadChains(path string) ([]chain.EndpointConfig, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load chains file %s: %w", path, err)
	}
	return parseChains(file)
}

func parseChains(file *ini.File) ([]chain.EndpointConfig, error) {
	var endpoints []chain.EndpointConfig
	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		code, ok := types.ParseChainCode(name)
		if !ok {
			return nil, fmt.Errorf("unknown chain code %q in chains file", name)
		}
		var s chainSection
		if err := section.MapTo(&s); err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		if s.Disabled {
			logx.Info("CONFIG", fmt.Sprintf("Chain disabled | chain=%s", code))
			continue
		}
		ep := chain.EndpointConfig{
			Chain:           code,
			URL:             s.URL,
			Network:         s.Network,
			Symbol:          s.Symbol,
			Timeout:         s.Timeout,
			ChainID:         s.ChainID,
			SafeFactory:     s.SafeFactory,
			SafeSingleton:   s.SafeSingleton,
			FallbackHandler: s.FallbackHandler,
			User:            s.User,
			Pass:            s.Pass,
			DisableTLS:      s.DisableTLS,
			FallbackFeeRate: s.FallbackFeeRate,
			FeeLimit:        s.FeeLimit,
			GasBudget:       s.GasBudget,
			SquadsProgram:   s.SquadsProgram,
		}
		for _, key := range section.Keys() {
			if strings.HasPrefix(key.Name(), headerPrefix) {
				if ep.Headers == nil {
					ep.Headers = make(map[string]string)
				}
				ep.Headers[strings.TrimPrefix(key.Name(), headerPrefix)] = key.String()
			}
		}
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no chain endpoints configured")
	}
	return endpoints, nil
}
