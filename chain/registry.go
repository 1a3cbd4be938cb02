package chain

import (
	"fmt"
	"sort"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/types"
)

// Registry resolves adapters by chain code. It is filled once at startup
// and read only afterwards.
type Registry struct {
	adapters map[types.ChainCode]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[types.ChainCode]Adapter, len(adapters))}
	for _, a := range adapters {
		code := a.ChainCode()
		if _, dup := r.adapters[code]; dup {
			return nil, fmt.Errorf("duplicate adapter for chain %s", code)
		}
		r.adapters[code] = a
	}
	return r, nil
}

// Get returns the adapter of code or a validation error for unknown chains.
func (r *Registry) Get(code types.ChainCode) (Adapter, error) {
	if a, ok := r.adapters[code]; ok {
		return a, nil
	}
	return nil, errors.Validationf(errors.ErrCodeUnknownChain, "no adapter for chain %q", code).WithChain(string(code))
}

func (r *Registry) Has(code types.ChainCode) bool {
	_, ok := r.adapters[code]
	return ok
}

func (r *Registry) Chains() []types.ChainCode {
	out := make([]types.ChainCode, 0, len(r.adapters))
	for code := range r.adapters {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Codec returns the key codec of code.
func (r *Registry) Codec(code types.ChainCode) (KeyCodec, error) {
	a, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	return a, nil
}
