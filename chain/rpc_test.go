package chain

import (
	"context"
	"sync"

	"github.com/mezonai/msig/jsonx"
)

type rpcCall struct {
	method string
	args   []interface{}
}

// fakeRPC answers JSON-RPC calls from a handler and records them.
type fakeRPC struct {
	mu      sync.Mutex
	calls   []rpcCall
	handler func(method string, args []interface{}) (interface{}, error)
}

func (f *fakeRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{method: method, args: args})
	f.mu.Unlock()

	resp, err := f.handler(method, args)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	data, err := jsonx.Marshal(resp)
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, result)
}

func (f *fakeRPC) last(method string) *rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			c := f.calls[i]
			return &c
		}
	}
	return nil
}
