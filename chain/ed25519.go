package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mezonai/msig/errors"
)

// RPCCaller is the JSON-RPC 2.0 surface of rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// DialRPC opens a JSON-RPC 2.0 client. Extra headers are sent with every call.
func DialRPC(ctx context.Context, url string, headers map[string]string) (*rpc.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	for k, v := range headers {
		client.SetHeader(k, v)
	}
	return client, nil
}

// ed25519Key accepts either a 32 byte seed or a 64 byte expanded key.
func ed25519Key(key PrivateKey) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(append([]byte(nil), key...)), nil
	default:
		return nil, errors.Auth(errors.ErrCodeKeyUnavailable, "invalid ed25519 key")
	}
}
