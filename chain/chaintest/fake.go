// Package chaintest provides an in-memory chain adapter for tests.
package chaintest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"go.uber.org/atomic"
)

const keyPrefix = "key:"

// KeyFor returns the private key the fake adapter maps to address.
func KeyFor(address string) chain.PrivateKey {
	return chain.PrivateKey(keyPrefix + address)
}

// PubkeyFor returns the public key the fake adapter reports for address.
func PubkeyFor(address string) string {
	return "pub-" + address
}

// SignatureFor is the signature the fake adapter produces for address over msgHash.
func SignatureFor(address, msgHash string) string {
	return "sig:" + address + ":" + msgHash
}

type rawTx struct {
	Account    string `json:"account"`
	From       string `json:"from"`
	To         string `json:"to"`
	Value      string `json:"value"`
	Symbol     string `json:"symbol"`
	TokenAddr  string `json:"token_addr"`
	Expiration int64  `json:"expiration"`
	Permission int    `json:"permission,omitempty"`
}

// Adapter is a deterministic chain.Adapter. Keys are "key:<address>",
// multisig addresses are "ms-<account id>" and broadcasts are counted.
type Adapter struct {
	code   types.ChainCode
	native chain.Asset

	mu          sync.Mutex
	balances    map[string]*big.Int
	results     map[string]*chain.TxResult
	deployErr   error
	executeErr  error
	fixedAddr   bool
	block       chan struct{}
	broadcasted []string

	Broadcasts *atomic.Int32
	Deploys    *atomic.Int32
	// Entered is signalled when ExecuteMultisigTx starts, before blocking
	Entered chan string
}

func New(code types.ChainCode) *Adapter {
	return &Adapter{
		code:       code,
		native:     chain.Asset{Symbol: strings.ToUpper(string(code)), Decimals: 8},
		balances:   make(map[string]*big.Int),
		results:    make(map[string]*chain.TxResult),
		Broadcasts: atomic.NewInt32(0),
		Deploys:    atomic.NewInt32(0),
		Entered:    make(chan string, 16),
	}
}

// Registry wraps adapters in a chain.Registry and panics on duplicates.
func Registry(adapters ...*Adapter) *chain.Registry {
	list := make([]chain.Adapter, 0, len(adapters))
	for _, a := range adapters {
		list = append(list, a)
	}
	r, err := chain.NewRegistry(list...)
	if err != nil {
		panic(err)
	}
	return r
}

func (a *Adapter) SetBalance(address string, value *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[address] = value
}

func (a *Adapter) SetTxResult(hash string, status chain.TxStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[hash] = &chain.TxResult{Hash: hash, Status: status, BlockHeight: 100, Fee: "0.0001"}
}

func (a *Adapter) FailDeploy(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deployErr = err
}

func (a *Adapter) FailExecute(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.executeErr = err
}

// FixedAddress makes MultisigAddress succeed without member pubkeys, like
// chains whose address is known before deployment.
func (a *Adapter) FixedAddress(fixed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixedAddr = fixed
}

// Block makes ExecuteMultisigTx wait until the returned func is called.
func (a *Adapter) Block() (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.block = ch
	a.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Broadcasted returns the queue ids executed so far.
func (a *Adapter) Broadcasted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.broadcasted...)
}

func (a *Adapter) ChainCode() types.ChainCode { return a.code }

func (a *Adapter) NativeAsset() chain.Asset { return a.native }

func (a *Adapter) AddressFromKey(key chain.PrivateKey) (string, string, error) {
	s := string(key)
	if !strings.HasPrefix(s, keyPrefix) || len(s) == len(keyPrefix) {
		return "", "", errors.Auth(errors.ErrCodeKeyUnavailable, "invalid fake key")
	}
	address := strings.TrimPrefix(s, keyPrefix)
	return address, PubkeyFor(address), nil
}

func (a *Adapter) ValidateAddress(address string) error {
	if address == "" || strings.ContainsAny(address, " \t\n") {
		return errors.Validationf(errors.ErrCodeInvalidAddress, "invalid address %q", address)
	}
	return nil
}

func (a *Adapter) Balance(_ context.Context, address string, _ chain.Asset) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (a *Adapter) Decimals(context.Context, string) (uint8, error) { return a.native.Decimals, nil }

func (a *Adapter) TokenInfo(_ context.Context, tokenAddr string) (*chain.TokenInfo, error) {
	if tokenAddr == "" {
		return &chain.TokenInfo{Symbol: a.native.Symbol, Name: a.native.Symbol, Decimals: a.native.Decimals}, nil
	}
	return &chain.TokenInfo{Symbol: "TKN", Name: "Token " + tokenAddr, Decimals: 6}, nil
}

func (a *Adapter) EstimateTransferFee(context.Context, *chain.TransferRequest) (string, error) {
	return "0.0001", nil
}

func (a *Adapter) Transfer(_ context.Context, req *chain.TransferRequest, key chain.PrivateKey) (string, error) {
	from, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	a.Broadcasts.Inc()
	return "transfer-" + from + "-" + req.To, nil
}

func (a *Adapter) BlockHeight(context.Context) (uint64, error) { return 100, nil }

func (a *Adapter) QueryTxResult(_ context.Context, hash string) (*chain.TxResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.results[hash]; ok {
		cp := *r
		return &cp, nil
	}
	return &chain.TxResult{Hash: hash, Status: chain.TxPending}, nil
}

func (a *Adapter) MultisigAddress(_ context.Context, account *types.MultisigAccount, members []*types.MultisigMember) (*chain.MultisigAddressResult, error) {
	a.mu.Lock()
	fixed := a.fixedAddr
	a.mu.Unlock()
	if !fixed {
		for _, m := range members {
			if m.Pubkey == "" {
				return nil, errors.Validationf(errors.ErrCodeInvalidMembers, "member %s has no public key", m.Address)
			}
		}
	}
	return &chain.MultisigAddressResult{Address: "ms-" + account.ID, Salt: "salt-" + account.ID}, nil
}

func msgHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) build(tx rawTx) (*chain.BuiltTx, error) {
	raw, err := jsonx.MarshalToString(tx)
	if err != nil {
		return nil, err
	}
	return &chain.BuiltTx{RawData: raw, MsgHash: msgHash(raw)}, nil
}

func (a *Adapter) BuildMultisigWithAccount(_ context.Context, req *chain.MultisigTxRequest, account *types.MultisigAccount, asset chain.Asset, _ chain.PrivateKey) (*chain.BuiltTx, error) {
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if _, err := chain.ToBaseUnits(req.Value, a.native.Decimals); err != nil {
		return nil, err
	}
	return a.build(rawTx{
		Account: account.ID, From: account.Address, To: req.To, Value: req.Value,
		Symbol: asset.Symbol, TokenAddr: asset.TokenAddr, Expiration: req.Expiration,
	})
}

func (a *Adapter) BuildMultisigWithPermission(_ context.Context, req *chain.MultisigTxRequest, perm *chain.Permission, asset chain.Asset, _ chain.PrivateKey) (*chain.BuiltTx, error) {
	if a.code != types.ChainTron {
		return nil, errors.Validation(errors.ErrCodeUnsupported, "permission based multisig is only available on tron")
	}
	return a.build(rawTx{
		From: perm.Address, To: req.To, Value: req.Value, Symbol: asset.Symbol,
		TokenAddr: asset.TokenAddr, Expiration: req.Expiration, Permission: perm.PermissionID,
	})
}

func (a *Adapter) SignMultisigTx(_ context.Context, _ *types.MultisigAccount, address string, key chain.PrivateKey, rawData string) (string, error) {
	signer, _, err := a.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	if !types.SameAddress(signer, address) {
		return "", errors.Validationf(errors.ErrCodeNotMember, "key does not control %s", address)
	}
	return SignatureFor(address, msgHash(rawData)), nil
}

func (a *Adapter) EstimateMultisigFee(context.Context, *types.MultisigQueueEntry, chain.Asset, []*types.MultisigSignature) (string, error) {
	return "0.0002", nil
}

func (a *Adapter) DeployMultisigAccount(_ context.Context, account *types.MultisigAccount, _ []*types.MultisigMember, _ string, key chain.PrivateKey) (*chain.DeployResult, error) {
	if _, _, err := a.AddressFromKey(key); err != nil {
		return nil, err
	}
	a.mu.Lock()
	err := a.deployErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	a.Deploys.Inc()
	return &chain.DeployResult{
		DeployHash: "deploy-" + account.ID,
		FeeHash:    "fee-" + account.ID,
		Address:    "ms-" + account.ID,
		Salt:       "salt-" + account.ID,
	}, nil
}

func (a *Adapter) ExecuteMultisigTx(ctx context.Context, account *types.MultisigAccount, _ []*types.MultisigMember, queue *types.MultisigQueueEntry, sigs []*types.MultisigSignature, _ chain.PrivateKey, _ string) (string, error) {
	select {
	case a.Entered <- queue.ID:
	default:
	}
	a.mu.Lock()
	block, execErr := a.block, a.executeErr
	a.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if execErr != nil {
		return "", execErr
	}
	hash := msgHash(queue.RawData)
	valid := 0
	for _, s := range sigs {
		if s.Status == types.SignatureConfirmed && s.Signature == SignatureFor(s.Address, hash) {
			valid++
		}
	}
	if valid < account.Threshold {
		return "", errors.ChainRejection(errors.ErrCodeChainRejected, fmt.Sprintf("%d valid signatures, %d required", valid, account.Threshold))
	}
	a.Broadcasts.Inc()
	a.mu.Lock()
	a.broadcasted = append(a.broadcasted, queue.ID)
	a.mu.Unlock()
	return "tx-" + queue.ID, nil
}

var _ chain.Adapter = (*Adapter)(nil)
