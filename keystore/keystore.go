package keystore

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/db"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

const prefixKey = "keystore:"

// Keystore hands out decrypted keys of the addresses this wallet controls.
type Keystore interface {
	GetPrivateKey(address string, code types.ChainCode, password string) (chain.PrivateKey, error)
	Controls(code types.ChainCode, address string) bool
	PublicKey(code types.ChainCode, address string) (string, error)
}

// CodecResolver returns the address codec of a chain. chain.Registry implements it.
type CodecResolver interface {
	Codec(code types.ChainCode) (chain.KeyCodec, error)
}

// Entry is the stored form of one key.
type Entry struct {
	Chain      types.ChainCode `json:"chain"`
	Address    string          `json:"address"`
	Pubkey     string          `json:"pubkey"`
	KDF        string          `json:"kdf"`
	Ciphertext string          `json:"ciphertext"`
	Source     string          `json:"source"`
	Path       string          `json:"path,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Key sources.
const (
	SourcePrivateKey = "private_key"
	SourceMnemonic   = "mnemonic"
)

type Config struct {
	// Iterations of PBKDF2, defaults to DefaultIterations
	Iterations int `yaml:"iterations"`
}

// LocalKeystore keeps password encrypted keys in a key-value provider.
type LocalKeystore struct {
	provider   db.IterableProvider
	codecs     CodecResolver
	iterations int

	mu    sync.RWMutex
	cache map[string]*Entry
}

func NewLocalKeystore(provider db.DatabaseProvider, codecs CodecResolver, cfg Config) (*LocalKeystore, error) {
	iterable, ok := provider.(db.IterableProvider)
	if !ok {
		return nil, fmt.Errorf("keystore provider does not support iteration")
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	return &LocalKeystore{
		provider:   iterable,
		codecs:     codecs,
		iterations: cfg.Iterations,
		cache:      make(map[string]*Entry),
	}, nil
}

func entryKey(code types.ChainCode, address string) []byte {
	return []byte(prefixKey + string(code) + ":" + types.AddressKey(address))
}

// ImportPrivateKey encrypts key under password and returns its address.
func (k *LocalKeystore) ImportPrivateKey(code types.ChainCode, key chain.PrivateKey, password string) (string, error) {
	return k.store(code, key, password, SourcePrivateKey, "")
}

func (k *LocalKeystore) store(code types.ChainCode, key chain.PrivateKey, password, source, path string) (string, error) {
	if password == "" {
		return "", errors.Validation(errors.ErrCodeBadPassword, "password must not be empty")
	}
	codec, err := k.codecs.Codec(code)
	if err != nil {
		return "", err
	}
	address, pubkey, err := codec.AddressFromKey(key)
	if err != nil {
		return "", err
	}
	kdf, ciphertext, err := seal(key, password, k.iterations)
	if err != nil {
		return "", errors.Internal(err)
	}
	entry := &Entry{
		Chain:      code,
		Address:    address,
		Pubkey:     pubkey,
		KDF:        kdf,
		Ciphertext: hex.EncodeToString(ciphertext),
		Source:     source,
		Path:       path,
		CreatedAt:  time.Now().Unix(),
	}
	data, err := jsonx.Marshal(entry)
	if err != nil {
		return "", errors.Internal(err)
	}
	if err := k.provider.Put(entryKey(code, address), data); err != nil {
		return "", errors.Internal(fmt.Errorf("failed to store key: %w", err))
	}

	k.mu.Lock()
	k.cache[string(entryKey(code, address))] = entry
	k.mu.Unlock()
	logx.Info("KEYSTORE", "imported key", "chain", code, "address", address, "source", source)
	return address, nil
}

func (k *LocalKeystore) entry(code types.ChainCode, address string) (*Entry, error) {
	key := entryKey(code, address)
	k.mu.RLock()
	e, ok := k.cache[string(key)]
	k.mu.RUnlock()
	if ok {
		return e, nil
	}

	data, err := k.provider.Get(key)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to read key: %w", err))
	}
	if data == nil {
		return nil, errors.NotFound(errors.ErrCodeKeyNotFound, fmt.Sprintf("no key for %s address %s", code, address))
	}
	var entry Entry
	if err := jsonx.Unmarshal(data, &entry); err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to decode key: %w", err))
	}
	k.mu.Lock()
	k.cache[string(key)] = &entry
	k.mu.Unlock()
	return &entry, nil
}

func (k *LocalKeystore) GetPrivateKey(address string, code types.ChainCode, password string) (chain.PrivateKey, error) {
	entry, err := k.entry(code, address)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.Auth(errors.ErrCodeKeyUnavailable, fmt.Sprintf("this wallet holds no key for %s", address))
		}
		return nil, err
	}
	ciphertext, err := hex.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("corrupted key of %s: %w", address, err))
	}
	plain, err := open(entry.KDF, ciphertext, password)
	if err != nil {
		logx.Warn("KEYSTORE", "key decryption failed", "chain", code, "address", address)
		return nil, errors.Auth(errors.ErrCodeBadPassword, errors.ErrMsgBadPassword)
	}
	return chain.PrivateKey(plain), nil
}

func (k *LocalKeystore) Controls(code types.ChainCode, address string) bool {
	_, err := k.entry(code, address)
	return err == nil
}

func (k *LocalKeystore) PublicKey(code types.ChainCode, address string) (string, error) {
	entry, err := k.entry(code, address)
	if err != nil {
		return "", err
	}
	return entry.Pubkey, nil
}

// List returns the stored entries of code, or of every chain when code is empty.
func (k *LocalKeystore) List(code types.ChainCode) ([]*Entry, error) {
	prefix := prefixKey
	if code != "" {
		prefix += string(code) + ":"
	}
	var out []*Entry
	var decodeErr error
	err := k.provider.IteratePrefix([]byte(prefix), func(_, value []byte) bool {
		var e Entry
		if err := jsonx.Unmarshal(value, &e); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, &e)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to list keys: %w", err))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return strings.Compare(out[i].Address, out[j].Address) < 0
	})
	return out, nil
}

// Delete removes a key after checking password.
func (k *LocalKeystore) Delete(code types.ChainCode, address, password string) error {
	if _, err := k.GetPrivateKey(address, code, password); err != nil {
		return err
	}
	key := entryKey(code, address)
	if err := k.provider.Delete(key); err != nil {
		return errors.Internal(fmt.Errorf("failed to delete key: %w", err))
	}
	k.mu.Lock()
	delete(k.cache, string(key))
	k.mu.Unlock()
	logx.Info("KEYSTORE", "deleted key", "chain", code, "address", address)
	return nil
}

var _ Keystore = (*LocalKeystore)(nil)
