package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMaxKeys bounds how many keys are tracked at once; the least
// recently seen key is forgotten first.
const DefaultMaxKeys = 1024

// Config holds configuration for rate limiting
type Config struct {
	// MaxRequests allowed per key inside one window, 0 disables the limiter
	MaxRequests int           `yaml:"max_requests"`
	WindowSize  time.Duration `yaml:"window"`
}

func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		WindowSize:  time.Minute,
	}
}

// RateLimiter implements a sliding window limit per key.
type RateLimiter struct {
	config Config
	mu     sync.Mutex
	keys   *lru.Cache
	now    func() time.Time
}

func NewRateLimiter(cfg Config) (*RateLimiter, error) {
	keys, err := lru.New(DefaultMaxKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	return &RateLimiter{config: cfg, keys: keys, now: time.Now}, nil
}

// Allow records a request for key and reports whether it fits the window.
// A nil or disabled limiter allows everything.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.config.MaxRequests <= 0 {
		return true
	}
	now := rl.now()
	cutoff := now.Add(-rl.config.WindowSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var requests []time.Time
	if v, ok := rl.keys.Get(key); ok {
		requests = v.([]time.Time)
	}
	valid := requests[:0]
	for _, ts := range requests {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= rl.config.MaxRequests {
		rl.keys.Add(key, valid)
		return false
	}
	rl.keys.Add(key, append(valid, now))
	return true
}

// Count returns the requests of key inside the current window.
func (rl *RateLimiter) Count(key string) int {
	if rl == nil {
		return 0
	}
	cutoff := rl.now().Add(-rl.config.WindowSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.keys.Peek(key)
	if !ok {
		return 0
	}
	n := 0
	for _, ts := range v.([]time.Time) {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset forgets key.
func (rl *RateLimiter) Reset(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.keys.Remove(key)
}

// RateLimitError reports a request refused by a limiter
type RateLimitError struct {
	Type string
	Key  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s '%s'", e.Type, e.Key)
}

func NewRateLimitError(rateType, key string) *RateLimitError {
	return &RateLimitError{Type: rateType, Key: key}
}
