package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockLimiter(t *testing.T, cfg Config) (*RateLimiter, *time.Time) {
	t.Helper()
	rl, err := NewRateLimiter(cfg)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl, now := newClockLimiter(t, Config{MaxRequests: 2, WindowSize: time.Minute})

	assert.True(t, rl.Allow("u-bob"))
	*now = now.Add(10 * time.Second)
	assert.True(t, rl.Allow("u-bob"))
	assert.False(t, rl.Allow("u-bob"))
	assert.Equal(t, 2, rl.Count("u-bob"))

	assert.True(t, rl.Allow("u-carol"), "keys are limited independently")

	*now = now.Add(51 * time.Second)
	assert.Equal(t, 1, rl.Count("u-bob"))
	assert.True(t, rl.Allow("u-bob"), "the first request left the window")
	assert.False(t, rl.Allow("u-bob"))

	rl.Reset("u-bob")
	assert.Equal(t, 0, rl.Count("u-bob"))
	assert.True(t, rl.Allow("u-bob"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newClockLimiter(t, Config{})
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("u-bob"))
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("u-bob"))
	assert.Equal(t, 0, nilLimiter.Count("u-bob"))
	assert.NotPanics(t, func() { nilLimiter.Reset("u-bob") })
}

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("recovery", "u-bob")
	assert.Equal(t, "rate limit exceeded for recovery 'u-bob'", err.Error())
}
