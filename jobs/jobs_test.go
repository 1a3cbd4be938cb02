package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	expired *atomic.Int32
	polled  *atomic.Int32
	retried *atomic.Int32
	block   chan struct{}
	fail    error
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{expired: atomic.NewInt32(0), polled: atomic.NewInt32(0), retried: atomic.NewInt32(0)}
}

func (f *fakeSweeper) ExpireSweep(ctx context.Context) (int, error) {
	f.expired.Inc()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return 2, f.fail
}

func (f *fakeSweeper) PollSubmitted(context.Context) (int, error) {
	f.polled.Inc()
	return 1, nil
}

func (f *fakeSweeper) RetryPending(context.Context) (int, error) {
	f.retried.Inc()
	panic("boom")
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(newFakeSweeper(), Config{PollInterval: time.Second})
	assert.Equal(t, time.Minute, r.jobs[JobExpire].interval)
	assert.Equal(t, time.Second, r.jobs[JobPoll].interval)
	assert.Equal(t, 5*time.Minute, r.jobs[JobRetry].interval)
}

func TestRunOnce(t *testing.T) {
	f := newFakeSweeper()
	r := NewRunner(f, DefaultConfig())
	ctx := context.Background()

	n, err := r.RunOnce(ctx, JobExpire)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	runs, processed := r.Runs(JobExpire)
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, int64(2), processed)

	f.fail = errors.New("store closed")
	_, err = r.RunOnce(ctx, JobExpire)
	require.Error(t, err)

	_, err = r.RunOnce(ctx, "nope")
	require.Error(t, err)
}

func TestRunOnce_RecoversPanics(t *testing.T) {
	f := newFakeSweeper()
	r := NewRunner(f, DefaultConfig())

	_, err := r.RunOnce(context.Background(), JobRetry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, r.jobs[JobRetry].inProcess.Load())
}

func TestRunOnce_SkipsWhileRunning(t *testing.T) {
	f := newFakeSweeper()
	f.block = make(chan struct{})
	r := NewRunner(f, DefaultConfig())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _ = r.RunOnce(ctx, JobExpire)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.expired.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := r.RunOnce(ctx, JobExpire)
	require.Error(t, err)
	assert.Equal(t, int32(1), f.expired.Load())

	close(f.block)
	<-done
}

func TestRun_TicksUntilCanceled(t *testing.T) {
	f := newFakeSweeper()
	r := NewRunner(f, Config{
		ExpireInterval: 5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		RetryInterval:  time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.expired.Load() >= 2 && f.polled.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, f.retried.Load())
}
