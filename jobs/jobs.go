// Package jobs runs the periodic queue maintenance: expiring stale entries,
// promoting submitted transactions and re-sending unanswered proposals.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mezonai/msig/exception"
	"github.com/mezonai/msig/logx"
)

const (
	JobExpire = "expire"
	JobPoll   = "poll"
	JobRetry  = "retry"
)

// Sweeper is implemented by the queue coordinator.
type Sweeper interface {
	ExpireSweep(ctx context.Context) (int, error)
	PollSubmitted(ctx context.Context) (int, error)
	RetryPending(ctx context.Context) (int, error)
}

type Config struct {
	ExpireInterval time.Duration `yaml:"expire_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

func DefaultConfig() Config {
	return Config{
		ExpireInterval: time.Minute,
		PollInterval:   15 * time.Second,
		RetryInterval:  5 * time.Minute,
	}
}

type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) (int, error)

	inProcess *atomic.Bool
	runs      *atomic.Int64
	processed *atomic.Int64
}

// Runner ticks every job on its own interval. A tick is skipped while the
// previous run of the same job is still going.
type Runner struct {
	jobs map[string]*job
}

func NewRunner(sweeper Sweeper, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = def.ExpireInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	r := &Runner{jobs: make(map[string]*job)}
	r.add(JobExpire, cfg.ExpireInterval, sweeper.ExpireSweep)
	r.add(JobPoll, cfg.PollInterval, sweeper.PollSubmitted)
	r.add(JobRetry, cfg.RetryInterval, sweeper.RetryPending)
	return r
}

func (r *Runner) add(name string, interval time.Duration, fn func(ctx context.Context) (int, error)) {
	r.jobs[name] = &job{
		name:      name,
		interval:  interval,
		fn:        fn,
		inProcess: atomic.NewBool(false),
		runs:      atomic.NewInt64(0),
		processed: atomic.NewInt64(0),
	}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	for _, j := range r.jobs {
		j := j
		grp.Go(func() error {
			r.loop(ctx, j)
			return nil
		})
	}
	logx.Info("JOBS", fmt.Sprintf("Started | jobs=%d", len(r.jobs)))
	err := grp.Wait()
	logx.Info("JOBS", "Stopped")
	return err
}

func (r *Runner) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !j.inProcess.CAS(false, true) {
				logx.Debug("JOBS", fmt.Sprintf("Skipping tick, previous run still going | job=%s", j.name))
				continue
			}
			exception.SafeGo("jobs-"+j.name, func() {
				defer j.inProcess.Store(false)
				r.runJob(ctx, j)
			})
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runJob(ctx context.Context, j *job) (int, error) {
	var n int
	err := exception.SafeRun(ctx, "jobs-"+j.name, func(ctx context.Context) error {
		var err error
		n, err = j.fn(ctx)
		return err
	})
	j.runs.Inc()
	j.processed.Add(int64(n))
	if err != nil {
		logx.Error("JOBS", fmt.Sprintf("Job failed | job=%s | err=%v", j.name, err))
		return n, err
	}
	if n > 0 {
		logx.Debug("JOBS", fmt.Sprintf("Job done | job=%s | processed=%d", j.name, n))
	}
	return n, nil
}

// RunOnce runs one job right away on the calling goroutine unless it is
// already running.
func (r *Runner) RunOnce(ctx context.Context, name string) (int, error) {
	j, ok := r.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown job %q", name)
	}
	if !j.inProcess.CAS(false, true) {
		return 0, fmt.Errorf("job %s is already running", name)
	}
	defer j.inProcess.Store(false)
	return r.runJob(ctx, j)
}

// Runs reports how many times a job has run and how many entries it handled.
func (r *Runner) Runs(name string) (runs int64, processed int64) {
	j, ok := r.jobs[name]
	if !ok {
		return 0, 0
	}
	return j.runs.Load(), j.processed.Load()
}
