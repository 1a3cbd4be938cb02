package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mezonai/msig/events"
	"github.com/mezonai/msig/jobs"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/monitoring"
	"github.com/mezonai/msig/syncer"
)

const shutdownTimeout = 5 * time.Second

var recoverOnStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the wallet daemon",
	Long: `Run the wallet daemon: listen for messages from the other members' wallets,
expire stale proposals, poll submitted transactions and retry pending ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&recoverOnStart, "recover", false, "Pull every account of the local uids from the backend before listening")
}

func runDaemon(ctx context.Context) error {
	w, err := openWallet(ctx)
	if err != nil {
		return err
	}
	defer w.Close()
	cfg := w.cfg

	monitoring.InitMetrics()

	sync, err := syncer.New(syncer.Options{
		Accounts:      w.accounts,
		Queues:        w.queues,
		Backend:       w.backend,
		UIDs:          cfg.UIDs,
		CacheSize:     cfg.Sync.CacheSize,
		RecoveryLimit: cfg.Sync.RecoveryLimit,
	})
	if err != nil {
		return err
	}
	if recoverOnStart {
		if w.backend == nil {
			logx.Warn("RUN", "Skipping startup recovery, no backend configured")
		} else if n, err := sync.RecoverAccount(ctx, ""); err != nil {
			logx.Warn("RUN", fmt.Sprintf("Startup recovery failed | err=%v", err))
		} else {
			logx.Info("RUN", fmt.Sprintf("Startup recovery done | accounts=%d", n))
		}
	}

	runner := jobs.NewRunner(w.queues, cfg.Jobs)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return sync.Run(gctx, w.transport) })
	grp.Go(func() error { return runner.Run(gctx) })
	grp.Go(func() error {
		logEvents(gctx, w.bus)
		return nil
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		monitoring.RegisterMetrics(mux)
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		grp.Go(func() error {
			logx.Info("RUN", fmt.Sprintf("Metrics server listening | addr=%s", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logx.Info("RUN", fmt.Sprintf("Wallet daemon started | uids=%v", cfg.UIDs))
	err = grp.Wait()
	logx.Info("RUN", "Wallet daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logEvents writes every wallet event to the log until ctx is done.
func logEvents(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logx.Info("EVENT", fmt.Sprintf("%s | account=%s | queue=%s", ev.Type(), ev.AccountID(), ev.QueueID()))
		}
	}
}
