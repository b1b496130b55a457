package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"downsort/internal/config"
	"downsort/internal/metrics"
	"downsort/internal/organize"
	"downsort/internal/watch"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewWatchCmd creates the watch command
func NewWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun      bool
		workers     int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the downloads directory and sort arriving files",
		Long: `Watch the configured directory in the foreground until interrupted.
A file is handled once it has been quiet for the settle period.

Actions are not transactional: when an action fails, the actions before it
stay in effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Settings.DryRun = dryRun
			}
			if cmd.Flags().Changed("workers") {
				cfg.Settings.Workers = workers
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Settings.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be done without touching any file")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of files handled in parallel")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

func runWatch(ctx context.Context, out io.Writer, cfg *config.Config) error {
	handler := organize.CurrentHandlerFactory(cfg.Target(), cfg.EngineOptions()...)
	w, err := watch.New(cfg.Settings.Settle)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	var outMu sync.Mutex
	daemon := watch.NewDaemon(handler, cfg.CompiledRules(), w,
		watch.WithWorkers(cfg.Settings.Workers),
		watch.WithRetry(watch.RetryPolicy{
			MaxAttempts:     cfg.Settings.Retry.MaxAttempts,
			InitialInterval: cfg.Settings.Retry.InitialInterval,
			MaxInterval:     cfg.Settings.Retry.MaxInterval,
		}),
		watch.WithRecorder(recorder),
		watch.WithCallback(func(ev organize.FileEvent, o organize.Outcome) {
			outMu.Lock()
			defer outMu.Unlock()
			fmt.Fprintln(out, formatOutcome(ev, o, handler.IsDryRun()))
		}),
	)

	fmt.Fprintf(out, "%s %s %s\n", primaryText("Watching"), emphasisText(cfg.Target().WatchPath()),
		mutedText(fmt.Sprintf("(%d rules, press Ctrl+C to stop)", len(cfg.CompiledRules()))))
	if handler.IsDryRun() {
		fmt.Fprintln(out, warningText("Dry run: no files will be changed"))
	}

	g, gCtx := errgroup.WithContext(ctx)
	if addr := cfg.Settings.MetricsAddr; addr != "" {
		g.Go(func() error {
			return recorder.Serve(gCtx, addr)
		})
	}
	g.Go(func() error {
		return daemon.Run(gCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	status := daemon.Status()
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s %d sorted, %d failed, %d unmatched\n", infoText("Stopped:"),
		status.FilesProcessed, status.FilesFailed, status.FilesUnhandled)
	return nil
}
