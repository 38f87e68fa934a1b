package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/qcpipe/internal/archive"
	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/executor"
	"github.com/me/qcpipe/internal/handler"
	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/internal/logging"
	"github.com/me/qcpipe/internal/molden"
	"github.com/me/qcpipe/internal/notify"
	"github.com/me/qcpipe/internal/orca"
	"github.com/me/qcpipe/internal/recovery"
	"github.com/me/qcpipe/internal/scheduler"
	"github.com/me/qcpipe/internal/server"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/internal/watcher"
)

func newRunCmd() *cobra.Command {
	var noLogFile bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		Long: `Recovers interrupted and failed jobs from the previous run, starts the
worker pool, and watches the input directory. The first interrupt stops
dispatching and waits for running calculations; a second one kills them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger
			if !noLogFile && cfg.Paths.LogDir != "" {
				fileLogger, closer, err := logging.NewFileLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cfg.Paths.LogDir)
				if err != nil {
					return err
				}
				defer closer.Close()
				log = fileLogger
			}
			return runPipeline(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().BoolVar(&noLogFile, "no-log-file", false, "Log to stderr only")
	return cmd
}

// pipeline holds every long-lived component of a run.
type pipeline struct {
	store     *store.StateStore
	history   *history.SQLiteHistory // nil when disabled
	scheduler *scheduler.Scheduler
	ingester  *watcher.Ingester
	closers   []io.Closer
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i].Close()
	}
}

// buildPipeline constructs and wires the components. The handler and the
// scheduler depend on each other; the scheduler is bound to the handler
// after both exist.
func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	p := &pipeline{store: store.Open(cfg.Paths.StateFile, logger)}

	var opts []handler.Option
	if cfg.Paths.HistoryDB != "" {
		h, err := history.NewSQLiteHistory(cfg.Paths.HistoryDB, logger)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, h)
		if err := h.Migrate(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		p.history = h
		opts = append(opts, handler.WithHistory(h))
	}
	if cfg.Archive.Enabled() {
		a, err := archive.New(ctx, cfg.Archive, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		opts = append(opts, handler.WithArchiver(a))
	}

	notifier := notify.New(cfg.Notify, logger)
	toolkit := orca.Toolkit{Config: cfg.Orca}

	h := handler.New(handler.FromConfig(cfg), p.store, toolkit, notifier, logger, opts...)
	exec := executor.NewLocalExecutor(executor.Config{
		Executable: cfg.Orca.Executable,
		WorkingDir: cfg.Paths.WorkingDir,
		ProductDir: cfg.Paths.ProductDir,
	}, p.store, orca.Classifier{}, h, logger)
	p.scheduler = scheduler.New(p.store, exec, notifier, scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		DequeueTimeout: cfg.Scheduler.DequeueTimeout,
	}, logger)
	h.SetSubmitter(p.scheduler)

	p.ingester = watcher.NewIngester(cfg.Paths, toolkit, p.scheduler, logger)
	return p, nil
}

// runPipeline recovers, starts the pool and runs the background services
// until ctx is cancelled.
func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	recovery.New(p.store, p.scheduler, cfg.Paths, logger).Run(p.ingester)

	// Running calculations survive the first interrupt.
	execCtx, forceStop := context.WithCancel(context.WithoutCancel(ctx))
	defer forceStop()
	if err := p.scheduler.Start(execCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.New(p.ingester, logger).Run(gctx)
	})
	if cfg.Molden.Enabled {
		svc := molden.New(molden.FromConfig(cfg), logger)
		g.Go(func() error { return svc.Run(gctx) })
	}
	if cfg.Server.Addr != "" {
		srvOpts := []server.Option{server.WithPool(p.scheduler)}
		if p.history != nil {
			srvOpts = append(srvOpts, server.WithHistory(p.history))
		}
		srv := server.New(p.store, logger, srvOpts...)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Addr) })
	}

	logger.Info("pipeline running",
		"input_dir", cfg.Paths.InputDir,
		"workers", cfg.Scheduler.Workers,
		"max_retries", cfg.Scheduler.MaxRetries,
	)
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("pipeline service failed", "error", runErr)
	}

	logger.Info("shutting down, waiting for running jobs (interrupt again to kill them)", "queued", p.scheduler.QueueLen())
	p.scheduler.Shutdown()

	force, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	joined := make(chan struct{})
	go func() {
		p.scheduler.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-force.Done():
		logger.Warn("forced shutdown, killing running jobs")
		forceStop()
		<-joined
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
