// The worker binary runs the recurring collection service: it migrates the
// database, starts the scheduler loop, and serves health and metrics HTTP
// endpoints until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/http"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/kletterzentrum"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/openmeteo"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/observability"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/runner"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/scheduler"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// An unmigrated schema is not something to collect against.
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	jobs := buildJobs(cfg, store, logger)
	if len(jobs) == 0 {
		logger.Error("no jobs enabled, nothing to do")
		os.Exit(1)
	}

	run := runner.New(store, cfg.Fetch, logger, metrics)
	sched := scheduler.New(run, jobs, cfg.Liveness.Path, logger, metrics, clockwork.NewRealClock())

	srv := httpadapter.NewServer(cfg.HTTPAddr, sched, httpadapter.LivenessConfig{
		Path:  cfg.Liveness.Path,
		Grace: cfg.Liveness.Grace.Std(),
	}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := <-schedErr; err != nil {
			logger.Error("scheduler error", "error", err)
			exitCode = 1
		}
	case err := <-schedErr:
		// The scheduler only stops on its own when it cannot prove liveness.
		if err != nil {
			logger.Error("scheduler error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("storage close error", "error", err)
	}

	logger.Info("shutdown complete")
	os.Exit(exitCode)
}

// buildJobs wires the enabled collectors with their cadence.
func buildJobs(cfg *config.Config, store storage.Store, logger *slog.Logger) []scheduler.JobDefinition {
	var jobs []scheduler.JobDefinition

	if cfg.Jobs.Occupancy.Enabled {
		collector := kletterzentrum.New(cfg.Jobs.Occupancy, cfg.Fetch.Timeout.Std(), logger)
		jobs = append(jobs, scheduler.JobDefinition{
			Job:      runner.Job{Name: collector.Name(), Collector: collector},
			Interval: cfg.Jobs.Occupancy.Interval.Std(),
			Jitter:   cfg.Jobs.Occupancy.Jitter.Std(),
		})
	}

	if cfg.Jobs.Weather.Enabled {
		parameters := openmeteo.FilterParameters(store, cfg.Jobs.Weather.Parameters, logger)
		collector := openmeteo.New(cfg.Jobs.Weather, cfg.EnabledLocations(), parameters, cfg.Fetch.Timeout.Std(), logger)
		jobs = append(jobs, scheduler.JobDefinition{
			Job:      runner.Job{Name: collector.Name(), Collector: collector},
			Interval: cfg.Jobs.Weather.Interval.Std(),
			Jitter:   cfg.Jobs.Weather.Jitter.Std(),
		})
	}

	return jobs
}
