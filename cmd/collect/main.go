// The collect binary performs a single collection run and exits. It is meant
// for cron-style operation and for backfilling after downtime: the same
// collectors, retry policy, and idempotent writes as the long-running worker,
// without the scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/kletterzentrum"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/openmeteo"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/observability"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/runner"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/storage"
)

func main() {
	targets := flag.String("targets", "", "comma-separated job names to run (default: all enabled)")
	list := flag.Bool("list-targets", false, "print the enabled job names and exit")
	flag.Parse()

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

	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	jobs := buildJobs(cfg, store, logger)

	if *list {
		names := make([]string, 0, len(jobs))
		for name := range jobs {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println(strings.Join(names, "\n"))
		return
	}

	selected, err := selectJobs(jobs, *targets)
	if err != nil {
		logger.Error("invalid targets", "error", err)
		os.Exit(1)
	}

	run := runner.New(store, cfg.Fetch, logger, metrics)

	failed := false
	for _, job := range selected {
		out := run.Run(ctx, job)
		if out.Status == runner.StatusFailure {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// buildJobs returns the enabled jobs keyed by name.
func buildJobs(cfg *config.Config, store storage.Store, logger *slog.Logger) map[string]runner.Job {
	jobs := make(map[string]runner.Job)

	if cfg.Jobs.Occupancy.Enabled {
		c := kletterzentrum.New(cfg.Jobs.Occupancy, cfg.Fetch.Timeout.Std(), logger)
		jobs[c.Name()] = runner.Job{Name: c.Name(), Collector: c}
	}
	if cfg.Jobs.Weather.Enabled {
		parameters := openmeteo.FilterParameters(store, cfg.Jobs.Weather.Parameters, logger)
		c := openmeteo.New(cfg.Jobs.Weather, cfg.EnabledLocations(), parameters, cfg.Fetch.Timeout.Std(), logger)
		jobs[c.Name()] = runner.Job{Name: c.Name(), Collector: c}
	}

	return jobs
}

// selectJobs resolves the -targets flag against the enabled jobs. An empty
// flag selects everything; an unknown name is an error, not a silent no-op.
func selectJobs(jobs map[string]runner.Job, targets string) ([]runner.Job, error) {
	names := make([]string, 0, len(jobs))
	if targets == "" {
		for name := range jobs {
			names = append(names, name)
		}
	} else {
		for _, name := range strings.Split(targets, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := jobs[name]; !ok {
				return nil, fmt.Errorf("unknown job %q", name)
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	selected := make([]runner.Job, 0, len(names))
	for _, name := range names {
		selected = append(selected, jobs[name])
	}
	return selected, nil
}
