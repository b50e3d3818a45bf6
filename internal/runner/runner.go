// Package runner executes a single collector invocation with bounded retry
// and forwards the results to storage. It is the firewall between collectors
// and the scheduler: whatever goes wrong, the scheduler receives an Outcome,
// never a fault.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/observability"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/storage"
)

// Status summarizes one job execution.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

// Job pairs a name with the collector it drives.
type Job struct {
	Name      string
	Collector domain.Collector
}

// Outcome reports one completed execution.
type Outcome struct {
	Job            string
	Status         Status
	RecordsWritten int
	Attempts       int
	Duration       time.Duration
	Err            error
}

// Runner drives collectors and writes their output.
type Runner struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *observability.Metrics

	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New builds a Runner with the configured fetch tuning.
func New(store storage.Store, fetch config.Fetch, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		store:          store,
		logger:         logger,
		metrics:        metrics,
		timeout:        fetch.Timeout.Std(),
		maxAttempts:    fetch.MaxAttempts,
		initialBackoff: fetch.InitialBackoff.Std(),
		maxBackoff:     fetch.MaxBackoff.Std(),
	}
}

// Run executes one collector invocation. Transient collector failures are
// retried up to the configured attempt bound with exponential backoff;
// permanent failures fail immediately. Records that survive collection are
// validated and written idempotently; a write failure after a successful
// collect is a partial failure, not a rollback.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	start := time.Now()
	runID := uuid.NewString()
	logger := r.logger.With("job", job.Name, "run_id", runID)

	records, attempts, err := r.collect(ctx, job)
	if err != nil {
		out := Outcome{
			Job:      job.Name,
			Status:   StatusFailure,
			Attempts: attempts,
			Duration: time.Since(start),
			Err:      err,
		}
		r.observe(logger, out)
		return out
	}

	valid := records[:0]
	for _, rec := range records {
		if verr := rec.Validate(); verr != nil {
			// An incomplete identity key would poison idempotent writes;
			// reject the record here and degrade the outcome.
			logger.Warn("rejecting record with incomplete identity", "error", verr)
			err = errors.Join(err, verr)
			continue
		}
		valid = append(valid, rec)
	}

	written, werr := r.store.Write(ctx, valid)
	if werr != nil {
		err = errors.Join(err, werr)
	}

	status := StatusSuccess
	if err != nil {
		status = StatusPartialFailure
	}
	out := Outcome{
		Job:            job.Name,
		Status:         status,
		RecordsWritten: written,
		Attempts:       attempts,
		Duration:       time.Since(start),
		Err:            err,
	}
	r.observe(logger, out)
	return out
}

// collect invokes the collector under the retry policy and a per-run timeout.
func (r *Runner) collect(ctx context.Context, job Job) ([]domain.Record, int, error) {
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialBackoff
	policy.MaxInterval = r.maxBackoff

	operation := func() ([]domain.Record, error) {
		attempts++
		if attempts > 1 {
			r.metrics.CollectRetries.WithLabelValues(job.Name).Inc()
		}

		runCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		records, err := job.Collector.Collect(runCtx)
		if err == nil {
			return records, nil
		}
		if domain.IsTransient(err) && ctx.Err() == nil {
			return nil, err
		}
		// Permanent failures and cancelled contexts must not be retried.
		return nil, backoff.Permanent(err)
	}

	records, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), ctx),
	)
	return records, attempts, err
}

func (r *Runner) observe(logger *slog.Logger, out Outcome) {
	r.metrics.JobRuns.WithLabelValues(out.Job, string(out.Status)).Inc()
	r.metrics.RecordsWritten.WithLabelValues(out.Job).Add(float64(out.RecordsWritten))
	r.metrics.JobDuration.WithLabelValues(out.Job).Observe(out.Duration.Seconds())

	attrs := []any{
		"status", string(out.Status),
		"records_written", out.RecordsWritten,
		"attempts", out.Attempts,
		"duration", out.Duration.Round(time.Millisecond).String(),
	}
	switch out.Status {
	case StatusSuccess:
		logger.Info("job completed", attrs...)
	case StatusPartialFailure:
		logger.Warn("job partially failed", append(attrs, "error", out.Err)...)
	default:
		logger.Error("job failed", append(attrs, "error", out.Err)...)
	}
}
