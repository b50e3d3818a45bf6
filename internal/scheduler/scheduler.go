// Package scheduler drives the recurring collection jobs. It wakes when the
// next job is due, runs every due job concurrently, waits for the cycle to
// finish, refreshes the liveness heartbeat, and sleeps again. A job never
// overlaps itself: the next run is only scheduled after the cycle that started
// it has completed.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/liveness"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/observability"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/runner"
)

// JobDefinition is one recurring job with its cadence. Jitter spreads run
// starts so the worker does not hit upstream services on exact boundaries.
type JobDefinition struct {
	runner.Job
	Interval time.Duration
	Jitter   time.Duration
}

// Scheduler owns the wake/run/sleep loop and the liveness heartbeat.
type Scheduler struct {
	runner        *runner.Runner
	jobs          []JobDefinition
	heartbeatPath string
	logger        *slog.Logger
	metrics       *observability.Metrics
	clock         clockwork.Clock
	minInterval   time.Duration
	ready         atomic.Bool
}

// New creates a Scheduler. The clock is injectable for tests; pass
// clockwork.NewRealClock() in production wiring.
func New(r *runner.Runner, jobs []JobDefinition, heartbeatPath string, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Scheduler {
	var minInterval time.Duration
	for _, job := range jobs {
		if minInterval == 0 || job.Interval < minInterval {
			minInterval = job.Interval
		}
	}
	return &Scheduler{
		runner:        r,
		jobs:          jobs,
		heartbeatPath: heartbeatPath,
		logger:        logger,
		metrics:       metrics,
		clock:         clock,
		minInterval:   minInterval,
	}
}

// CheckReadiness returns nil once the scheduler has completed at least one
// full cycle.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("scheduler has not completed a cycle yet")
	}
	return nil
}

// Run executes the scheduling loop until the context is cancelled. The only
// error it returns on its own is a heartbeat write failure: a worker that
// cannot prove it is alive must die visibly rather than run unobserved.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New("no jobs configured")
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	// Every job is due immediately on startup.
	next := make(map[string]time.Time, len(s.jobs))
	now := s.clock.Now()
	for _, job := range s.jobs {
		next[job.Name] = now
	}

	if err := s.beat(next); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		default:
		}

		s.runCycle(ctx, next)
		s.ready.Store(true)

		if err := s.beat(next); err != nil {
			return err
		}

		if !s.sleepUntil(ctx, earliest(next)) {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// runCycle starts every due job concurrently and waits for all of them. The
// next due time is computed from the cycle start, so a slow run pushes its own
// next occurrence back instead of piling up.
func (s *Scheduler) runCycle(ctx context.Context, next map[string]time.Time) {
	now := s.clock.Now()

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if now.Before(next[job.Name]) {
			continue
		}
		next[job.Name] = now.Add(job.Interval + jitter(job.Jitter))

		wg.Add(1)
		go func(job JobDefinition) {
			defer wg.Done()
			s.runner.Run(ctx, job.Job)
		}(job)
	}
	wg.Wait()
}

// beat records the instant by which the next cycle is guaranteed to have
// started, so the external probe can tell a sleeping worker from a dead one.
// A cycle that overran its shortest interval leaves due times in the past;
// the deadline is floored at now plus the shortest interval so an alive,
// busy worker is never reported as stalled.
func (s *Scheduler) beat(next map[string]time.Time) error {
	deadline := earliest(next)
	if floor := s.clock.Now().Add(s.minInterval); deadline.Before(floor) {
		deadline = floor
	}
	if err := liveness.Write(s.heartbeatPath, deadline); err != nil {
		s.logger.Error("heartbeat write failed", "path", s.heartbeatPath, "error", err)
		return err
	}
	s.metrics.HeartbeatDeadline.Set(float64(deadline.Unix()))
	return nil
}

// sleepUntil blocks until the wake time or cancellation. Returns false if the
// context was cancelled.
func (s *Scheduler) sleepUntil(ctx context.Context, wake time.Time) bool {
	d := wake.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func earliest(next map[string]time.Time) time.Time {
	var min time.Time
	for _, t := range next {
		if min.IsZero() || t.Before(min) {
			min = t
		}
	}
	return min
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
