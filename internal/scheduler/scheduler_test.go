package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/liveness"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/observability"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/runner"
)

type signalCollector struct {
	name string
	runs chan string
}

func (c *signalCollector) Name() string { return c.name }

func (c *signalCollector) Collect(_ context.Context) ([]domain.Record, error) {
	c.runs <- c.name
	overall := 1
	return []domain.Record{domain.NewOccupancyRecord(domain.OccupancySnapshot{
		CapturedAt: time.Now().UTC(),
		Overall:    &overall,
	})}, nil
}

type nopStore struct{}

func (nopStore) Migrate(_ context.Context) error { return nil }

func (nopStore) Write(_ context.Context, records []domain.Record) (int, error) {
	return len(records), nil
}

func (nopStore) KnownParameters(_ domain.Resolution, requested []string) ([]string, []string) {
	return requested, nil
}

func (nopStore) Close() error { return nil }

func newTestRunner() *runner.Runner {
	fetch := config.Fetch{
		Timeout:        config.Duration(time.Second),
		MaxAttempts:    1,
		InitialBackoff: config.Duration(time.Millisecond),
		MaxBackoff:     config.Duration(time.Millisecond),
	}
	return runner.New(nopStore{}, fetch, slog.Default(), observability.NewMetricsForTesting())
}

func waitForRun(t *testing.T, runs chan string, want string) {
	t.Helper()
	select {
	case got := <-runs:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s run", want)
	}
}

func TestRun_CadenceAndHeartbeat(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	heartbeat := filepath.Join(t.TempDir(), "heartbeat")
	runs := make(chan string, 16)

	fast := &signalCollector{name: "fast", runs: runs}
	slow := &signalCollector{name: "slow", runs: runs}
	jobs := []JobDefinition{
		{Job: runner.Job{Name: "fast", Collector: fast}, Interval: 5 * time.Minute},
		{Job: runner.Job{Name: "slow", Collector: slow}, Interval: time.Hour},
	}

	s := New(newTestRunner(), jobs, heartbeat, slog.Default(), observability.NewMetricsForTesting(), clock)
	require.Error(t, s.CheckReadiness(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Both jobs are due immediately on startup.
	first := map[string]bool{<-runs: true, <-runs: true}
	assert.True(t, first["fast"])
	assert.True(t, first["slow"])

	// The scheduler is asleep once it parks on the fake clock.
	clock.BlockUntil(1)
	require.NoError(t, s.CheckReadiness(context.Background()))

	deadline, err := liveness.Read(heartbeat)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(start.Add(5*time.Minute)))

	// Five minutes later only the fast job is due again.
	clock.Advance(5 * time.Minute)
	waitForRun(t, runs, "fast")

	clock.BlockUntil(1)
	deadline, err = liveness.Read(heartbeat)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(start.Add(10*time.Minute)))

	cancel()
	require.NoError(t, <-done)
	select {
	case name := <-runs:
		t.Fatalf("unexpected extra run of %s", name)
	default:
	}
}

func TestRun_HeartbeatWriteFailureIsFatal(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	runs := make(chan string, 1)
	jobs := []JobDefinition{
		{Job: runner.Job{Name: "fast", Collector: &signalCollector{name: "fast", runs: runs}}, Interval: time.Minute},
	}

	// A path below an existing file cannot be created.
	blocked := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, liveness.Write(blocked, time.Now()))
	heartbeat := filepath.Join(blocked, "nested", "heartbeat")

	s := New(newTestRunner(), jobs, heartbeat, slog.Default(), observability.NewMetricsForTesting(), clock)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, runs, "no job may start without a heartbeat")
}

func TestRun_NoJobs(t *testing.T) {
	s := New(newTestRunner(), nil, filepath.Join(t.TempDir(), "heartbeat"),
		slog.Default(), observability.NewMetricsForTesting(), clockwork.NewFakeClock())
	require.Error(t, s.Run(context.Background()))
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	runs := make(chan string, 4)
	jobs := []JobDefinition{
		{Job: runner.Job{Name: "fast", Collector: &signalCollector{name: "fast", runs: runs}}, Interval: time.Minute},
	}

	s := New(newTestRunner(), jobs, filepath.Join(t.TempDir(), "heartbeat"),
		slog.Default(), observability.NewMetricsForTesting(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForRun(t, runs, "fast")
	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

type failingCollector struct {
	runs chan string
}

func (c *failingCollector) Name() string { return "broken" }

func (c *failingCollector) Collect(_ context.Context) ([]domain.Record, error) {
	c.runs <- c.Name()
	return nil, domain.Permanentf("broken", "markup changed")
}

func TestRun_FailingJobDoesNotStopTheLoop(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	heartbeat := filepath.Join(t.TempDir(), "heartbeat")
	runs := make(chan string, 8)

	jobs := []JobDefinition{
		{Job: runner.Job{Name: "broken", Collector: &failingCollector{runs: runs}}, Interval: time.Minute},
	}

	s := New(newTestRunner(), jobs, heartbeat, slog.Default(), observability.NewMetricsForTesting(), clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForRun(t, runs, "broken")
	clock.BlockUntil(1)

	// The cycle failed but the heartbeat still advanced.
	deadline, err := liveness.Read(heartbeat)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(start.Add(time.Minute)))

	clock.Advance(time.Minute)
	waitForRun(t, runs, "broken")
	clock.BlockUntil(1)

	deadline, err = liveness.Read(heartbeat)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(start.Add(2*time.Minute)))

	cancel()
	require.NoError(t, <-done)
}

// overrunningCollector simulates a job whose execution takes longer than its
// own interval by advancing the fake clock from inside Collect.
type overrunningCollector struct {
	clock   *clockwork.FakeClock
	overrun time.Duration
	slow    int
	runs    chan string
}

func (c *overrunningCollector) Name() string { return "overrunning" }

func (c *overrunningCollector) Collect(_ context.Context) ([]domain.Record, error) {
	c.runs <- c.Name()
	if c.slow > 0 {
		c.slow--
		c.clock.Advance(c.overrun)
	}
	overall := 1
	return []domain.Record{domain.NewOccupancyRecord(domain.OccupancySnapshot{
		CapturedAt: c.clock.Now(),
		Overall:    &overall,
	})}, nil
}

func TestRun_HeartbeatStaysAheadOfOverrunningCycles(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	heartbeat := filepath.Join(t.TempDir(), "heartbeat")
	runs := make(chan string, 8)

	// Each of the first two runs takes ten minutes against a five minute
	// interval, so the loop is permanently behind schedule.
	c := &overrunningCollector{clock: clock, overrun: 10 * time.Minute, slow: 2, runs: runs}
	jobs := []JobDefinition{
		{Job: runner.Job{Name: "overrunning", Collector: c}, Interval: 5 * time.Minute},
	}

	s := New(newTestRunner(), jobs, heartbeat, slog.Default(), observability.NewMetricsForTesting(), clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForRun(t, runs, "overrunning")
	waitForRun(t, runs, "overrunning")
	waitForRun(t, runs, "overrunning")
	clock.BlockUntil(1)

	// Three cycles in, the recorded deadline must still lie in the future.
	deadline, err := liveness.Read(heartbeat)
	require.NoError(t, err)
	assert.True(t, deadline.After(clock.Now()), "deadline %s is not after %s", deadline, clock.Now())
	assert.True(t, deadline.Equal(start.Add(25*time.Minute)))
	require.NoError(t, liveness.Check(heartbeat, clock.Now(), 59*time.Second))

	cancel()
	require.NoError(t, <-done)
}

// blockingCollector parks inside Collect until released, so a run can be held
// in flight while the clock moves past its interval.
type blockingCollector struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCollector) Name() string { return "blocking" }

func (c *blockingCollector) Collect(_ context.Context) ([]domain.Record, error) {
	c.entered <- struct{}{}
	<-c.release
	return nil, nil
}

func TestRun_AtMostOneExecutionPerJob(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	c := &blockingCollector{entered: make(chan struct{}), release: make(chan struct{})}
	jobs := []JobDefinition{
		{Job: runner.Job{Name: "blocking", Collector: c}, Interval: time.Minute},
	}

	s := New(newTestRunner(), jobs, filepath.Join(t.TempDir(), "heartbeat"),
		slog.Default(), observability.NewMetricsForTesting(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-c.entered

	// Several intervals elapse while the first run is still in flight; no
	// second run may start.
	clock.Advance(5 * time.Minute)
	select {
	case <-c.entered:
		t.Fatal("second run started while the first was still in flight")
	case <-time.After(200 * time.Millisecond):
	}

	// Once the first run finishes the overdue job is picked up again.
	c.release <- struct{}{}
	select {
	case <-c.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the follow-up run")
	}
	c.release <- struct{}{}

	clock.BlockUntil(1)
	cancel()
	require.NoError(t, <-done)
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitter(0))
	assert.Equal(t, time.Duration(0), jitter(-time.Second))
	for i := 0; i < 100; i++ {
		j := jitter(30 * time.Second)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 30*time.Second)
	}
}
