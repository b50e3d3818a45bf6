package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// collection worker.
type Metrics struct {
	JobRuns        *prometheus.CounterVec // labels: job, status={success,partial_failure,failure}
	RecordsWritten *prometheus.CounterVec // labels: job
	CollectRetries *prometheus.CounterVec // labels: job
	JobDuration    *prometheus.HistogramVec

	SchedulerRunning  prometheus.Gauge
	HeartbeatDeadline prometheus.Gauge // unix seconds of the next expected cycle
}

// NewMetrics creates and registers all worker metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.JobRuns,
		m.RecordsWritten,
		m.CollectRetries,
		m.JobDuration,
		m.SchedulerRunning,
		m.HeartbeatDeadline,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kivoll",
			Name:      "job_runs_total",
			Help:      "Completed job executions by job name and outcome status.",
		}, []string{"job", "status"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kivoll",
			Name:      "records_written_total",
			Help:      "Newly written storage rows per job (conflicts excluded).",
		}, []string{"job"}),
		CollectRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kivoll",
			Name:      "collect_retries_total",
			Help:      "Collector attempts beyond the first, per job.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kivoll",
			Name:      "job_duration_seconds",
			Help:      "Duration of one job execution including retries and writes.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kivoll",
			Name:      "scheduler_running",
			Help:      "1 while the scheduler loop is active, 0 after shutdown.",
		}),
		HeartbeatDeadline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kivoll",
			Name:      "heartbeat_deadline_seconds",
			Help:      "Unix time by which the next scheduler cycle is expected to have started.",
		}),
	}
}
