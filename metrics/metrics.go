// Package metrics holds the service's own Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ResultOK labels a report that was parsed and stored.
const ResultOK = "ok"

var (
	// ReportsTotal counts received reports by outcome: "ok" or a parse error kind.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerwatch_reports_total",
			Help: "Total number of metric reports received, by result",
		},
		[]string{"result"},
	)

	// InvalidRequestsTotal counts ingestion requests rejected before parsing.
	InvalidRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workerwatch_invalid_requests_total",
			Help: "Total number of ingestion requests with an invalid body",
		},
	)

	WorkersTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workerwatch_workers_tracked",
			Help: "Current number of workers in the registry",
		},
	)

	SweepEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workerwatch_sweep_evictions_total",
			Help: "Total number of stale workers removed by the reaper",
		},
	)

	SweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workerwatch_sweep_errors_total",
			Help: "Total number of failed sweeps",
		},
	)

	// Buckets: 0.1ms .. ~100ms
	SweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workerwatch_sweep_duration_seconds",
			Help:    "Sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 11),
		},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerwatch_store_errors_total",
			Help: "Total number of registry operations that failed",
		},
		[]string{"op"}, // upsert, snapshot, sweep, len
	)
)

// RecordReport counts one report with the given result label.
func RecordReport(result string) {
	ReportsTotal.WithLabelValues(result).Inc()
}

// RecordSweep records the outcome of one reaper pass.
func RecordSweep(seconds float64, removed int, err error) {
	SweepDurationSeconds.Observe(seconds)
	if err != nil {
		SweepErrorsTotal.Inc()
		StoreErrorsTotal.WithLabelValues("sweep").Inc()
		return
	}
	SweepEvictionsTotal.Add(float64(removed))
}

// SetWorkers updates the tracked workers gauge.
func SetWorkers(n int) {
	WorkersTracked.Set(float64(n))
}
