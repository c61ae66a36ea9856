package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync pipeline instrumentation. Exposed on /metrics by the API router.
var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotsync_runs_total",
			Help: "Total number of sync runs by final state",
		},
		[]string{"state"},
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slotsync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotsync_upstream_requests_total",
			Help: "Requests issued to the scheduling vendor",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, error, malformed, rate_limited, rejected
	)

	FetchCapHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotsync_fetch_cap_hits_total",
			Help: "Queries whose result reached the vendor cap, by recursion depth",
		},
		[]string{"depth"},
	)

	FetchWindowFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotsync_fetch_window_failures_total",
			Help: "Sub-windows skipped because the vendor query failed",
		},
	)

	RowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotsync_rows_upserted_total",
			Help: "Rows written to the store",
		},
		[]string{"table"},
	)

	RowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotsync_rows_failed_total",
			Help: "Rows dropped after row-level upsert retry failed",
		},
		[]string{"table"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slotsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
