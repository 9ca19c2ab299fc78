// Package metrics provides Prometheus metrics for the request layer.
// It tracks request counts, latencies, retries, failures, session
// transitions, and navigation decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "reqlayer"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
// The upper buckets cover a full retry sequence at the default backoff.
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 15.0, 30.0, 60.0,
}

// =============================================================================
// Request Metrics
// =============================================================================

var (
	// RequestsTotal counts logical requests by method and final status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of logical requests by final status",
		},
		[]string{"method", "status_code"},
	)

	// RequestDuration tracks end-to-end latency, retries included.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency in seconds including retries",
			Buckets:   LatencyBuckets,
		},
		[]string{"method"},
	)

	// RetriesTotal counts retry attempts by method and triggering status.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		},
		[]string{"method", "reason"},
	)

	// FailuresTotal counts normalized failures by kind.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of normalized failures by kind",
		},
		[]string{"kind"},
	)
)

// =============================================================================
// Session and Navigation Metrics
// =============================================================================

var (
	// SessionTransitions counts session state changes.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)

	// NavigationDecisions counts guard outcomes.
	NavigationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_decisions_total",
			Help:      "Total number of navigation guard decisions by outcome",
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// Storage Metrics
// =============================================================================

var (
	// StorageOperations counts persistence calls by backend, operation, and result.
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of session storage operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// DBConnectionPoolSize reports the postgres storage pool.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool_size",
			Help:      "Storage database connection pool size",
		},
		[]string{"state"},
	)
)
