package metrics

import (
	"database/sql"
	"strconv"
	"time"
)

// Collector records request layer metrics. The zero value is ready to use;
// a nil *Collector records nothing.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordRequest records a finished logical request. status is 0 when no
// response was received.
func (c *Collector) RecordRequest(method string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	RequestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordRetry records one retry attempt triggered by status.
func (c *Collector) RecordRetry(method string, status int) {
	if c == nil {
		return
	}
	RetriesTotal.WithLabelValues(method, statusLabel(status)).Inc()
}

// RecordFailure records a normalized failure.
func (c *Collector) RecordFailure(kind string) {
	if c == nil {
		return
	}
	FailuresTotal.WithLabelValues(kind).Inc()
}

// RecordSessionTransition records a session state change.
func (c *Collector) RecordSessionTransition(from, to string) {
	if c == nil || from == to {
		return
	}
	SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordNavigation records a guard outcome.
func (c *Collector) RecordNavigation(outcome string) {
	if c == nil {
		return
	}
	NavigationDecisions.WithLabelValues(outcome).Inc()
}

// RecordStorage records a storage call.
func (c *Collector) RecordStorage(backend, operation string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	StorageOperations.WithLabelValues(backend, operation, result).Inc()
}

func statusLabel(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status)
}

// RecordStoragePool publishes a snapshot of the postgres storage pool.
// Storage backends call it after each operation; it is not tied to a Collector.
func RecordStoragePool(s sql.DBStats) {
	for state, n := range map[string]int{
		"active": s.InUse,
		"idle":   s.Idle,
		"max":    s.MaxOpenConnections,
	} {
		DBConnectionPoolSize.WithLabelValues(state).Set(float64(n))
	}
}
