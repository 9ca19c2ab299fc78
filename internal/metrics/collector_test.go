package metrics

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordRequest(t *testing.T) {
	c := NewCollector()
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "200"))
	beforeNone := testutil.ToFloat64(RequestsTotal.WithLabelValues("POST", "none"))

	c.RecordRequest("GET", 200, 10*time.Millisecond)
	c.RecordRequest("POST", 0, time.Millisecond)

	require.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "200")))
	require.Equal(t, beforeNone+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("POST", "none")))
}

func TestCollector_RecordRetryAndFailure(t *testing.T) {
	c := NewCollector()
	retries := testutil.ToFloat64(RetriesTotal.WithLabelValues("GET", "503"))
	failures := testutil.ToFloat64(FailuresTotal.WithLabelValues("server"))

	c.RecordRetry("GET", 503)
	c.RecordFailure("server")

	require.Equal(t, retries+1, testutil.ToFloat64(RetriesTotal.WithLabelValues("GET", "503")))
	require.Equal(t, failures+1, testutil.ToFloat64(FailuresTotal.WithLabelValues("server")))
}

func TestCollector_SessionTransitionSkipsSelf(t *testing.T) {
	c := NewCollector()
	before := testutil.ToFloat64(SessionTransitions.WithLabelValues("anonymous", "authenticated"))
	same := testutil.ToFloat64(SessionTransitions.WithLabelValues("anonymous", "anonymous"))

	c.RecordSessionTransition("anonymous", "authenticated")
	c.RecordSessionTransition("anonymous", "anonymous")

	require.Equal(t, before+1, testutil.ToFloat64(SessionTransitions.WithLabelValues("anonymous", "authenticated")))
	require.Equal(t, same, testutil.ToFloat64(SessionTransitions.WithLabelValues("anonymous", "anonymous")))
}

func TestCollector_RecordStorage(t *testing.T) {
	c := NewCollector()
	ok := testutil.ToFloat64(StorageOperations.WithLabelValues("memory", "set", "ok"))
	bad := testutil.ToFloat64(StorageOperations.WithLabelValues("memory", "get", "error"))

	c.RecordStorage("memory", "set", nil)
	c.RecordStorage("memory", "get", errors.New("boom"))

	require.Equal(t, ok+1, testutil.ToFloat64(StorageOperations.WithLabelValues("memory", "set", "ok")))
	require.Equal(t, bad+1, testutil.ToFloat64(StorageOperations.WithLabelValues("memory", "get", "error")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordRequest("GET", 200, time.Second)
	c.RecordRetry("GET", 500)
	c.RecordFailure("client")
	c.RecordSessionTransition("a", "b")
	c.RecordNavigation("allow")
	c.RecordStorage("file", "get", nil)
}

func TestRecordStoragePool(t *testing.T) {
	RecordStoragePool(sql.DBStats{InUse: 3, Idle: 7, MaxOpenConnections: 10})
	require.Equal(t, 3.0, testutil.ToFloat64(DBConnectionPoolSize.WithLabelValues("active")))
	require.Equal(t, 7.0, testutil.ToFloat64(DBConnectionPoolSize.WithLabelValues("idle")))
	require.Equal(t, 10.0, testutil.ToFloat64(DBConnectionPoolSize.WithLabelValues("max")))

	RecordStoragePool(sql.DBStats{MaxOpenConnections: 10})
	require.Zero(t, testutil.ToFloat64(DBConnectionPoolSize.WithLabelValues("active")))
}
