package database

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorPoolStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := NewMetricsCollector(db, logrus.New(), reg)

	collector.collectMetrics()

	// sqlmock的连接池至少有一个打开的连接
	open := testutil.ToFloat64(collector.dbConnectionsGauge.WithLabelValues("open"))
	assert.GreaterOrEqual(t, open, float64(1))

	stats := collector.GetStats()
	assert.Equal(t, float64(stats.Idle), testutil.ToFloat64(collector.dbConnectionsGauge.WithLabelValues("idle")))
	assert.Equal(t, float64(stats.InUse), testutil.ToFloat64(collector.dbConnectionsGauge.WithLabelValues("in_use")))
}

func TestMetricsCollectorRecordQuery(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := NewMetricsCollector(db, logrus.New(), reg)

	collector.RecordQuery("select", "knowledge_chunks", 25*time.Millisecond, nil)
	collector.RecordQuery("select", "knowledge_chunks", 40*time.Millisecond, nil)
	collector.RecordQuery("insert", "retrieval_audits", 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(
		collector.dbQueriesCounter.WithLabelValues("select", "knowledge_chunks", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		collector.dbQueriesCounter.WithLabelValues("insert", "retrieval_audits", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		collector.dbErrorsCounter.WithLabelValues("insert", "query_error")))
}

func TestMetricsCollectorRecordConnectionError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := NewMetricsCollector(db, logrus.New(), reg)

	collector.RecordConnectionError("refused")
	collector.RecordConnectionError("refused")

	assert.Equal(t, float64(2), testutil.ToFloat64(
		collector.dbErrorsCounter.WithLabelValues("connection", "refused")))
}

func TestMetricsCollectorSetCollectInterval(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	collector := NewMetricsCollector(db, logrus.New(), prometheus.NewRegistry())
	assert.Equal(t, 15*time.Second, collector.collectInterval)

	collector.SetCollectInterval(5 * time.Second)
	assert.Equal(t, 5*time.Second, collector.collectInterval)

	// 非法值不生效
	collector.SetCollectInterval(0)
	assert.Equal(t, 5*time.Second, collector.collectInterval)
}
