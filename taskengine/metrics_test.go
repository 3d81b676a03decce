package taskengine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeExecution("demo", StatusCompleted, 1, 0.01)
		m.observeDLQ("demo")
		m.setInProgressGauge("demo", 2)
	})
}

func TestMetrics_ObserveExecutionIncrementsCounters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.observeExecution("demo", StatusCompleted, 3, 0.25)

	count, err := testutil.GatherAndCount(reg, "taskengine_executions_total", "taskengine_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_ObserveDLQIncrementsCounter(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.observeDLQ("demo")
	m.observeDLQ("demo")

	count, err := testutil.GatherAndCount(reg, "taskengine_dlq_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.dlqTotal.WithLabelValues("demo")))
}

func TestMetrics_SetInProgressGaugeReflectsLatestValue(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.setInProgressGauge("demo", 5)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.queueDepth.WithLabelValues("demo")))

	m.setInProgressGauge("demo", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.queueDepth.WithLabelValues("demo")))
}

func TestMetrics_NewMetricsWithNilRegistererDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		m := NewMetrics(nil)
		m.observeExecution("demo", StatusFailed, 1, 0.01)
	})
}
