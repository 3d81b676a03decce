package taskengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the Engine updates as tasks move
// through the lifecycle. A nil *Metrics is always safe: every recording
// method is a no-op on a nil receiver, so hosts that don't care about
// metrics pass nil to NewEngine and never need to reference this type.
type Metrics struct {
	executions       *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	executionSeconds *prometheus.HistogramVec
	dlqTotal         *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
}

// NewMetrics builds a Metrics instance and registers its collectors on reg.
// Pass prometheus.DefaultRegisterer to use the global registry, matching
// how most hosts wire their own HTTP /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "executions_total",
			Help:      "Total settled task executions, partitioned by task type and final status.",
		}, []string{"task_type", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "attempts_total",
			Help:      "Total handler invocation attempts, including retries.",
		}, []string{"task_type"}),
		executionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskengine",
			Name:      "execution_duration_seconds",
			Help:      "Time from the IN_PROGRESS transition to settlement, including retry backoff.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"task_type"}),
		dlqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "dlq_total",
			Help:      "Total tasks moved to the dead-letter queue, partitioned by task type.",
		}, []string{"task_type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "in_progress_tasks",
			Help:      "Tasks IN_PROGRESS, partitioned by task type, as last recorded.",
		}, []string{"task_type"}),
	}

	if reg != nil {
		reg.MustRegister(m.executions, m.attempts, m.executionSeconds, m.dlqTotal, m.queueDepth)
	}
	return m
}

func (m *Metrics) observeExecution(taskType string, status TaskStatus, attempts int, seconds float64) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(taskType, string(status)).Inc()
	m.attempts.WithLabelValues(taskType).Add(float64(attempts))
	m.executionSeconds.WithLabelValues(taskType).Observe(seconds)
}

func (m *Metrics) observeDLQ(taskType string) {
	if m == nil {
		return
	}
	m.dlqTotal.WithLabelValues(taskType).Inc()
}

// setInProgressGauge records the in_progress_tasks gauge. Nothing else in
// this module calls it; the sweeper does not update the gauge.
func (m *Metrics) setInProgressGauge(taskType string, count int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(taskType).Set(float64(count))
}
