package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamhaus/evr-go/core/metrics"
	"github.com/streamhaus/evr-go/core/saga"
)

// sagaMetrics implements saga.Metrics using Prometheus.
type sagaMetrics struct {
	started      *prometheus.CounterVec
	completed    *prometheus.CounterVec
	compensated  *prometheus.CounterVec
	failed       *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewSagaMetrics creates a new Prometheus implementation of saga.Metrics.
func NewSagaMetrics(reg prometheus.Registerer) saga.Metrics {
	m := &sagaMetrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_saga_started_total",
			Help: "Total number of saga instances started",
		}, []string{"saga"}),

		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_saga_completed_total",
			Help: "Total number of saga instances completed",
		}, []string{"saga"}),

		compensated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_saga_compensated_total",
			Help: "Total number of saga instances rolled back",
		}, []string{"saga"}),

		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_saga_compensation_failures_total",
			Help: "Total number of saga instances stuck after a failed compensation",
		}, []string{"saga"}),

		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_saga_step_duration_seconds",
			Help:    "Saga step execution time in seconds",
			Buckets: defaultBuckets,
		}, []string{"saga", "step"}),
	}

	reg.MustRegister(
		m.started,
		m.completed,
		m.compensated,
		m.failed,
		m.stepDuration,
	)

	return m
}

func (m *sagaMetrics) SagaStarted(saga string) {
	m.started.WithLabelValues(saga).Inc()
}

func (m *sagaMetrics) SagaCompleted(saga string) {
	m.completed.WithLabelValues(saga).Inc()
}

func (m *sagaMetrics) SagaCompensated(saga string) {
	m.compensated.WithLabelValues(saga).Inc()
}

func (m *sagaMetrics) SagaFailed(saga string) {
	m.failed.WithLabelValues(saga).Inc()
}

func (m *sagaMetrics) StepDuration(sagaName, step string) metrics.Timer {
	return newTimer(m.stepDuration.WithLabelValues(sagaName, step))
}

var _ saga.Metrics = (*sagaMetrics)(nil)
