package saga

import "github.com/streamhaus/evr-go/core/metrics"

// Metrics is implemented by adapters/prometheus.
type Metrics interface {
	SagaStarted(saga string)
	SagaCompleted(saga string)
	SagaCompensated(saga string)
	SagaFailed(saga string)
	StepDuration(saga, step string) metrics.Timer
}

type nopMetrics struct{}

func (nopMetrics) SagaStarted(string)                    {}
func (nopMetrics) SagaCompleted(string)                  {}
func (nopMetrics) SagaCompensated(string)                {}
func (nopMetrics) SagaFailed(string)                     {}
func (nopMetrics) StepDuration(string, string) metrics.Timer { return metrics.NopTimer() }

func NopMetrics() Metrics { return nopMetrics{} }
