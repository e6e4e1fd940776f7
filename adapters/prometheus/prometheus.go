// Package prometheus implements the runtime's metrics interfaces with
// prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamhaus/evr-go/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics bundles the event-sourcing and saga metrics.
type AllMetrics struct {
	ES   *esMetrics
	Saga *sagaMetrics
}

// NewAllMetrics registers metrics for the whole runtime on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:   NewESMetrics(reg).(*esMetrics),
		Saga: NewSagaMetrics(reg).(*sagaMetrics),
	}
}
