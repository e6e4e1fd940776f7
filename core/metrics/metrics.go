// Package metrics provides abstract instrumentation interfaces so the core
// packages stay decoupled from any specific backend. adapters/prometheus
// implements them with prometheus/client_golang.
package metrics

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	// Add increments the counter by delta. delta must be >= 0.
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations (e.g. operation latencies) into buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer measures the duration of an operation. Call ObserveDuration when the
// operation completes:
//
//	defer m.StoreAppendDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
