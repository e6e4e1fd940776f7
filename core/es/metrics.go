package es

import "github.com/streamhaus/evr-go/core/metrics"

// ESMetrics instruments the runtime core. Implementations must be
// thread-safe; adapters/prometheus provides one.
type ESMetrics interface {
	// Store
	StoreAppendDuration(streamType string) metrics.Timer
	StoreReadDuration(streamType string) metrics.Timer
	EventsAppended(streamType string, count int)
	VersionConflict(streamType string)

	// Repository
	RepoLoadDuration(streamType string) metrics.Timer
	RepoSaveDuration(streamType string) metrics.Timer
	CacheHit(streamType string)
	CacheMiss(streamType string)

	// Snapshots
	SnapshotSaveDuration(streamType string) metrics.Timer
	SnapshotSaveFailed(streamType string)

	// Projections
	ProjectionEventDuration(projection string) metrics.Timer
	ProjectionEventProcessed(projection string, success bool)
	ProjectionLag(projection string, lag int64)
	ProjectionDeadLettered(projection string)
	ProjectionRebuildDuration(projection string) metrics.Timer
}

type nopESMetrics struct{}

func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) StoreReadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}
func (nopESMetrics) VersionConflict(string)                   {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) CacheHit(string)                       {}
func (nopESMetrics) CacheMiss(string)                      {}

func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveFailed(string)                 {}

func (nopESMetrics) ProjectionEventDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) ProjectionEventProcessed(string, bool)          {}
func (nopESMetrics) ProjectionLag(string, int64)                    {}
func (nopESMetrics) ProjectionDeadLettered(string)                  {}
func (nopESMetrics) ProjectionRebuildDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
