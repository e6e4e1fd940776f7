package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeAppendDuration *prometheus.HistogramVec
	storeReadDuration   *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec
	versionConflicts    *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration *prometheus.HistogramVec
	repoSaveDuration *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec

	// Snapshot metrics
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotSaveFailures *prometheus.CounterVec

	// Projection metrics
	projectionEventDuration   *prometheus.HistogramVec
	projectionEvents          *prometheus.CounterVec
	projectionLag             *prometheus.GaugeVec
	projectionDeadLetters     *prometheus.CounterVec
	projectionRebuildDuration *prometheus.HistogramVec
}

// NewESMetrics creates a new Prometheus implementation of es.ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		storeReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_store_read_duration_seconds",
			Help:    "Event store stream read latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"stream_type"}),

		versionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_version_conflicts_total",
			Help: "Total number of optimistic concurrency failures",
		}, []string{"stream_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_cache_hits_total",
			Help: "Total number of aggregate cache hits",
		}, []string{"stream_type"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_cache_misses_total",
			Help: "Total number of aggregate cache misses",
		}, []string{"stream_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		snapshotSaveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_snapshot_save_failures_total",
			Help: "Total number of failed snapshot writes",
		}, []string{"stream_type"}),

		projectionEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_projection_event_duration_seconds",
			Help:    "Projection event processing time in seconds",
			Buckets: defaultBuckets,
		}, []string{"projection"}),

		projectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_projection_events_total",
			Help: "Total number of events processed by projections",
		}, []string{"projection", "success"}),

		projectionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evr_es_projection_lag",
			Help: "Projection lag (positions behind the log head)",
		}, []string{"projection"}),

		projectionDeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evr_es_projection_dead_letters_total",
			Help: "Total number of dead-lettered events",
		}, []string{"projection"}),

		projectionRebuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evr_es_projection_rebuild_duration_seconds",
			Help:    "Projection rebuild duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"projection"}),
	}

	reg.MustRegister(
		m.storeAppendDuration,
		m.storeReadDuration,
		m.eventsAppended,
		m.versionConflicts,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotSaveDuration,
		m.snapshotSaveFailures,
		m.projectionEventDuration,
		m.projectionEvents,
		m.projectionLag,
		m.projectionDeadLetters,
		m.projectionRebuildDuration,
	)

	return m
}

func (m *esMetrics) StoreAppendDuration(streamType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(streamType))
}

func (m *esMetrics) StoreReadDuration(streamType string) metrics.Timer {
	return newTimer(m.storeReadDuration.WithLabelValues(streamType))
}

func (m *esMetrics) EventsAppended(streamType string, count int) {
	m.eventsAppended.WithLabelValues(streamType).Add(float64(count))
}

func (m *esMetrics) VersionConflict(streamType string) {
	m.versionConflicts.WithLabelValues(streamType).Inc()
}

func (m *esMetrics) RepoLoadDuration(streamType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(streamType))
}

func (m *esMetrics) RepoSaveDuration(streamType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(streamType))
}

func (m *esMetrics) CacheHit(streamType string) {
	m.cacheHits.WithLabelValues(streamType).Inc()
}

func (m *esMetrics) CacheMiss(streamType string) {
	m.cacheMisses.WithLabelValues(streamType).Inc()
}

func (m *esMetrics) SnapshotSaveDuration(streamType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(streamType))
}

func (m *esMetrics) SnapshotSaveFailed(streamType string) {
	m.snapshotSaveFailures.WithLabelValues(streamType).Inc()
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *esMetrics) ProjectionEventDuration(projection string) metrics.Timer {
	return newTimer(m.projectionEventDuration.WithLabelValues(projection))
}

func (m *esMetrics) ProjectionEventProcessed(projection string, success bool) {
	m.projectionEvents.WithLabelValues(projection, boolToStr(success)).Inc()
}

func (m *esMetrics) ProjectionLag(projection string, lag int64) {
	m.projectionLag.WithLabelValues(projection).Set(float64(lag))
}

func (m *esMetrics) ProjectionDeadLettered(projection string) {
	m.projectionDeadLetters.WithLabelValues(projection).Inc()
}

func (m *esMetrics) ProjectionRebuildDuration(projection string) metrics.Timer {
	return newTimer(m.projectionRebuildDuration.WithLabelValues(projection))
}

var _ es.ESMetrics = (*esMetrics)(nil)
