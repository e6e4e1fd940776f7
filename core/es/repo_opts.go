package es

import "time"

const (
	// DefaultSnapshotEvery is the snapshot interval in committed events.
	DefaultSnapshotEvery = 100

	snapshotSaveTimeout = 10 * time.Second
)

type repoOptions struct {
	snapshotter   Snapshotter
	snapshotEvery int
	cacheSize     int
	metrics       ESMetrics
}

type RepositoryOption func(o *repoOptions)

func newRepoOptions(opts ...RepositoryOption) *repoOptions {
	o := &repoOptions{
		snapshotEvery: DefaultSnapshotEvery,
		metrics:       NopESMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSnapshotter enables snapshot-accelerated loads and interval snapshots.
func WithSnapshotter(s Snapshotter) RepositoryOption {
	return func(o *repoOptions) {
		o.snapshotter = s
	}
}

// WithSnapshotEvery sets the snapshot interval in committed events.
// n <= 0 disables interval snapshots.
func WithSnapshotEvery(n int) RepositoryOption {
	return func(o *repoOptions) {
		o.snapshotEvery = n
	}
}

// WithAggregateCache keeps up to size rehydrated aggregate states in memory,
// so repeated loads only replay events past the cached version.
func WithAggregateCache(size int) RepositoryOption {
	return func(o *repoOptions) {
		o.cacheSize = size
	}
}

func WithRepoMetrics(m ESMetrics) RepositoryOption {
	return func(o *repoOptions) {
		o.metrics = m
	}
}

type saveOptions struct {
	appendOpts []AppendOption
	snapshot   bool
}

type SaveOption func(o *saveOptions)

func newSaveOptions(opts ...SaveOption) *saveOptions {
	o := &saveOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSaveCausation stamps the appended envelopes with a causation ID.
func WithSaveCausation(id string) SaveOption {
	return func(o *saveOptions) {
		o.appendOpts = append(o.appendOpts, WithCausationID(id))
	}
}

// WithSaveCorrelation stamps the appended envelopes with a correlation ID.
func WithSaveCorrelation(id string) SaveOption {
	return func(o *saveOptions) {
		o.appendOpts = append(o.appendOpts, WithCorrelationID(id))
	}
}

func WithSaveMetadata(md map[string]string) SaveOption {
	return func(o *saveOptions) {
		o.appendOpts = append(o.appendOpts, WithMetadata(md))
	}
}

// WithSnapshotNow forces a snapshot after the save regardless of interval.
func WithSnapshotNow() SaveOption {
	return func(o *saveOptions) {
		o.snapshot = true
	}
}
