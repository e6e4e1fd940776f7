package es

import (
	"log/slog"
)

type (
	envOptions struct {
		log         *slog.Logger
		store       EventStore
		publisher   Publisher
		snapshotter Snapshotter
		checkpoints CheckpointStore
		deadletters DeadLetterStore
		metrics     ESMetrics
		events      []func() any
		aggregates  []Aggregate
		projections []envProjection
		repoOpts    []RepositoryOption
	}

	envProjection struct {
		projection Projection
		opts       []ProjectionOption
	}

	EnvOption func(o *envOptions)
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithLog(log *slog.Logger) EnvOption {
	return func(o *envOptions) {
		o.log = log
	}
}

// WithStore uses the given store instead of a fresh in-memory one.
func WithStore(store EventStore) EnvOption {
	return func(o *envOptions) {
		o.store = store
	}
}

// WithPublisher forwards committed events to an external publisher. Only
// applies when the env owns its store.
func WithPublisher(p Publisher) EnvOption {
	return func(o *envOptions) {
		o.publisher = p
	}
}

func WithEnvSnapshotter(s Snapshotter) EnvOption {
	return func(o *envOptions) {
		o.snapshotter = s
	}
}

func WithCheckpointStore(s CheckpointStore) EnvOption {
	return func(o *envOptions) {
		o.checkpoints = s
	}
}

func WithDeadLetterStore(s DeadLetterStore) EnvOption {
	return func(o *envOptions) {
		o.deadletters = s
	}
}

func WithEnvMetrics(m ESMetrics) EnvOption {
	return func(o *envOptions) {
		o.metrics = m
	}
}

// WithAggregates registers aggregate prototypes so their events decode.
func WithAggregates(aggs ...Aggregate) EnvOption {
	return func(o *envOptions) {
		o.aggregates = append(o.aggregates, aggs...)
	}
}

// WithEvents registers standalone event constructors, see Event[T].
func WithEvents(ctors ...func() any) EnvOption {
	return func(o *envOptions) {
		o.events = append(o.events, ctors...)
	}
}

func WithProjection(p Projection, opts ...ProjectionOption) EnvOption {
	return func(o *envOptions) {
		o.projections = append(o.projections, envProjection{projection: p, opts: opts})
	}
}

// WithRepoOptions forwards options to the env's repository.
func WithRepoOptions(opts ...RepositoryOption) EnvOption {
	return func(o *envOptions) {
		o.repoOpts = append(o.repoOpts, opts...)
	}
}

func WithEnvOpts(opts ...EnvOption) EnvOption {
	return func(o *envOptions) {
		for _, opt := range opts {
			opt(o)
		}
	}
}
