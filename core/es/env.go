package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires store, registry, repository and projection engine into one
// runtime. It is the entry point applications build on.
type Env struct {
	id           string
	log          *slog.Logger
	store        EventStore
	snapshotter  Snapshotter
	registry     *EventRegistry
	repo         Repository
	engine       *Engine
	metrics      ESMetrics
	repoOpts     []RepositoryOption
	done         chan struct{}
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func (e *Env) Log() *slog.Logger        { return e.log }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Registry() *EventRegistry { return e.registry }
func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Engine() *Engine          { return e.engine }

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	log := options.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("env", id))

	store := options.store
	if store == nil {
		storeOpts := []InMemoryStoreOption{
			WithStoreLog(log),
			WithStoreMetrics(options.metrics),
		}
		if options.publisher != nil {
			storeOpts = append(storeOpts, WithStorePublisher(options.publisher))
		}
		store = NewInMemoryStore(storeOpts...)
	}

	e := &Env{
		id:          id,
		log:         log,
		store:       store,
		snapshotter: options.snapshotter,
		registry:    NewRegistry(),
		metrics:     options.metrics,
		done:        make(chan struct{}),
	}

	RegisterEventFor[AggregateCreated](e.registry)
	for _, ctor := range options.events {
		RegisterEvents(e.registry, ctor)
	}
	for _, agg := range options.aggregates {
		agg.Register(e.registry)
		e.log.Debug("registered aggregate", slog.String("type", fmt.Sprintf("%T", agg)))
	}

	e.repoOpts = append([]RepositoryOption{
		WithSnapshotter(e.snapshotter),
		WithRepoMetrics(options.metrics),
	}, options.repoOpts...)
	e.repo = NewRepository(e.log, e.store, e.registry, e.repoOpts...)

	e.engine = NewEngine(
		e.log,
		e.store,
		e.registry,
		WithEngineCheckpoints(options.checkpoints),
		WithEngineDeadLetters(options.deadletters),
		WithEngineMetrics(options.metrics),
	)
	for _, p := range options.projections {
		if err := e.engine.Register(p.projection, p.opts...); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Start launches the projection engine. The env keeps running after ctx is
// cancelled; call Shutdown to stop it.
func (e *Env) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	if err := e.engine.Start(runCtx); err != nil {
		cancel()
		return err
	}
	e.log.Info("started")
	return nil
}

func (e *Env) Shutdown(ctx context.Context) error {
	var err error
	e.shutdownOnce.Do(func() {
		e.log.Info("shutting down")
		err = e.engine.Stop(ctx)
		if e.cancel != nil {
			e.cancel()
		}
		close(e.done)
		e.log.Info("shutdown complete")
	})
	return err
}

// Append writes events directly to a stream, bypassing the aggregate layer.
func (e *Env) Append(ctx context.Context, streamType, streamID string, expect Version, events ...any) error {
	_, err := e.AppendWithResult(ctx, streamType, streamID, expect, events...)
	return err
}

func (e *Env) AppendWithResult(
	ctx context.Context,
	streamType, streamID string,
	expect Version,
	events ...any,
) (*AppendResult, error) {
	return AppendEvents(ctx, e.store, streamType, streamID, expect, events...)
}

// TypedRepo builds a type-safe repository on the env's store and registry,
// inheriting its snapshotter and metrics.
func TypedRepo[T Aggregate](e *Env, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepository[T](e.log, e.store, e.registry, append(e.repoOpts, opts...)...)
}
