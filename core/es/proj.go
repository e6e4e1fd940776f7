package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type (

	// Projection consumes persisted events to build read models / indexes.
	// Apply must tolerate redelivery: the engine guarantees at-least-once.
	Projection interface {
		Name() string
		Apply(ctx context.Context, env Envelope, event any) error
	}

	// Rebuildable projections can be rebuilt from scratch. Fresh returns a
	// blank instance; the engine replays the full log into it and swaps it
	// in atomically once it has caught up.
	Rebuildable interface {
		Projection
		Fresh() Projection
	}
)

// FailurePolicy decides what happens after a projection handler fails on an
// event. The failing event is dead-lettered either way.
type FailurePolicy int

const (
	// SkipAndContinue dead-letters the event and moves on.
	SkipAndContinue FailurePolicy = iota
	// Halt stops the projection and marks its checkpoint Failed. It stays
	// down until rebuilt.
	Halt
)

func (p FailurePolicy) String() string {
	switch p {
	case SkipAndContinue:
		return "skip-and-continue"
	case Halt:
		return "halt"
	default:
		return fmt.Sprintf("failure-policy(%d)", int(p))
	}
}

type projOptions struct {
	policy    FailurePolicy
	lanes     int
	batchSize int
	filters   []SubscribeFilter
}

type ProjectionOption func(o *projOptions)

func newProjOptions(opts ...ProjectionOption) *projOptions {
	o := &projOptions{
		policy:    SkipAndContinue,
		lanes:     4,
		batchSize: 256,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.lanes < 1 {
		o.lanes = 1
	}
	if o.batchSize < 1 {
		o.batchSize = 1
	}
	return o
}

func WithFailurePolicy(p FailurePolicy) ProjectionOption {
	return func(o *projOptions) {
		o.policy = p
	}
}

// WithLanes sets how many streams the worker applies concurrently. Events of
// one stream always stay on one lane.
func WithLanes(n int) ProjectionOption {
	return func(o *projOptions) {
		o.lanes = n
	}
}

func WithBatchSize(n int) ProjectionOption {
	return func(o *projOptions) {
		o.batchSize = n
	}
}

// WithProjectionFilters narrows the events delivered to the projection.
func WithProjectionFilters(filters ...SubscribeFilter) ProjectionOption {
	return func(o *projOptions) {
		o.filters = append(o.filters, filters...)
	}
}

// Engine runs one tailing worker per registered projection, each with its
// own checkpoint. A failed or lagging projection never blocks the others.
type Engine struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	checkpoints CheckpointStore
	deadletters DeadLetterStore
	metrics     ESMetrics

	mu      sync.Mutex
	workers map[string]*projWorker
	cancel  context.CancelFunc
	started bool
}

type engineOptions struct {
	checkpoints CheckpointStore
	deadletters DeadLetterStore
	metrics     ESMetrics
}

type EngineOption func(o *engineOptions)

func WithEngineCheckpoints(s CheckpointStore) EngineOption {
	return func(o *engineOptions) {
		o.checkpoints = s
	}
}

func WithEngineDeadLetters(s DeadLetterStore) EngineOption {
	return func(o *engineOptions) {
		o.deadletters = s
	}
}

func WithEngineMetrics(m ESMetrics) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

func NewEngine(log *slog.Logger, store EventStore, registry *EventRegistry, opts ...EngineOption) *Engine {
	o := &engineOptions{
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.checkpoints == nil {
		o.checkpoints = NewInMemoryCheckpointStore()
	}
	if o.deadletters == nil {
		o.deadletters = NewInMemoryDeadLetterStore()
	}

	return &Engine{
		log:         log.With(slog.String("component", "projection-engine")),
		store:       store,
		registry:    registry,
		checkpoints: o.checkpoints,
		deadletters: o.deadletters,
		metrics:     o.metrics,
		workers:     map[string]*projWorker{},
	}
}

// Register adds a projection. Must be called before Start.
func (e *Engine) Register(p Projection, opts ...ProjectionOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("projection %s: engine already started", p.Name())
	}
	if p.Name() == "" {
		return fmt.Errorf("%w: projection name is empty", ErrValidation)
	}
	if _, ok := e.workers[p.Name()]; ok {
		return fmt.Errorf("projection %s already registered", p.Name())
	}

	e.workers[p.Name()] = newProjWorker(e, p, newProjOptions(opts...))
	return nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	e.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	for _, w := range e.workers {
		go w.run(runCtx)
	}

	e.log.Info("started", slog.Int("num_projections", len(e.workers)))
	return nil
}

// Stop shuts down all workers and waits for them to drain, up to ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.cancel()
	workers := make([]*projWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.log.Info("stopped")
	return nil
}

// Projection returns the live instance registered (or swapped in) under name.
func (e *Engine) Projection(name string) (Projection, bool) {
	e.mu.Lock()
	w, ok := e.workers[name]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.projection(), true
}

// Checkpoint returns the projection's current checkpoint record.
func (e *Engine) Checkpoint(ctx context.Context, name string) (Checkpoint, error) {
	return e.checkpoints.Get(ctx, name)
}

// DeadLetters lists the events dead-lettered by the named projection.
func (e *Engine) DeadLetters(ctx context.Context, name string) ([]DeadLetter, error) {
	return e.deadletters.List(ctx, name)
}

// Rebuild replays the full log into a fresh copy of the projection and swaps
// it in once it reaches the position the log had when the rebuild started.
// The worker keeps serving the previous state until the swap; cancellation
// leaves the previous state and checkpoint untouched.
func (e *Engine) Rebuild(ctx context.Context, name string) error {
	e.mu.Lock()
	w, ok := e.workers[name]
	started := e.started
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("projection %s not registered", name)
	}
	if !started {
		return fmt.Errorf("projection %s: engine not started", name)
	}
	if _, ok := w.projection().(Rebuildable); !ok {
		return fmt.Errorf("projection %s is not rebuildable", name)
	}

	req := rebuildRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case w.rebuildCh <- req:
	case <-w.done:
		return fmt.Errorf("projection %s: worker stopped", name)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
