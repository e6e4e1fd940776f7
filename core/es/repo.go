package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/streamhaus/evr-go/core/cache"
	"github.com/streamhaus/evr-go/core/perkey"
	"github.com/streamhaus/evr-go/core/sf"
)

// Repository rehydrates aggregates from snapshot plus replay and persists
// new events with optimistic concurrency.
type Repository interface {
	Load(ctx context.Context, agg Aggregate) error
	Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
	CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
}

type repository struct {
	log           *slog.Logger
	store         EventStore
	registry      *EventRegistry
	snapshotter   Snapshotter
	snapshotEvery int
	metrics       ESMetrics
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOptions(opts...)

	return &repository{
		log:           log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:         store,
		registry:      registry,
		snapshotter:   options.snapshotter,
		snapshotEvery: options.snapshotEvery,
		metrics:       options.metrics,
	}
}

// Load rehydrates agg: latest snapshot first (when one exists and the
// aggregate is still blank), then the stream's remaining events folded
// through Apply in version order.
func (r *repository) Load(ctx context.Context, agg Aggregate) error {
	streamType := agg.StreamType()
	if streamType == "" {
		return errors.New("aggregate stream type is empty")
	}
	streamID := agg.GetID()
	if streamID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(streamType).ObserveDuration()

	if r.snapshotter != nil && agg.GetVersion() == 0 {
		err := ApplySnapshot(ctx, r.snapshotter, agg)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return fmt.Errorf("failed to apply snapshot: %w", err)
		}
	}

	log := r.log.With(
		slog.Group("agg",
			slog.String("type", streamType),
			slog.String("id", streamID),
			agg.GetVersion().SlogAttr(),
		),
	)
	log.Debug("loading")

	loaded, err := r.store.ReadStream(ctx, streamType, streamID, WithFromVersion(agg.GetVersion()+1))
	if err != nil {
		return err
	}

	for _, e := range loaded {
		expect := agg.GetVersion() + 1
		if e.Version != expect {
			return fmt.Errorf("stream %s: expect version %d, got %d", e.StreamKey(), expect, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}

		agg.setVersion(e.Version)
		agg.setPos(e.GlobalPos)
	}

	if agg.GetVersion() == 0 {
		return ErrAggregateNotFound
	}

	return nil
}

// Save appends the aggregate's uncommitted events at the version it was
// loaded at. On ErrVersionConflict nothing is persisted and the error is
// propagated unchanged; the caller must reload and reapply its command.
func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	streamType := agg.StreamType()
	if streamType == "" {
		return errors.New("aggregate stream type is empty")
	}
	streamID := agg.GetID()
	if streamID == "" {
		return errors.New("aggregate id is empty")
	}

	options := newSaveOptions(saveOpts...)

	defer r.metrics.RepoSaveDuration(streamType).ObserveDuration()

	expect := agg.GetVersion()
	envelopes, err := Envelop(streamType, streamID, expect, uncommitted, options.appendOpts...)
	if err != nil {
		return err
	}

	res, err := r.store.Append(ctx, streamType, streamID, expect, envelopes)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to save stream=%s-%s: %w", streamType, streamID, err)
	}

	agg.setVersion(res.StreamVersion)
	agg.setPos(res.LastPos)
	agg.ClearUncommitted()

	r.log.Debug(
		"saved",
		slog.Group("agg",
			slog.String("type", streamType),
			slog.String("id", streamID),
			agg.GetVersion().SlogAttr(),
			slog.Uint64("pos", agg.GetPos()),
		),
		slog.Int("num_events", len(envelopes)),
	)

	if options.snapshot || r.snapshotDue(expect, res.StreamVersion) {
		r.snapshotAsync(agg)
	}

	return nil
}

// snapshotDue reports whether the save crossed a snapshot interval boundary.
func (r *repository) snapshotDue(before, after Version) bool {
	if r.snapshotter == nil || r.snapshotEvery <= 0 {
		return false
	}
	every := Version(r.snapshotEvery)
	return before/every != after/every
}

// snapshotAsync captures the state synchronously and persists it in the
// background. A snapshot failure is logged and never fails the triggering
// save.
func (r *repository) snapshotAsync(agg Aggregate) {
	streamType := agg.StreamType()
	ss, err := CreateSnapshot(agg)
	if err != nil {
		r.metrics.SnapshotSaveFailed(streamType)
		r.log.Error("snapshot create failed", slog.Any("error", err))
		return
	}

	go func() {
		defer r.metrics.SnapshotSaveDuration(streamType).ObserveDuration()
		ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
		defer cancel()
		if err := r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
			r.metrics.SnapshotSaveFailed(streamType)
			r.log.Error("snapshot save failed", ss.logAttrs(), slog.Any("error", err))
		}
	}()
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	ss, err := CreateSnapshot(agg)
	if err != nil {
		return nil, err
	}
	if err := r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return nil, err
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository is the type-safe application surface over Repository.
type TypedRepository[T Aggregate] interface {
	StreamType() string
	New() T
	NewWithID(id string) T
	Load(ctx context.Context, agg T) error
	GetByID(ctx context.Context, id string) (T, error)
	GetOrCreate(ctx context.Context, id string) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
	// WithTransaction serializes load-mutate-save cycles per aggregate ID
	// within this process. Cross-process writers still conflict via the
	// expected-version check.
	WithTransaction(ctx context.Context, id string, fn func(agg T) error) error
}

type typedRepo[T Aggregate] struct {
	r       Repository
	log     *slog.Logger
	cache   cache.TypedCache[cachedAggregate]
	sf      *sf.Singleflight[T]
	sched   *perkey.Scheduler[string]
	metrics ESMetrics
}

// cachedAggregate is the replay shortcut the typed repository keeps per
// aggregate: serialized state plus the version it is valid at. Rehydrating
// from it only replays events committed after that version.
type cachedAggregate struct {
	data    []byte
	version Version
	pos     uint64
}

func NewTypedRepository[T Aggregate](log *slog.Logger, s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, s, reg, opts...), opts...)
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository, opts ...RepositoryOption) TypedRepository[T] {
	options := newRepoOptions(opts...)

	t := &typedRepo[T]{
		r:       r,
		log:     log.With(slog.String("repo", fmt.Sprintf("%T", *new(T)))),
		sf:      sf.New[T](),
		sched:   perkey.New[string](),
		metrics: options.metrics,
	}
	if options.cacheSize > 0 {
		t.cache = cache.NewTyped[cachedAggregate](cache.NewLRU(options.cacheSize))
	}
	return t
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) StreamType() string { return t.New().StreamType() }

func (t *typedRepo[T]) Load(ctx context.Context, agg T) error {
	return t.r.Load(ctx, agg)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, errors.New("aggregate id is empty")
	}

	// Concurrent loads of the same aggregate share one replay.
	return t.sf.Do(id, func() (T, error) {
		return t.load(ctx, id)
	})
}

func (t *typedRepo[T]) load(ctx context.Context, id string) (T, error) {
	a := t.NewWithID(id)

	if t.cache != nil {
		if c, ok := t.cache.Get(id); ok {
			if err := t.restoreCached(a, c); err == nil {
				t.metrics.CacheHit(a.StreamType())
			} else {
				// a partial restore must not leak into the replay
				t.log.Warn("discarding cached aggregate state",
					slog.String("id", id), slog.Any("error", err))
				t.cache.Delete(id)
				a = t.NewWithID(id)
			}
		} else {
			t.metrics.CacheMiss(a.StreamType())
		}
	}

	if err := t.r.Load(ctx, a); err != nil {
		return a, err
	}
	t.cachePut(a)
	return a, nil
}

func (t *typedRepo[T]) restoreCached(a T, c cachedAggregate) error {
	var err error
	if s, ok := any(a).(Snapshottable); ok {
		err = s.RestoreSnapshot(c.data)
	} else {
		err = json.Unmarshal(c.data, a)
	}
	if err != nil {
		return err
	}
	a.setVersion(c.version)
	a.setPos(c.pos)
	return nil
}

func (t *typedRepo[T]) cachePut(a T) {
	if t.cache == nil || a.GetVersion() == 0 {
		return
	}

	var (
		data []byte
		err  error
	)
	if s, ok := any(a).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(a)
	}
	if err != nil {
		t.log.Debug("cache put skipped", slog.Any("error", err))
		return
	}
	t.cache.Put(a.GetID(), cachedAggregate{data: data, version: a.GetVersion(), pos: a.GetPos()})
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, errors.New("aggregate id is empty")
	}

	a, err := t.GetByID(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAggregateNotFound) {
		return zero, err
	}

	a = t.NewWithID(id)
	if err := a.Create(id); err != nil {
		return zero, err
	}
	if err := t.Save(ctx, a); err != nil {
		return zero, err
	}
	t.log.Debug("created", slog.String("id", id))
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	if err := t.r.Save(ctx, agg, opts...); err != nil {
		return err
	}
	t.cachePut(agg)
	return nil
}

func (t *typedRepo[T]) WithTransaction(ctx context.Context, id string, fn func(agg T) error) error {
	return t.sched.DoContext(ctx, id, func() error {
		a, err := t.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		return t.Save(ctx, a)
	})
}
