package es

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

// errProjectionHalted signals the run loop that the Halt policy fired and
// the worker must park until rebuilt.
var errProjectionHalted = errors.New("projection halted")

type projWorker struct {
	e    *Engine
	log  *slog.Logger
	name string
	opts *projOptions

	mu   sync.RWMutex
	proj Projection

	rebuildCh chan rebuildRequest
	done      chan struct{}
}

func newProjWorker(e *Engine, p Projection, opts *projOptions) *projWorker {
	return &projWorker{
		e:         e,
		log:       e.log.With(slog.String("projection", p.Name())),
		name:      p.Name(),
		opts:      opts,
		proj:      p,
		rebuildCh: make(chan rebuildRequest),
		done:      make(chan struct{}),
	}
}

func (w *projWorker) projection() Projection {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.proj
}

func (w *projWorker) run(ctx context.Context) {
	defer close(w.done)

	pos := uint64(0)
	failed := false

	cp, err := w.e.checkpoints.Get(ctx, w.name)
	switch {
	case errors.Is(err, ErrCheckpointNotFound):
	case err != nil:
		w.log.Error("failed to load checkpoint", slog.Any("error", err))
		return
	default:
		pos = cp.Position
		failed = cp.Status == StatusFailed
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if failed {
			// Parked. A rebuild is the only way back.
			select {
			case <-ctx.Done():
				return
			case req := <-w.rebuildCh:
				newPos, err := w.rebuild(ctx, req.ctx)
				req.done <- err
				if err == nil {
					pos = newPos
					failed = false
				}
			}
			continue
		}

		err := w.tail(ctx, &pos)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errProjectionHalted):
			failed = true
		case errors.Is(err, errResubscribe):
		case err != nil:
			w.log.Error("worker error, retrying", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// errResubscribe makes tail return so the run loop re-subscribes after a
// rebuild moved the checkpoint.
var errResubscribe = errors.New("resubscribe")

func (w *projWorker) tail(ctx context.Context, pos *uint64) error {
	sub, err := w.e.store.Subscribe(ctx,
		WithDeliverPolicy(DeliverAllPolicy),
		WithStartPos(*pos+1),
		WithFilters(w.opts.filters...),
	)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	if err := w.setCheckpoint(ctx, *pos, StatusRunning); err != nil {
		return err
	}
	w.log.Debug("tailing", slog.Uint64("from_pos", *pos+1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-w.rebuildCh:
			newPos, err := w.rebuild(ctx, req.ctx)
			req.done <- err
			if err != nil {
				if errors.Is(err, errProjectionHalted) {
					return err
				}
				continue
			}
			*pos = newPos
			return errResubscribe

		case env, ok := <-sub.Chan():
			if !ok {
				return errors.New("subscription closed")
			}
			batch := w.collect(sub, env)
			if err := w.processBatch(ctx, batch); err != nil {
				return err
			}
			*pos = batch[len(batch)-1].GlobalPos
			if err := w.setCheckpoint(ctx, *pos, StatusRunning); err != nil {
				return err
			}
			if max := sub.MaxPos(); max > *pos {
				w.e.metrics.ProjectionLag(w.name, int64(max-*pos))
			} else {
				w.e.metrics.ProjectionLag(w.name, 0)
			}
		}
	}
}

// collect drains whatever the subscription has buffered, up to the batch
// size, without blocking past the first event.
func (w *projWorker) collect(sub Subscription, first Envelope) []Envelope {
	batch := append(make([]Envelope, 0, w.opts.batchSize), first)
	for len(batch) < w.opts.batchSize {
		select {
		case env, ok := <-sub.Chan():
			if !ok {
				return batch
			}
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}

// processBatch fans the batch out over lanes keyed by stream, so events of
// one stream apply in order while independent streams pipeline.
func (w *projWorker) processBatch(ctx context.Context, batch []Envelope) error {
	if w.opts.lanes == 1 || len(batch) == 1 {
		return w.applyAll(ctx, batch)
	}

	lanes := make([][]Envelope, w.opts.lanes)
	for _, env := range batch {
		i := streamLane(env.StreamKey(), w.opts.lanes)
		lanes[i] = append(lanes[i], env)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		g.Go(func() error {
			return w.applyAll(gctx, lane)
		})
	}
	return g.Wait()
}

func (w *projWorker) applyAll(ctx context.Context, envs []Envelope) error {
	for _, env := range envs {
		if err := w.applyOne(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (w *projWorker) applyOne(ctx context.Context, env Envelope) error {
	timer := w.e.metrics.ProjectionEventDuration(w.name)

	err := func() error {
		evt, err := w.e.registry.Decode(env)
		if err != nil {
			return err
		}
		return w.projection().Apply(ctx, env, evt)
	}()

	timer.ObserveDuration()

	if err != nil {
		w.e.metrics.ProjectionEventProcessed(w.name, false)
		w.deadLetter(ctx, env, err)
		if w.opts.policy == Halt {
			if cerr := w.setCheckpoint(ctx, env.GlobalPos-1, StatusFailed); cerr != nil {
				w.log.Error("failed to mark checkpoint failed", slog.Any("error", cerr))
			}
			w.log.Error("halted", slog.Any("error", err), slog.Uint64("pos", env.GlobalPos))
			return errProjectionHalted
		}
		return nil
	}

	w.e.metrics.ProjectionEventProcessed(w.name, true)
	return nil
}

func (w *projWorker) deadLetter(ctx context.Context, env Envelope, reason error) {
	dl := DeadLetter{
		ID:         gonanoid.Must(),
		Projection: w.name,
		Envelope:   env,
		Reason:     reason.Error(),
		OccurredAt: time.Now(),
	}
	if err := w.e.deadletters.Add(ctx, dl); err != nil {
		w.log.Error("failed to dead-letter event", slog.Any("error", err))
	}
	w.e.metrics.ProjectionDeadLettered(w.name)
	w.log.Warn(
		"event dead-lettered",
		slog.String("event_type", env.Type),
		slog.Uint64("pos", env.GlobalPos),
		slog.String("reason", reason.Error()),
	)
}

func (w *projWorker) setCheckpoint(ctx context.Context, pos uint64, status ProjectionStatus) error {
	err := w.e.checkpoints.Set(ctx, Checkpoint{
		Projection: w.name,
		Position:   pos,
		Status:     status,
		UpdatedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

func streamLane(key string, lanes int) int {
	sum := blake2b.Sum256([]byte(key))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(lanes))
}
