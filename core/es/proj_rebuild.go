package es

import (
	"context"
	"fmt"
	"log/slog"
)

type rebuildRequest struct {
	ctx  context.Context
	done chan error
}

// rebuild replays the log into a fresh instance and swaps it in. The
// checkpoint only moves on success; any abort restores the previous record
// so the worker resumes exactly where it was.
func (w *projWorker) rebuild(workerCtx, callerCtx context.Context) (uint64, error) {
	rb, ok := w.projection().(Rebuildable)
	if !ok {
		return 0, fmt.Errorf("projection %s is not rebuildable", w.name)
	}

	ctx, cancel := context.WithCancel(callerCtx)
	defer cancel()
	stop := context.AfterFunc(workerCtx, cancel)
	defer stop()

	prev, err := w.e.checkpoints.Get(ctx, w.name)
	if err != nil {
		prev = Checkpoint{Projection: w.name}
	}
	if err := w.setCheckpoint(ctx, prev.Position, StatusRebuilding); err != nil {
		return 0, err
	}
	restore := func() {
		if err := w.e.checkpoints.Set(workerCtx, prev); err != nil {
			w.log.Error("failed to restore checkpoint", slog.Any("error", err))
		}
	}

	timer := w.e.metrics.ProjectionRebuildDuration(w.name)
	defer timer.ObserveDuration()

	w.log.Info("rebuild started")

	// Snapshot of the log as of now. Whatever lands after this read is
	// picked up when the worker re-subscribes past the new checkpoint.
	events, err := w.e.store.ReadAll(ctx)
	if err != nil {
		restore()
		return 0, fmt.Errorf("rebuild read failed: %w", err)
	}

	staging := rb.Fresh()
	head := prev.Position

	for _, env := range events {
		if ctx.Err() != nil {
			restore()
			return 0, ctx.Err()
		}
		if len(w.opts.filters) > 0 && !matchFilters(env, w.opts.filters) {
			continue
		}

		if err := w.rebuildApply(ctx, staging, env); err != nil {
			restore()
			return 0, err
		}
		if env.GlobalPos > head {
			head = env.GlobalPos
		}
	}

	w.mu.Lock()
	w.proj = staging
	w.mu.Unlock()

	if err := w.setCheckpoint(workerCtx, head, StatusRunning); err != nil {
		return 0, err
	}

	w.log.Info("rebuild complete", slog.Uint64("head", head))
	return head, nil
}

// rebuildApply applies one event to the staging instance under the worker's
// failure policy. SkipAndContinue dead-letters and moves on; Halt aborts the
// whole rebuild.
func (w *projWorker) rebuildApply(ctx context.Context, staging Projection, env Envelope) error {
	err := func() error {
		evt, err := w.e.registry.Decode(env)
		if err != nil {
			return err
		}
		return staging.Apply(ctx, env, evt)
	}()
	if err == nil {
		return nil
	}

	w.deadLetter(ctx, env, err)
	if w.opts.policy == Halt {
		return fmt.Errorf("rebuild aborted at pos %d: %w", env.GlobalPos, err)
	}
	return nil
}
