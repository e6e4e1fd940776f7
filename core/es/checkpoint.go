package es

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamhaus/evr-go/ports/kv"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ProjectionStatus is the lifecycle state of a projection worker.
type ProjectionStatus string

const (
	StatusIdle       ProjectionStatus = "idle"
	StatusRunning    ProjectionStatus = "running"
	StatusRebuilding ProjectionStatus = "rebuilding"
	StatusFailed     ProjectionStatus = "failed"
)

// Checkpoint records how far a projection has processed the global event
// order. Position is monotonically non-decreasing except on an explicit
// rebuild reset.
type Checkpoint struct {
	Projection string           `json:"projection"`
	Position   uint64           `json:"position"`
	Status     ProjectionStatus `json:"status"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// CheckpointStore persists checkpoints keyed by projection name. Each
// projection worker owns its checkpoint exclusively; the store needs no
// cross-worker coordination.
type CheckpointStore interface {
	Get(ctx context.Context, projection string) (Checkpoint, error)
	Set(ctx context.Context, cp Checkpoint) error
}

// === KV-backed CheckpointStore ===

type KVCheckpointStore struct {
	store kv.Store
}

func NewKVCheckpointStore(store kv.Store) *KVCheckpointStore {
	return &KVCheckpointStore{store: store}
}

func NewInMemoryCheckpointStore() *KVCheckpointStore {
	return NewKVCheckpointStore(kv.NewMemStore())
}

func checkpointKey(projection string) string { return "checkpoint/" + projection }

func (s *KVCheckpointStore) Get(ctx context.Context, projection string) (Checkpoint, error) {
	cp, err := kv.Get[Checkpoint](ctx, s.store, checkpointKey(projection))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Checkpoint{}, ErrCheckpointNotFound
		}
		return Checkpoint{}, fmt.Errorf("%w: get checkpoint: %v", ErrStorageFailure, err)
	}
	return cp, nil
}

func (s *KVCheckpointStore) Set(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = time.Now()
	if err := kv.Put(ctx, s.store, checkpointKey(cp.Projection), cp, kv.PutOptions{}); err != nil {
		return fmt.Errorf("%w: set checkpoint: %v", ErrStorageFailure, err)
	}
	return nil
}

var _ CheckpointStore = (*KVCheckpointStore)(nil)
