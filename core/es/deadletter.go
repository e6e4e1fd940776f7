package es

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/streamhaus/evr-go/ports/kv"
)

// DeadLetter records an event a projection handler could not process. The
// offending event is isolated here so the projection can move on (or halt,
// per policy) without affecting other projections or the write path.
type DeadLetter struct {
	ID         string    `json:"id"`
	Projection string    `json:"projection"`
	Envelope   Envelope  `json:"envelope"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

type DeadLetterStore interface {
	Add(ctx context.Context, dl DeadLetter) error
	// List returns the dead letters of one projection, for operator triage.
	List(ctx context.Context, projection string) ([]DeadLetter, error)
}

// === KV-backed DeadLetterStore ===

type KVDeadLetterStore struct {
	store kv.Store
}

func NewKVDeadLetterStore(store kv.Store) *KVDeadLetterStore {
	return &KVDeadLetterStore{store: store}
}

func NewInMemoryDeadLetterStore() *KVDeadLetterStore {
	return NewKVDeadLetterStore(kv.NewMemStore())
}

func deadLetterPrefix(projection string) string { return "deadletter/" + projection + "/" }

func (s *KVDeadLetterStore) Add(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = gonanoid.Must()
	}
	key := deadLetterPrefix(dl.Projection) + dl.ID
	if err := kv.Put(ctx, s.store, key, dl, kv.PutOptions{}); err != nil {
		return fmt.Errorf("%w: add dead letter: %v", ErrStorageFailure, err)
	}
	return nil
}

func (s *KVDeadLetterStore) List(ctx context.Context, projection string) ([]DeadLetter, error) {
	keys, err := s.store.Keys(ctx, deadLetterPrefix(projection))
	if err != nil {
		return nil, fmt.Errorf("%w: list dead letters: %v", ErrStorageFailure, err)
	}

	out := make([]DeadLetter, 0, len(keys))
	for _, key := range keys {
		dl, err := kv.Get[DeadLetter](ctx, s.store, key)
		if err != nil {
			return nil, fmt.Errorf("%w: read dead letter %s: %v", ErrStorageFailure, key, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

var _ DeadLetterStore = (*KVDeadLetterStore)(nil)
