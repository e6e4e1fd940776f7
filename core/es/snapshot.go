package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/streamhaus/evr-go/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

type (
	// Snapshot is a checkpoint of aggregate state at a known stream version.
	// Its version never exceeds the stream's committed version; later
	// snapshots supersede earlier ones.
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		StreamType string  `json:"stream_type"`
		StreamID   string  `json:"stream_id"`
		Version    Version `json:"version"`
		// Position is the global position of the last event covered.
		Position uint64 `json:"position"`

		CreatedAt time.Time `json:"created_at"`
		Encoding  string    `json:"encoding"`
		Data      []byte    `json:"data"`
	}

	// Snapshottable aggregates control their own snapshot serialization.
	// Aggregates without it fall back to JSON marshaling.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, streamType, streamID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("stream_type", s.StreamType),
		slog.String("stream_id", s.StreamID),
		s.Version.SlogAttr(),
		slog.Uint64("pos", s.Position),
		slog.Int("size", len(s.Data)),
	)
}

// ApplySnapshot restores agg from its latest snapshot, if one exists.
func ApplySnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) error {
	if snapshotter == nil {
		return ErrSnapshotterUnconfigured
	}
	snapshot, err := snapshotter.LoadSnapshot(ctx, agg.StreamType(), agg.GetID())
	if err != nil {
		return err
	}
	if s, ok := any(agg).(Snapshottable); ok {
		err = s.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(snapshot.Version)
	agg.setPos(snapshot.Position)
	return nil
}

// CreateSnapshot captures agg's current state. The aggregate must be clean:
// a snapshot of uncommitted state could exceed the stream's committed
// version.
func CreateSnapshot(agg Aggregate) (*Snapshot, error) {
	if len(agg.Uncommitted()) != 0 {
		return nil, fmt.Errorf("%w: aggregate has uncommitted events", ErrValidation)
	}

	var (
		data []byte
		err  error
	)
	if s, ok := any(agg).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %T: %w", agg, err)
	}

	return &Snapshot{
		SnapshotID: gonanoid.Must(),
		StreamType: agg.StreamType(),
		StreamID:   agg.GetID(),
		Version:    agg.GetVersion(),
		Position:   agg.GetPos(),
		CreatedAt:  time.Now(),
		Encoding:   "json",
		Data:       data,
	}, nil
}

// === KV-backed Snapshotter ===

// KVSnapshotter persists the latest snapshot per stream in a kv.Store.
type KVSnapshotter struct {
	log   *slog.Logger
	store kv.Store
	ttl   time.Duration
}

type KVSnapshotterOption func(*KVSnapshotter)

// WithSnapshotTTL expires snapshots after ttl, delegating retention to the
// store.
func WithSnapshotTTL(ttl time.Duration) KVSnapshotterOption {
	return func(s *KVSnapshotter) { s.ttl = ttl }
}

func NewKVSnapshotter(log *slog.Logger, store kv.Store, opts ...KVSnapshotterOption) *KVSnapshotter {
	s := &KVSnapshotter{
		log:   log.With(slog.String("snapshotter", fmt.Sprintf("%T", store))),
		store: store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemorySnapshotter returns a snapshotter over an in-process kv store.
func NewInMemorySnapshotter(log *slog.Logger) *KVSnapshotter {
	return NewKVSnapshotter(log, kv.NewMemStore())
}

func snapshotKey(streamType, streamID string) string {
	return "snapshot/" + StreamKey(streamType, streamID)
}

func (s *KVSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	err := kv.Put(ctx, s.store, snapshotKey(snapshot.StreamType, snapshot.StreamID), snapshot, kv.PutOptions{TTL: s.ttl})
	if err != nil {
		return fmt.Errorf("%w: save snapshot: %v", ErrStorageFailure, err)
	}
	s.log.Debug("snapshot saved", snapshot.logAttrs())
	return nil
}

func (s *KVSnapshotter) LoadSnapshot(ctx context.Context, streamType, streamID string) (*Snapshot, error) {
	snapshot, err := kv.Get[*Snapshot](ctx, s.store, snapshotKey(streamType, streamID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("%w: load snapshot: %v", ErrStorageFailure, err)
	}
	return snapshot, nil
}

var _ Snapshotter = (*KVSnapshotter)(nil)
