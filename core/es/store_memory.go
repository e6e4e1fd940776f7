package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is a correct in-process EventStore for tests and development.
//
// Appends take a lock scoped to the target stream, so concurrent appends to
// different streams proceed in parallel; only the assignment of global
// positions happens under a short commit lock, which also makes the whole
// batch visible to readers atomically.
type InMemoryStore struct {
	log       *slog.Logger
	publisher Publisher
	metrics   ESMetrics

	// commitMu guards streams, all, pos and subs. Held only for the commit
	// section and for reads, never while a caller-supplied function runs.
	commitMu sync.RWMutex
	streams  map[string][]Envelope
	all      []Envelope
	pos      uint64
	subs     map[string]*bufferedSubscription

	// streamMu guards streamLocks.
	streamMu    sync.Mutex
	streamLocks map[string]*sync.Mutex
}

type InMemoryStoreOption func(*InMemoryStore)

func WithStorePublisher(p Publisher) InMemoryStoreOption {
	return func(s *InMemoryStore) { s.publisher = p }
}

func WithStoreLog(log *slog.Logger) InMemoryStoreOption {
	return func(s *InMemoryStore) { s.log = log }
}

func WithStoreMetrics(m ESMetrics) InMemoryStoreOption {
	return func(s *InMemoryStore) { s.metrics = m }
}

func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	s := &InMemoryStore{
		log:         slog.Default(),
		publisher:   NopPublisher(),
		metrics:     NopESMetrics(),
		streams:     map[string][]Envelope{},
		subs:        map[string]*bufferedSubscription{},
		streamLocks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "memory"))
	return s
}

func (s *InMemoryStore) lockStream(key string) *sync.Mutex {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	mu, ok := s.streamLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.streamLocks[key] = mu
	}
	return mu
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	streamType, streamID string,
	expect Version,
	events []Envelope,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events to append", ErrValidation)
	}

	defer s.metrics.StoreAppendDuration(streamType).ObserveDuration()

	key := StreamKey(streamType, streamID)

	// Exclusive access scoped to this stream only.
	mu := s.lockStream(key)
	mu.Lock()
	defer mu.Unlock()

	s.commitMu.RLock()
	curVersion := Version(0)
	if cur := s.streams[key]; len(cur) > 0 {
		curVersion = cur[len(cur)-1].Version
	}
	s.commitMu.RUnlock()

	if curVersion != expect {
		s.metrics.VersionConflict(streamType)
		return nil, fmt.Errorf("stream %s: current version %d, expected %d: %w",
			key, curVersion, expect, ErrVersionConflict)
	}

	// Validate the whole batch before anything is persisted.
	batch := make([]Envelope, len(events))
	for i, e := range events {
		if e.StreamType != streamType || e.StreamID != streamID {
			return nil, fmt.Errorf("%w: envelope stream %s-%s does not match target %s",
				ErrValidation, e.StreamType, e.StreamID, key)
		}
		wantVersion := expect + Version(i+1)
		if e.Version != wantVersion {
			return nil, fmt.Errorf("%w: envelope version %d, want %d", ErrValidation, e.Version, wantVersion)
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		batch[i] = e
	}

	// Commit: assign consecutive global positions and publish the batch to
	// readers in one step.
	s.commitMu.Lock()
	for i := range batch {
		s.pos++
		batch[i].GlobalPos = s.pos
	}
	lastPos := s.pos
	s.streams[key] = append(s.streams[key], batch...)
	s.all = append(s.all, batch...)
	for _, sub := range s.subs {
		sub.enqueue(batch...)
	}
	s.commitMu.Unlock()

	s.metrics.EventsAppended(streamType, len(batch))
	s.log.Debug(
		"append",
		slog.String("stream", key),
		slog.Uint64("last_pos", lastPos),
		slog.Int("num_events", len(batch)),
	)

	// Offer the committed batch to the external distribution channel, in
	// commit order. At-least-once: a failure here is logged, the commit
	// stands, and subscribers dedupe on envelope ID.
	if err := s.publisher.Publish(ctx, batch); err != nil {
		s.log.Error("publish failed", slog.String("stream", key), slog.Any("error", err))
	}

	return &AppendResult{
		StreamVersion: expect + Version(len(batch)),
		LastPos:       lastPos,
	}, nil
}

func (s *InMemoryStore) ReadStream(
	_ context.Context,
	streamType, streamID string,
	opts ...ReadStreamOption,
) ([]Envelope, error) {
	options := NewReadStreamOptions(opts...)

	defer s.metrics.StoreReadDuration(streamType).ObserveDuration()

	s.commitMu.RLock()
	defer s.commitMu.RUnlock()

	events := s.streams[StreamKey(streamType, streamID)]
	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < options.FromVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) ReadAll(_ context.Context, opts ...ReadAllOption) ([]Envelope, error) {
	options := NewReadAllOptions(opts...)

	s.commitMu.RLock()
	defer s.commitMu.RUnlock()

	out := make([]Envelope, 0)
	for _, e := range s.all {
		if e.GlobalPos > options.ToPos {
			break
		}
		if options.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	s.commitMu.Lock()
	subID := gonanoid.Must()
	sub := newBufferedSubscription(s.pos, options.Filters(), func() {
		s.commitMu.Lock()
		defer s.commitMu.Unlock()
		delete(s.subs, subID)
	})
	if options.DeliverPolicy() == DeliverAllPolicy {
		for _, e := range s.all {
			if e.GlobalPos < options.StartPos() {
				continue
			}
			sub.enqueue(e)
		}
	}
	s.subs[subID] = sub
	s.commitMu.Unlock()

	CancelOnDone(ctx, sub)

	return sub, nil
}

var _ EventStore = (*InMemoryStore)(nil)
