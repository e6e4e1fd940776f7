package es

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AppendResult reports the outcome of a committed append.
type AppendResult struct {
	// StreamVersion is the stream's version after the batch.
	StreamVersion Version
	// LastPos is the global position of the batch's last event.
	LastPos uint64
}

// EventStore is the durable, append-only, per-stream ordered log with a
// global cross-stream ordering.
//
// Append acquires exclusive access scoped to the target stream only, compares
// the stored current version to expect, and commits the whole batch with
// sequential stream versions and global positions, or fails with
// ErrVersionConflict without persisting anything. Readers never observe a
// partially committed batch.
type EventStore interface {
	Append(ctx context.Context, streamType, streamID string, expect Version, events []Envelope) (*AppendResult, error)
	ReadStream(ctx context.Context, streamType, streamID string, opts ...ReadStreamOption) ([]Envelope, error)
	ReadAll(ctx context.Context, opts ...ReadAllOption) ([]Envelope, error)
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

// === read options ===

type (
	ReadStreamOptions struct {
		FromVersion Version // first version to include; 0 reads from the start
	}
	ReadStreamOption func(*ReadStreamOptions)

	ReadAllOptions struct {
		FromPos uint64   // first global position to include
		ToPos   uint64   // last global position to include
		Types   []string // event type filter; empty matches all
	}
	ReadAllOption func(*ReadAllOptions)
)

func WithFromVersion(v Version) ReadStreamOption {
	return func(o *ReadStreamOptions) { o.FromVersion = v }
}

func WithFromPos(pos uint64) ReadAllOption { return func(o *ReadAllOptions) { o.FromPos = pos } }
func WithToPos(pos uint64) ReadAllOption   { return func(o *ReadAllOptions) { o.ToPos = pos } }
func WithEventTypes(types ...string) ReadAllOption {
	return func(o *ReadAllOptions) { o.Types = append(o.Types, types...) }
}

func NewReadStreamOptions(opts ...ReadStreamOption) ReadStreamOptions {
	options := ReadStreamOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func NewReadAllOptions(opts ...ReadAllOption) ReadAllOptions {
	options := ReadAllOptions{ToPos: math.MaxUint64}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o ReadAllOptions) Matches(e Envelope) bool {
	if e.GlobalPos < o.FromPos || e.GlobalPos > o.ToPos {
		return false
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// === append helper ===

type (
	appendOptions struct {
		causationID   string
		correlationID string
		metadata      map[string]string
	}
	AppendOption func(*appendOptions)
)

func WithCausationID(id string) AppendOption {
	return func(o *appendOptions) { o.causationID = id }
}
func WithCorrelationID(id string) AppendOption {
	return func(o *appendOptions) { o.correlationID = id }
}
func WithMetadata(md map[string]string) AppendOption {
	return func(o *appendOptions) { o.metadata = md }
}

// Envelop wraps typed event payloads into envelopes for the given stream,
// versioned expect+1..expect+N. Global positions are assigned by the store at
// commit time.
func Envelop(streamType, streamID string, expect Version, events []any, opts ...AppendOption) ([]Envelope, error) {
	options := appendOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %T: %v", ErrValidation, ev, err)
		}
		env := Envelope{
			ID:            gonanoid.Must(),
			Type:          EventTypeOf(ev),
			StreamType:    streamType,
			StreamID:      streamID,
			Version:       expect + Version(i+1),
			OccurredAt:    time.Now(),
			CausationID:   options.causationID,
			CorrelationID: options.correlationID,
			Metadata:      options.metadata,
			Data:          data,
		}
		if err := env.Validate(); err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// AppendEvents marshals typed events into envelopes and appends them in one
// atomic batch.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	streamType, streamID string,
	expect Version,
	events ...any,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events to append", ErrValidation)
	}
	envelopes, err := Envelop(streamType, streamID, expect, events)
	if err != nil {
		return nil, err
	}
	return store.Append(ctx, streamType, streamID, expect, envelopes)
}
