package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps an event with the metadata needed to store, order and route
// it. It is the unit of storage in the EventStore and is immutable once the
// batch containing it has been committed.
type Envelope struct {
	// ID uniquely identifies this event. External subscribers dedupe on it.
	ID string `json:"id"`
	// GlobalPos is the monotonic cross-stream position assigned at commit.
	// It total-orders all committed events regardless of stream.
	GlobalPos uint64 `json:"global_pos"`
	// Version is the per-stream version (1, 2, 3, ...) used for optimistic
	// concurrency control.
	Version Version `json:"version"`
	// StreamType groups streams of the same aggregate kind.
	StreamType string `json:"stream_type"`
	// StreamID identifies the stream instance within its type.
	StreamID string `json:"stream_id"`
	// Type is the event type name used for deserialization routing.
	Type string `json:"type"`
	// OccurredAt is when the event was created, not when it was committed.
	OccurredAt time.Time `json:"occurred_at"`
	// CausationID references the event or command that caused this event.
	CausationID string `json:"causation_id,omitempty"`
	// CorrelationID groups events belonging to one logical operation.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Metadata carries free-form string pairs alongside the payload.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

// StreamKey returns the storage key of the stream this envelope belongs to.
func (e Envelope) StreamKey() string { return StreamKey(e.StreamType, e.StreamID) }

func StreamKey(streamType, streamID string) string {
	return streamType + "-" + streamID
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: envelope id is empty", ErrValidation)
	}
	if e.StreamType == "" {
		return fmt.Errorf("%w: envelope stream type is empty", ErrValidation)
	}
	if e.StreamID == "" {
		return fmt.Errorf("%w: envelope stream id is empty", ErrValidation)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: envelope type is empty", ErrValidation)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: envelope occurred at is zero", ErrValidation)
	}
	return nil
}

// Decoder turns a persisted envelope back into its typed event payload.
type Decoder interface {
	Decode(e Envelope) (any, error)
}
