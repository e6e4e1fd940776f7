package es

import "errors"

var (
	// ErrValidation marks malformed commands, envelopes or empty batches.
	// Nothing is persisted when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrVersionConflict is returned by Append when the stream's current
	// version does not match the expected version. No partial write occurs;
	// the caller must reload and resubmit.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageFailure wraps I/O or transport faults from a store backend.
	// Retryable by the caller with backoff.
	ErrStorageFailure = errors.New("storage failure")

	// ErrAggregateNotFound is returned when loading an aggregate whose
	// stream has no committed events.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrUnknownEventType is returned when decoding an envelope whose type
	// is not registered.
	ErrUnknownEventType = errors.New("unknown event type")
)
