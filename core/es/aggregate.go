package es

import (
	"errors"
	"fmt"
	"time"
)

// Applier is implemented by types that fold events into state. Apply must be
// a pure, deterministic function of (state, event): replaying the same
// ordered sequence from the same initial state always yields the same state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the contract for event-sourced domain objects. An aggregate
// is a consistency boundary whose state is derived entirely from its own
// stream.
//
// The lifecycle is: load (or create) via Repository, execute domain logic
// that raises events, Apply folds them into state, save persists the
// uncommitted events at the loaded version.
type Aggregate interface {
	// StreamType names the stream family this aggregate persists into.
	StreamType() string
	// GetID returns the stream instance identifier.
	GetID() string
	SetID(string)

	// GetVersion is the stream version the aggregate was loaded at plus any
	// applied uncommitted events.
	GetVersion() Version
	setVersion(Version)

	// GetPos is the global position of the last applied committed event.
	GetPos() uint64
	setPos(uint64)

	// Create initializes a new aggregate with the given ID.
	Create(id string) error

	// Register registers the aggregate's event types with a Registrar.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	Applier

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	ClearUncommitted()
}

// AggregateCreated is the first event of aggregates created through
// Repository.GetOrCreate.
type AggregateCreated struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (e AggregateCreated) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created at time is zero")
	}
	return nil
}

// BaseAggregate is an embeddable helper tracking identity, version, position
// and uncommitted events.
type BaseAggregate struct {
	CreatedAt time.Time `json:"created_at"`

	id          string
	version     Version
	pos         uint64
	uncommitted []any
}

func (b *BaseAggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateCreated:
		b.CreatedAt = e.CreatedAt
		b.id = e.ID
		return nil
	}
	return fmt.Errorf("unknown base aggregate event: %T", evt)
}

func (b *BaseAggregate) IsCreated() bool { return !b.CreatedAt.IsZero() }

func (b *BaseAggregate) Create(id string) error {
	if b.IsCreated() {
		return fmt.Errorf("aggregate already created")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return RaiseAndApply(b, &AggregateCreated{ID: id, CreatedAt: time.Now()})
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetPos() uint64       { return b.pos }
func (b *BaseAggregate) setPos(p uint64)      { b.pos = p }

func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// === Helpers ===

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates each event, records it as uncommitted and applies
// it to mutate state.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err = ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	for _, e := range events {
		a.Raise(e)
		if err = a.Apply(e); err != nil {
			return
		}
	}
	return
}
