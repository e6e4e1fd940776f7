package es

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streamhaus/evr-go/internal/reflector"
)

// EventRegistry maps event type names to constructors so persisted envelopes
// can be decoded back into typed payloads. The registered set is closed at
// startup: an unregistered type surfaces as ErrUnknownEventType instead of a
// silently ignored branch.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

var _ Decoder = (*EventRegistry)(nil)

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// RegisterEventFor registers T under its reflected type name.
func RegisterEventFor[T any](r Registrar) {
	ti := reflector.TypeInfoFor[T]()
	r.Register(ti.Name, func() any { return any(new(T)) })
}

// Event returns a constructor producing a fresh *T per call.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is invoked
// once to derive the type name; future decodes call it again so every decode
// yields a fresh instance.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(EventTypeOf(sample), ctor)
	}
}

// EventTypeOf resolves the persisted type name of an event payload. Events
// may override the reflected name by implementing EventType() string.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}
