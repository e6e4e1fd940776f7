package ds

import (
	"encoding/json"
)

type (
	// MapFactory lets a Map materialize an entry on first access. Read
	// models implement it on their entry type so folding an event for an
	// unseen key never needs a nil check.
	MapFactory[T any]    interface{ Create(id string) *T }
	Map[T MapFactory[T]] struct{ d map[string]*T }
)

// === Map[T] ===

func (m *Map[T]) Len() int { return len(m.d) }

func (m *Map[T]) Data() map[string]*T { return m.d }

func (m *Map[T]) Keys() *Set[string] {
	keys := make([]string, 0, len(m.d))
	for k := range m.d {
		keys = append(keys, k)
	}
	return NewSet(keys...)
}

// Get returns the entry for id, or nil if absent.
func (m *Map[T]) Get(id string) *T {
	return m.d[id]
}

// Ensure returns the entry for id, creating it via the factory on first use.
func (m *Map[T]) Ensure(id string) (e *T) {
	var ok bool
	e, ok = m.d[id]
	if !ok {
		var z T
		e = z.Create(id)
		if m.d == nil {
			m.d = make(map[string]*T)
		}
		m.d[id] = e
	}
	return e
}

func (m *Map[T]) Remove(id string) {
	delete(m.d, id)
}

func NewMap[T MapFactory[T]]() *Map[T] {
	return &Map[T]{d: make(map[string]*T)}
}

func (m *Map[T]) MarshalJSON() ([]byte, error) { return json.Marshal(m.d) }
func (m *Map[T]) UnmarshalJSON(data []byte) error {
	m.d = make(map[string]*T)
	return json.Unmarshal(data, &m.d)
}
