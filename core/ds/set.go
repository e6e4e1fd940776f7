// Package ds provides small generic containers used by projection read
// models. Both Set and Map serialize to plain JSON so a read model that
// embeds them can be snapshotted and restored without custom codecs.
package ds

import (
	"encoding/json"
	"fmt"
)

type StringSet = Set[string]

// Set is an insertion-ordered set: membership tests are O(1) and iteration
// is deterministic, so read models that fold it from an event stream produce
// the same output on every replay.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T // preserves insertion order
}

func (s *Set[T]) String() string {
	return fmt.Sprintf("%v", s.order)
}

// Add adds v to the set. No-op if already present. (mutates)
func (s *Set[T]) Add(v T) {
	if s.contains(v) {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

// Len returns the number of elements in the set.
func (s *Set[T]) Len() int { return len(s.items) }

// Remove removes the given ids from the set. (mutates)
// This operation is O(n) where n is the set size.
func (s *Set[T]) Remove(ids ...T) {
	if len(ids) == 0 {
		return
	}

	toRemove := make(map[T]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.items[id]; ok {
			toRemove[id] = struct{}{}
			delete(s.items, id)
		}
	}

	if len(toRemove) == 0 {
		return
	}

	newOrder := make([]T, 0, len(s.order)-len(toRemove))
	for _, v := range s.order {
		if _, removed := toRemove[v]; !removed {
			newOrder = append(newOrder, v)
		}
	}
	s.order = newOrder
}

// Contains returns true if v is present in the set.
func (s *Set[T]) Contains(v T) bool {
	return s.contains(v)
}

func (s *Set[T]) contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

// ForEach iterates over all elements in insertion order, calling fn for each.
func (s *Set[T]) ForEach(fn func(T)) {
	for _, v := range s.order {
		fn(v)
	}
}

// Filter returns a new set containing only elements for which fn returns
// true, preserving the receiver's insertion order.
func (s *Set[T]) Filter(fn func(T) bool) *Set[T] {
	filtered := NewSet[T]()
	for _, v := range s.order {
		if fn(v) {
			filtered.Add(v)
		}
	}
	return filtered
}

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// IsEmpty returns true if the set contains no elements.
func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Clear removes all elements from the set. (mutates)
func (s *Set[T]) Clear() {
	s.items = map[T]struct{}{}
	s.order = nil
}

// MarshalJSON serializes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON deserializes a JSON array into the set.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var ids []T
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	s.Clear()
	for _, id := range ids {
		s.Add(id)
	}
	return nil
}

// NewSet creates a new set with the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	set := &Set[T]{items: map[T]struct{}{}, order: make([]T, 0, len(items))}
	for _, item := range items {
		set.Add(item)
	}
	return set
}

// NewStringSet creates a new string set with the given items.
func NewStringSet(items ...string) *StringSet {
	return NewSet(items...)
}
