package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests and development.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{entries: map[string]memEntry{}}
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	me := memEntry{entry: entry}
	if opts.TTL > 0 {
		me.expiresAt = time.Now().Add(opts.TTL)
	}
	m.entries[key] = me
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	me, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, ErrNotFound
	}
	if !me.expiresAt.IsZero() && time.Now().After(me.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	return me.entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make([]string, 0)
	for k, me := range m.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !me.expiresAt.IsZero() && now.After(me.expiresAt) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

var _ Store = (*MemStore)(nil)
