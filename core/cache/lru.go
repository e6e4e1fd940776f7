package cache

import (
	"container/list"
	"sync"
)

// LRU is a fixed-capacity cache evicting the least recently used entry.
// Safe for concurrent use.
type LRU struct {
	mu      sync.Mutex
	cap     int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type lruEntry struct {
	key string
	val any
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRU{
		cap:     capacity,
		order:   list.New(),
		entries: map[string]*list.Element{},
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (l *LRU) Put(key string, val any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[key]; ok {
		el.Value.(*lruEntry).val = val
		l.order.MoveToFront(el)
		return
	}

	l.entries[key] = l.order.PushFront(&lruEntry{key: key, val: val})

	if l.order.Len() > l.cap {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*lruEntry).key)
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[key]; ok {
		l.order.Remove(el)
		delete(l.entries, key)
	}
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

var _ Cache = (*LRU)(nil)
