// Package kv defines the durable key-value contract the runtime requires
// from storage for snapshots, checkpoints and dead letters. The runtime
// specifies this contract only; the physical engine behind it (disk format,
// indexing, retention) is an external concern.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Entry struct {
	Data      []byte
	UpdatedAt time.Time
}

type PutOptions struct {
	// TTL expires the entry after the given duration. Zero keeps it forever.
	// Retention of superseded snapshots rides on this.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
	// Keys lists keys with the given prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Put marshals v as JSON under key.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data, UpdatedAt: time.Now()}, opts)
}

// Get unmarshals the entry at key into T.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(entry.Data, &out)
	return out, err
}
