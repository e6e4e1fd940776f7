package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamhaus/evr-go/ports/kv"
)

type KvConfig struct {
	Connect Connector // nil means ConnectDefault()
	Bucket  string
	// MaxBytes bounds the bucket. Zero uses 64 MiB.
	MaxBytes int64
}

// KvStore backs the kv port with a JetStream KV bucket, giving snapshots,
// checkpoints and dead letters durability across process restarts.
type KvStore struct {
	kvb     jetstream.KeyValue
	closeNc closeFunc
}

// kvRecord is the stored wire form. JetStream KV has no per-key TTL, so the
// deadline travels with the value and expires on read.
type kvRecord struct {
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 * 1024
	}

	kvb, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	return &KvStore{kvb: kvb, closeNc: closeNc}, nil
}

func (k *KvStore) Close() {
	if k.closeNc != nil {
		k.closeNc()
	}
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	rec := kvRecord{
		Data:      entry.Data,
		UpdatedAt: entry.UpdatedAt,
	}
	if opts.TTL > 0 {
		rec.ExpiresAt = time.Now().Add(opts.TTL)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = k.kvb.Put(ctx, encodeKey(key), data)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kvb.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, err
	}

	var rec kvRecord
	if err := json.Unmarshal(v.Value(), &rec); err != nil {
		return kv.Entry{}, err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		_ = k.kvb.Delete(ctx, encodeKey(key))
		return kv.Entry{}, kv.ErrNotFound
	}

	return kv.Entry{Data: rec.Data, UpdatedAt: rec.UpdatedAt}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kvb.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (k *KvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := k.kvb.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	out := make([]string, 0)
	for key := range lister.Keys() {
		decoded := decodeKey(key)
		if strings.HasPrefix(decoded, prefix) {
			out = append(out, decoded)
		}
	}
	return out, nil
}

// JetStream KV forbids '/' in keys; the port uses it as a separator.
func encodeKey(key string) string { return strings.ReplaceAll(key, "/", ".") }
func decodeKey(key string) string { return strings.ReplaceAll(key, ".", "/") }

var _ kv.Store = (*KvStore)(nil)
