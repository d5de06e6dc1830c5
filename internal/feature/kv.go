package feature

import (
	"context"
	"time"

	"inferd/internal/cache"
)

// KV is the Tier-1 surface: a volatile key-value cache with TTL. Implemented
// in-process for single-node deployments and by Redis when configured.
type KV interface {
	Get(ctx context.Context, key Key) (Row, bool, error)
	Set(ctx context.Context, row Row) error
	Del(ctx context.Context, key Key) error
}

// memoryKV bounds Tier-1 to a max-entries LRU with TTL.
type memoryKV struct {
	inner *cache.TTLCache[Key, Row]
}

// NewMemoryKV returns an in-process Tier-1 cache.
func NewMemoryKV(capacity int, ttl time.Duration) KV {
	return &memoryKV{inner: cache.NewTTLCache[Key, Row](capacity, ttl)}
}

func (m *memoryKV) Get(_ context.Context, key Key) (Row, bool, error) {
	row, ok := m.inner.Get(key)
	return row, ok, nil
}

func (m *memoryKV) Set(_ context.Context, row Row) error {
	m.inner.Put(row.Key, row)
	return nil
}

func (m *memoryKV) Del(_ context.Context, key Key) error {
	m.inner.Delete(key)
	return nil
}
