package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTable is an in-memory Tier 2 with failure injection and query counting.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[Key]Row
	queries int
	upserts int
	fail    []error // consumed FIFO by any operation
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[Key]Row)}
}

func (f *fakeTable) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = append(f.fail, errs...)
}

func (f *fakeTable) nextErr() error {
	if len(f.fail) == 0 {
		return nil
	}
	err := f.fail[0]
	f.fail = f.fail[1:]
	return err
}

func (f *fakeTable) QueryRows(_ context.Context, keys []Key) (map[Key]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	out := make(map[Key]Row)
	for _, k := range keys {
		if row, ok := f.rows[k]; ok {
			out[k] = row
		}
	}
	return out, nil
}

func (f *fakeTable) UpsertRow(_ context.Context, key Key, values map[string]any, version uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if err := f.nextErr(); err != nil {
		return err
	}
	f.rows[key] = Row{Key: key, Values: values, Version: version, FetchedAt: time.Now()}
	return nil
}

func (f *fakeTable) NextVersion(_ context.Context, key Key) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return 0, err
	}
	return f.rows[key].Version + 1, nil
}

func (f *fakeTable) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func newTestStore(t *testing.T) (*Store, KV, *fakeTable) {
	t.Helper()
	kv := NewMemoryKV(100, time.Hour)
	table := newFakeTable()
	return NewStore(kv, table, zerolog.Nop()), kv, table
}

func TestGetReadsThroughAndPopulatesTier1(t *testing.T) {
	store, kv, table := newTestStore(t)
	ctx := context.Background()
	key := Key{EntityID: "u1", Group: "profile"}
	table.rows[key] = Row{Key: key, Values: map[string]any{"age": 30.0}, Version: 1}

	row, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Values["age"] != 30.0 {
		t.Fatalf("unexpected row %+v", row)
	}
	if _, ok, _ := kv.Get(ctx, key); !ok {
		t.Fatalf("tier-2 hit should populate tier 1")
	}

	// Second read must come from tier 1 without another tier-2 query.
	before := table.queryCount()
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if table.queryCount() != before {
		t.Fatalf("second read must not reach tier 2")
	}
}

func TestGetNotFound(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Get(context.Background(), Key{EntityID: "nope", Group: "g"})
	if !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestGetBatchPreservesOrderAndCoalesces(t *testing.T) {
	store, _, table := newTestStore(t)
	ctx := context.Background()
	k1 := Key{EntityID: "a", Group: "g"}
	k2 := Key{EntityID: "b", Group: "g"}
	k3 := Key{EntityID: "c", Group: "g"}
	table.rows[k1] = Row{Key: k1, Values: map[string]any{"v": 1.0}, Version: 1}
	table.rows[k3] = Row{Key: k3, Values: map[string]any{"v": 3.0}, Version: 1}

	keys := []Key{k1, k2, k1, k3}
	results, err := store.GetBatch(ctx, keys)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != len(keys) {
		t.Fatalf("expected %d results, got %d", len(keys), len(results))
	}
	for i, want := range keys {
		if results[i].Key != want {
			t.Fatalf("result %d key mismatch: got %v want %v", i, results[i].Key, want)
		}
	}
	if results[1].Row != nil {
		t.Fatalf("missing key should have nil row")
	}
	if results[0].Row == nil || results[2].Row == nil || results[0].Row.Values["v"] != results[2].Row.Values["v"] {
		t.Fatalf("duplicate keys should resolve to the same row")
	}
	if got := table.queryCount(); got != 1 {
		t.Fatalf("miss set must be fetched with a single tier-2 query, got %d", got)
	}
}

func TestPutWriteThrough(t *testing.T) {
	store, kv, table := newTestStore(t)
	ctx := context.Background()
	key := Key{EntityID: "u1", Group: "profile"}

	if err := store.Put(ctx, key, map[string]any{"age": 31.0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if table.rows[key].Version != 1 {
		t.Fatalf("tier-2 should hold version 1, got %d", table.rows[key].Version)
	}
	row, ok, _ := kv.Get(ctx, key)
	if !ok || row.Version != 1 {
		t.Fatalf("tier-1 should hold the observed version, got %+v ok=%v", row, ok)
	}

	if err := store.Put(ctx, key, map[string]any{"age": 32.0}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if table.rows[key].Version != 2 {
		t.Fatalf("version should be monotonic, got %d", table.rows[key].Version)
	}
}

func TestPutLeavesTier1UntouchedOnTier2Failure(t *testing.T) {
	store, kv, table := newTestStore(t)
	ctx := context.Background()
	key := Key{EntityID: "u1", Group: "profile"}

	// Terminal Tier-2 failure: it is not retried, and the first queued error
	// already fails the version read that precedes the upsert.
	boom := fmt.Errorf("disk on fire")
	table.failNext(boom, boom)
	if err := store.Put(ctx, key, map[string]any{"age": 31.0}); err == nil {
		t.Fatalf("expected put failure")
	}
	if _, ok, _ := kv.Get(ctx, key); ok {
		t.Fatalf("tier 1 must not be touched when tier 2 fails")
	}
}

func TestTransientTierErrorRetriedOnce(t *testing.T) {
	store, _, table := newTestStore(t)
	ctx := context.Background()
	key := Key{EntityID: "u1", Group: "profile"}
	table.rows[key] = Row{Key: key, Values: map[string]any{"v": 1.0}, Version: 1}

	table.failNext(MarkTransient(fmt.Errorf("blip")))
	row, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("one transient failure should be absorbed: %v", err)
	}
	if row.Version != 1 {
		t.Fatalf("unexpected row %+v", row)
	}

	table.failNext(MarkTransient(fmt.Errorf("blip")), MarkTransient(fmt.Errorf("blip")))
	if _, err := store.Get(ctx, Key{EntityID: "u2", Group: "profile"}); err == nil {
		t.Fatalf("second consecutive transient failure should surface")
	}
}

func TestHigherVersionWinsInTier1(t *testing.T) {
	store, kv, table := newTestStore(t)
	ctx := context.Background()
	key := Key{EntityID: "u1", Group: "profile"}

	// Tier 1 already holds a newer row than what tier 2 returns.
	newer := Row{Key: key, Values: map[string]any{"v": 9.0}, Version: 9, FetchedAt: time.Now()}
	if err := kv.Set(ctx, newer); err != nil {
		t.Fatalf("seed tier1: %v", err)
	}
	stale := store.populateTier1(ctx, Row{Key: key, Values: map[string]any{"v": 1.0}, Version: 1})
	if stale.Version != 9 {
		t.Fatalf("higher version must win, got %d", stale.Version)
	}
	row, ok, _ := kv.Get(ctx, key)
	if !ok || row.Version != 9 {
		t.Fatalf("tier 1 must keep version 9, got %+v", row)
	}

	// The other direction: a newer tier-2 row replaces the older tier-1 one.
	table.rows[key] = Row{Key: key, Values: map[string]any{"v": 12.0}, Version: 12}
	_ = kv.Del(ctx, key)
	if err := kv.Set(ctx, Row{Key: key, Values: map[string]any{"v": 9.0}, Version: 9}); err != nil {
		t.Fatalf("seed tier1: %v", err)
	}
	fresh := store.populateTier1(ctx, table.rows[key])
	if fresh.Version != 12 {
		t.Fatalf("newer row should install, got %d", fresh.Version)
	}
}
