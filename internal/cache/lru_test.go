package cache

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests step time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Unix(1700000000, 0)} }

func TestTTLBoundary(t *testing.T) {
	clk := newFakeClock()
	c := NewTTLCache[string, int](10, time.Minute)
	c.SetClock(clk.now)

	c.Put("k", 42)

	clk.advance(time.Minute - time.Nanosecond)
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Fatalf("expected hit just before ttl, got ok=%v v=%d", ok, v)
	}

	clk.advance(2 * time.Nanosecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss just after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed, len=%d", c.Len())
	}
}

func TestCapacityEvictsExactlyLRU(t *testing.T) {
	c := NewTTLCache[string, int](3, time.Hour)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the LRU.
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected hit for a")
	}

	c.Put("d", 4)
	if c.Len() != 3 {
		t.Fatalf("inserting capacity+1 should leave len=capacity, got %d", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected LRU entry b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %s to survive eviction", k)
		}
	}
}

func TestPutReplacesAndResetsTTL(t *testing.T) {
	clk := newFakeClock()
	c := NewTTLCache[string, int](2, time.Minute)
	c.SetClock(clk.now)

	c.Put("k", 1)
	clk.advance(45 * time.Second)
	c.Put("k", 2)
	clk.advance(30 * time.Second)

	v, ok := c.Get("k")
	if !ok || v != 2 {
		t.Fatalf("replacement should reset ttl, got ok=%v v=%d", ok, v)
	}
	if c.Len() != 1 {
		t.Fatalf("replacement should not grow the cache, len=%d", c.Len())
	}
}

func TestDeleteFunc(t *testing.T) {
	c := NewTTLCache[string, int](10, time.Hour)
	for i := 0; i < 6; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	removed := c.DeleteFunc(func(_ string, v int) bool { return v%2 == 0 })
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 left, got %d", c.Len())
	}
}

func TestZeroCapacityStoresNothing(t *testing.T) {
	c := NewTTLCache[string, int](0, time.Hour)
	c.Put("k", 1)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("zero-capacity cache must not store entries")
	}
}
