// file: internal/cache/cache_test.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package cache

import (
	"testing"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestGetSet(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected v, got %q ok=%v", v, ok)
	}
}

func TestExpiry(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := NewWithClock[int](time.Minute, clk)
	c.Set("k", 42)

	clk.Advance(59 * time.Second)
	v, ttl, ok := c.GetWithTTL("k")
	if !ok || v != 42 || ttl != time.Second {
		t.Fatalf("expected 42 with 1s left, got %d %v ok=%v", v, ttl, ok)
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry")
	}
}

func TestSetWithNonPositiveTTLRemoves(t *testing.T) {
	c := NewWithClock[string](time.Minute, clock.NewFake(epoch))
	c.Set("a", "1")
	c.SetWithTTL("a", "2", 0)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be removed")
	}
}

func TestExtendKeepsLongerDeadline(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := NewWithClock[time.Time](time.Minute, clk)

	if !c.Extend("api", epoch, 5*time.Minute) {
		t.Fatal("first extend should write")
	}
	if c.Extend("api", epoch, time.Minute) {
		t.Fatal("shorter backoff must not shorten the deadline")
	}
	_, ttl, _ := c.GetWithTTL("api")
	if ttl != 5*time.Minute {
		t.Fatalf("expected 5m left, got %v", ttl)
	}
	if !c.Extend("api", epoch, 10*time.Minute) {
		t.Fatal("longer backoff should replace")
	}
	if c.Extend("api", epoch, 0) {
		t.Fatal("zero ttl is a no-op")
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Invalidate("a")
	_, ok := c.Get("a")
	if ok {
		t.Fatal("expected a to be invalidated")
	}
	v, ok := c.Get("b")
	if !ok || v != "2" {
		t.Fatal("expected b to remain")
	}
}

func TestInvalidateAllAndPurge(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := NewWithClock[int](time.Minute, clk)
	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Hour)

	clk.Advance(2 * time.Minute)
	if n := c.Purge(); n != 1 {
		t.Fatalf("expected 1 live entry, got %d", n)
	}
	c.InvalidateAll()
	if n := c.Purge(); n != 0 {
		t.Fatalf("expected empty cache, got %d", n)
	}
}
