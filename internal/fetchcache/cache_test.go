package fetchcache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if _, hit, _ := c.Get(ctx, "u"); hit {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := c.Set(ctx, "u", []byte("<html>"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	payload, hit, err := c.Get(ctx, "u")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if string(payload) != "<html>" {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "u", []byte("x"), 10*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(11 * time.Second)
	if _, hit, _ := c.Get(ctx, "u"); hit {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryZeroTTLNotStored(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	if err := c.Set(ctx, "u", []byte("x"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "u"); hit {
		t.Fatal("zero-TTL entries must not be cached")
	}
}

func TestMemoryCopiesPayload(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	_ = c.Set(ctx, "u", buf, time.Minute)
	buf[0] = 'z'
	payload, _, _ := c.Get(ctx, "u")
	if string(payload) != "abc" {
		t.Fatalf("cache must not alias caller buffer, got %q", payload)
	}
}
