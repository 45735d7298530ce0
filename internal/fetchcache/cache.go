// Package fetchcache caches fetched page payloads keyed by URL so repeated
// runs against the same marketplace query do not re-hit the host inside the
// cache window. A cache hit never consumes a rate-limiter slot.
package fetchcache

import (
	"context"
	"sync"
	"time"
)

// Cache stores raw page payloads with a per-entry TTL.
type Cache interface {
	// Get returns the cached payload and true on a fresh hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with lazy expiry. It backs single-node
// deployments and tests; multi-node deployments use the Redis cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.entries[key] = memEntry{payload: cp, expiresAt: m.now().Add(ttl)}
	return nil
}
