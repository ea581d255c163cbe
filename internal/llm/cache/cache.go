// Package cache provides short-lived lookup caches used in front of slow
// configuration reads such as the persisted pricing table.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a TTL cache keyed by K. A ttl of zero selects the implementation default.
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, key K)
}

// DefaultTTL applies when Set is called with a zero ttl.
const DefaultTTL = time.Hour

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are dropped lazily on read
// and by Purge; there is no background goroutine to stop.
type Memory[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
	stats      counters
}

// MemoryOption customizes a Memory cache.
type MemoryOption[K comparable, V any] func(*Memory[K, V])

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL[K comparable, V any](ttl time.Duration) MemoryOption[K, V] {
	return func(m *Memory[K, V]) { m.defaultTTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock[K comparable, V any](now func() time.Time) MemoryOption[K, V] {
	return func(m *Memory[K, V]) { m.now = now }
}

// NewMemory returns an empty in-process cache.
func NewMemory[K comparable, V any](opts ...MemoryOption[K, V]) *Memory[K, V] {
	m := &Memory[K, V]{
		items:      make(map[K]entry[V]),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value for key if present and not expired.
func (m *Memory[K, V]) Get(_ context.Context, key K) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		m.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	m.stats.hits.Add(1)
	return e.value, true
}

// Set stores value under key for ttl.
func (m *Memory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	m.items[key] = entry[V]{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// Delete removes key.
func (m *Memory[K, V]) Delete(_ context.Context, key K) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Purge drops every expired entry and returns how many were removed.
func (m *Memory[K, V]) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet purged.
func (m *Memory[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Stats returns hit and miss counters.
func (m *Memory[K, V]) Stats() Stats { return m.stats.snapshot() }
