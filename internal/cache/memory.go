package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when no Redis address is
// configured, and by tests. Expired entries are kept until the stale
// grace lapses so GetStale behaves like the Redis store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	stats   Stats

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		stats:   Stats{Connected: true},
		now:     time.Now,
	}
}

// Get returns a fresh entry only.
func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return Entry{}, false
	}

	now := m.now()
	if entry.Expired(now) {
		if now.After(entry.ExpiresAt.Add(staleGrace)) {
			delete(m.entries, key)
		}
		m.stats.Misses++
		return Entry{}, false
	}

	m.stats.Hits++
	return entry, true
}

// GetStale returns an entry even past its TTL, within the grace window.
func (m *MemoryStore) GetStale(ctx context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	if m.now().After(entry.ExpiresAt.Add(staleGrace)) {
		delete(m.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// Set stores a response with the given TTL.
func (m *MemoryStore) Set(ctx context.Context, key string, data json.RawMessage, source string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = Entry{
		Data:      data,
		Source:    source,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	m.stats.Sets++
	return nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Stats returns a copy of the counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Healthy always succeeds for the in-memory store.
func (m *MemoryStore) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	m.stats.LastPing = m.now()
	m.mu.Unlock()
	return true
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SetClock overrides the time source. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}
