// Package cache provides the TTL response cache used by the gateway.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a cached upstream response with its expiry metadata.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Source    string          `json:"source"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is the cache interface shared by the Redis and in-memory
// implementations. Get returns only fresh entries; GetStale also
// returns expired ones so the gateway can serve them as a last resort
// before falling back to mock data.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	GetStale(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, data json.RawMessage, source string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
	Healthy(ctx context.Context) bool
	Close() error
}

// Stats reports cache performance counters.
type Stats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Sets      int64     `json:"sets"`
	Errors    int64     `json:"errors"`
	LastError string    `json:"last_error,omitempty"`
	Connected bool      `json:"connected"`
	LastPing  time.Time `json:"last_ping"`
}

// HitRate returns the fraction of lookups served from cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
