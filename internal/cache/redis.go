package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// staleGrace is how long an entry survives in Redis past its TTL so it
// can still be served stale when every upstream tier is down.
const staleGrace = 15 * time.Minute

// RedisStore implements Store on a Redis backend. Entries are stored
// JSON-encoded under a key prefix; the Redis key expiry is the TTL plus
// a stale grace period, while Entry.ExpiresAt marks freshness.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string

	mu    sync.Mutex
	stats Stats
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects a Redis-backed cache store.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return &RedisStore{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		stats:     Stats{Connected: true},
	}
}

// Get returns a fresh entry, or nothing if the key is missing or past
// its TTL.
func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	entry, ok := r.load(ctx, key)
	if !ok {
		r.miss()
		return Entry{}, false
	}
	if entry.Expired(time.Now()) {
		r.miss()
		return Entry{}, false
	}
	r.hit()
	return entry, true
}

// GetStale returns an entry even when its TTL has lapsed, as long as it
// still exists in Redis.
func (r *RedisStore) GetStale(ctx context.Context, key string) (Entry, bool) {
	entry, ok := r.load(ctx, key)
	if !ok {
		return Entry{}, false
	}
	return entry, true
}

func (r *RedisStore) load(ctx context.Context, key string) (Entry, bool) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			r.recordError("get", err)
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.recordError("decode", err)
		return Entry{}, false
	}
	return entry, true
}

// Set stores a response with the given TTL.
func (r *RedisStore) Set(ctx context.Context, key string, data json.RawMessage, source string, ttl time.Duration) error {
	now := time.Now()
	entry := Entry{
		Data:      data,
		Source:    source,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		r.recordError("encode", err)
		return err
	}

	if err := r.client.Set(ctx, r.keyPrefix+key, raw, ttl+staleGrace).Err(); err != nil {
		r.recordError("set", err)
		return err
	}

	r.mu.Lock()
	r.stats.Sets++
	r.stats.Connected = true
	r.mu.Unlock()
	return nil
}

// Delete removes a key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Stats returns a copy of the counters.
func (r *RedisStore) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Healthy pings Redis.
func (r *RedisStore) Healthy(ctx context.Context) bool {
	pong, err := r.client.Ping(ctx).Result()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || pong != "PONG" {
		r.stats.Connected = false
		r.stats.Errors++
		r.stats.LastError = fmt.Sprintf("ping: %v", err)
		return false
	}
	r.stats.Connected = true
	r.stats.LastPing = time.Now()
	return true
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) hit() {
	r.mu.Lock()
	r.stats.Hits++
	r.mu.Unlock()
}

func (r *RedisStore) miss() {
	r.mu.Lock()
	r.stats.Misses++
	r.mu.Unlock()
}

func (r *RedisStore) recordError(op string, err error) {
	log.Warn().Err(err).Str("op", op).Msg("redis cache error")
	r.mu.Lock()
	r.stats.Errors++
	r.stats.LastError = fmt.Sprintf("%s: %v", op, err)
	r.stats.Connected = false
	r.mu.Unlock()
}
