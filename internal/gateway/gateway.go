// Package gateway implements the tiered upstream client: cache check,
// circuit-broken tier walk in configured order, stale-cache rescue, and
// mock fallback as the last resort.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/chainpulse/chainpulse/internal/cache"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

// ErrAllTiersFailed means every tier failed and neither a stale cache
// entry nor a mock payload was available.
var ErrAllTiersFailed = errors.New("all upstream tiers failed")

// Tier is one upstream target in a service's priority order.
type Tier struct {
	Name  string
	Fetch func(ctx context.Context) (json.RawMessage, error)
}

// Request describes one gateway fetch.
type Request struct {
	Service string
	Key     string
	TTL     time.Duration
	Tiers   []Tier

	// Mock builds the canned payload served when every tier and the
	// stale-cache path are exhausted. Nil means no mock exists and the
	// failure is surfaced.
	Mock func() json.RawMessage
}

// Result is the outcome of a gateway fetch.
type Result struct {
	Data      json.RawMessage
	Source    string
	Cached    bool
	Stale     bool
	Fallback  bool
	FetchedAt time.Time
}

// Snapshotter receives successful upstream payloads for durable
// storage. Implemented by the Postgres store; calls must not block the
// request path.
type Snapshotter interface {
	SnapshotResponse(service, key string, payload json.RawMessage, fetchedAt time.Time)
}

// Client coordinates the cache, per-tier circuit breakers, and fallback
// payloads for every service.
type Client struct {
	cache    cache.Store
	metrics  *metrics.Registry
	snapshot Snapshotter

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(service string) BreakerSettings
}

// BreakerSettings holds the circuit parameters applied to each tier.
type BreakerSettings struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultBreakerSettings trips after 3 consecutive failures and allows
// a single half-open probe after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// New creates a gateway client. The snapshotter may be nil; a nil
// settings func applies DefaultBreakerSettings to every service.
func New(store cache.Store, reg *metrics.Registry, snapshot Snapshotter, settings func(service string) BreakerSettings) *Client {
	if settings == nil {
		settings = func(string) BreakerSettings { return DefaultBreakerSettings() }
	}
	return &Client{
		cache:    store,
		metrics:  reg,
		snapshot: snapshot,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

// Fetch runs the tiered fetch ladder for one request.
func (c *Client) Fetch(ctx context.Context, req Request) (Result, error) {
	if entry, ok := c.cache.Get(ctx, req.Key); ok {
		c.countCache(req.Service, true)
		return Result{
			Data:      entry.Data,
			Source:    entry.Source,
			Cached:    true,
			FetchedAt: entry.CachedAt,
		}, nil
	}
	c.countCache(req.Service, false)

	var lastErr error
	for _, tier := range req.Tiers {
		breaker := c.breaker(req.Service, tier.Name)

		payload, err := breaker.Execute(func() (interface{}, error) {
			return tier.Fetch(ctx)
		})
		c.reportBreakerState(req.Service, tier.Name, breaker.State())

		if err != nil {
			lastErr = err
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				log.Debug().
					Str("service", req.Service).
					Str("tier", tier.Name).
					Msg("tier circuit open, skipping")
			} else {
				log.Warn().Err(err).
					Str("service", req.Service).
					Str("tier", tier.Name).
					Msg("tier fetch failed")
			}
			continue
		}

		data := payload.(json.RawMessage)
		now := time.Now()
		if err := c.cache.Set(ctx, req.Key, data, tier.Name, req.TTL); err != nil {
			log.Warn().Err(err).Str("key", req.Key).Msg("cache write failed")
		}
		if c.snapshot != nil {
			c.snapshot.SnapshotResponse(req.Service, req.Key, data, now)
		}
		return Result{Data: data, Source: tier.Name, FetchedAt: now}, nil
	}

	// Every tier failed: a stale cache entry beats mock data.
	if entry, ok := c.cache.GetStale(ctx, req.Key); ok {
		log.Info().
			Str("service", req.Service).
			Str("key", req.Key).
			Time("cached_at", entry.CachedAt).
			Msg("serving stale cache after tier exhaustion")
		return Result{
			Data:      entry.Data,
			Source:    entry.Source,
			Stale:     true,
			FetchedAt: entry.CachedAt,
		}, nil
	}

	if req.Mock != nil {
		log.Info().
			Str("service", req.Service).
			Str("key", req.Key).
			Msg("serving mock fallback after tier exhaustion")
		return Result{
			Data:      req.Mock(),
			Source:    "mock",
			Fallback:  true,
			FetchedAt: time.Now(),
		}, nil
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrAllTiersFailed, req.Service, lastErr)
	}
	return Result{}, fmt.Errorf("%w: %s: no tiers configured", ErrAllTiersFailed, req.Service)
}

// breaker returns the circuit breaker for a service tier, creating it
// on first use.
func (c *Client) breaker(service, tier string) *gobreaker.CircuitBreaker {
	key := service + "/" + tier

	c.mu.RLock()
	breaker, ok := c.breakers[key]
	c.mu.RUnlock()
	if ok {
		return breaker
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if breaker, ok = c.breakers[key]; ok {
		return breaker
	}

	settings := c.settings(service)
	if settings.FailureThreshold == 0 {
		settings = DefaultBreakerSettings()
	}
	threshold := settings.FailureThreshold
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: key,
		// Exactly one half-open probe after the open timeout.
		MaxRequests: settings.SuccessThreshold,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	c.breakers[key] = breaker
	return breaker
}

// BreakerState reports the current state of a tier's breaker.
func (c *Client) BreakerState(service, tier string) gobreaker.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if breaker, ok := c.breakers[service+"/"+tier]; ok {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

func (c *Client) countCache(service string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.WithLabelValues(service).Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues(service).Inc()
	}
}

func (c *Client) reportBreakerState(service, tier string, state gobreaker.State) {
	if c.metrics == nil {
		return
	}
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	c.metrics.BreakerState.WithLabelValues(service, tier).Set(v)
}
