package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/cache"
)

func testSettings(openTimeout time.Duration) func(string) BreakerSettings {
	return func(string) BreakerSettings {
		return BreakerSettings{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			OpenTimeout:      openTimeout,
		}
	}
}

func okTier(name string, calls *[]string) Tier {
	return Tier{
		Name: name,
		Fetch: func(ctx context.Context) (json.RawMessage, error) {
			*calls = append(*calls, name)
			return json.RawMessage(`{"from":"` + name + `"}`), nil
		},
	}
}

func failTier(name string, calls *[]string) Tier {
	return Tier{
		Name: name,
		Fetch: func(ctx context.Context) (json.RawMessage, error) {
			*calls = append(*calls, name)
			return nil, errors.New(name + " unavailable")
		},
	}
}

func TestFetch_PrimarySuccess(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	result, err := client.Fetch(context.Background(), Request{
		Service: "market",
		Key:     "k",
		TTL:     time.Minute,
		Tiers:   []Tier{okTier("primary", &calls), okTier("fallback", &calls)},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, calls, "fallback must not be called when primary succeeds")
	assert.Equal(t, "primary", result.Source)
	assert.False(t, result.Cached)
	assert.False(t, result.Fallback)
}

func TestFetch_CacheHitSkipsTiers(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	tiers := []Tier{okTier("primary", &calls)}

	_, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: time.Minute, Tiers: tiers,
	})
	require.NoError(t, err)

	result, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: time.Minute, Tiers: tiers,
	})
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Len(t, calls, 1, "second fetch must be served from cache")
}

func TestFetch_ExpiredEntryNotServedAsCached(t *testing.T) {
	store := cache.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	tiers := []Tier{okTier("primary", &calls)}

	_, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: 30 * time.Second, Tiers: tiers,
	})
	require.NoError(t, err)

	now = now.Add(31 * time.Second)

	result, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: 30 * time.Second, Tiers: tiers,
	})
	require.NoError(t, err)
	assert.False(t, result.Cached, "entry past TTL must not be served as cached")
	assert.Len(t, calls, 2, "expired entry must trigger a fresh upstream fetch")
}

func TestFetch_FallbackOrdering(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	result, err := client.Fetch(context.Background(), Request{
		Service: "market",
		Key:     "k",
		TTL:     time.Minute,
		Tiers: []Tier{
			failTier("primary", &calls),
			failTier("fallback1", &calls),
			okTier("fallback2", &calls),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "fallback1", "fallback2"}, calls)
	assert.Equal(t, "fallback2", result.Source)
}

func TestFetch_MockOnlyAfterAllTiersExhausted(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	mockCalled := false
	result, err := client.Fetch(context.Background(), Request{
		Service: "market",
		Key:     "k",
		TTL:     time.Minute,
		Tiers:   []Tier{failTier("primary", &calls), failTier("fallback", &calls)},
		Mock: func() json.RawMessage {
			mockCalled = true
			return json.RawMessage(`{"mock":true}`)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "fallback"}, calls, "every tier must be tried before the mock")
	assert.True(t, mockCalled)
	assert.True(t, result.Fallback)
	assert.Equal(t, "mock", result.Source)
}

func TestFetch_StaleCacheBeatsMock(t *testing.T) {
	store := cache.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	_, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: 30 * time.Second,
		Tiers: []Tier{okTier("primary", &calls)},
	})
	require.NoError(t, err)

	// Entry is now expired but within the stale grace window, and the
	// upstream has gone down.
	now = now.Add(2 * time.Minute)

	result, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: 30 * time.Second,
		Tiers: []Tier{failTier("primary", &calls)},
		Mock:  func() json.RawMessage { return json.RawMessage(`{"mock":true}`) },
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.False(t, result.Fallback, "stale cache must win over the mock payload")
	assert.JSONEq(t, `{"from":"primary"}`, string(result.Data))
}

func TestFetch_NoMockSurfacesError(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	_, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{failTier("primary", &calls)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTiersFailed)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(time.Minute))

	var calls []string
	req := Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{failTier("primary", &calls)},
		Mock:  func() json.RawMessage { return json.RawMessage(`{}`) },
	}

	// Threshold is 2: two failing calls trip the breaker.
	for i := 0; i < 2; i++ {
		_, err := client.Fetch(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState("market", "primary"))

	// While open the tier function must not run.
	before := len(calls)
	result, err := client.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, before, len(calls), "open breaker must reject without calling the tier")
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(100*time.Millisecond))

	var calls []string
	failing := Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{failTier("primary", &calls)},
		Mock:  func() json.RawMessage { return json.RawMessage(`{}`) },
	}

	for i := 0; i < 2; i++ {
		_, err := client.Fetch(context.Background(), failing)
		require.NoError(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, client.BreakerState("market", "primary"))

	time.Sleep(150 * time.Millisecond)

	// After the open timeout the breaker admits one probe; a success
	// closes it again.
	recovered := Request{
		Service: "market", Key: "k2", TTL: time.Minute,
		Tiers: []Tier{okTier("primary", &calls)},
	}
	result, err := client.Fetch(context.Background(), recovered)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Source)
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState("market", "primary"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	store := cache.NewMemoryStore()
	client := New(store, nil, nil, testSettings(100*time.Millisecond))

	var calls []string
	failing := Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{failTier("primary", &calls)},
		Mock:  func() json.RawMessage { return json.RawMessage(`{}`) },
	}

	for i := 0; i < 2; i++ {
		_, err := client.Fetch(context.Background(), failing)
		require.NoError(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, client.BreakerState("market", "primary"))

	time.Sleep(150 * time.Millisecond)

	probes := len(calls)
	_, err := client.Fetch(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, probes+1, len(calls), "half-open must admit exactly one probe")
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState("market", "primary"))
}

type recordingSnapshotter struct {
	services []string
}

func (r *recordingSnapshotter) SnapshotResponse(service, key string, payload json.RawMessage, fetchedAt time.Time) {
	r.services = append(r.services, service)
}

func TestFetch_SnapshotsSuccessfulPayloads(t *testing.T) {
	store := cache.NewMemoryStore()
	snap := &recordingSnapshotter{}
	client := New(store, nil, snap, testSettings(time.Minute))

	var calls []string
	_, err := client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{okTier("primary", &calls)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"market"}, snap.services)

	// Cache hits and mock fallbacks are not snapshotted.
	_, err = client.Fetch(context.Background(), Request{
		Service: "market", Key: "k", TTL: time.Minute,
		Tiers: []Tier{okTier("primary", &calls)},
	})
	require.NoError(t, err)
	assert.Len(t, snap.services, 1)
}
