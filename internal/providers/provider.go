// Package providers implements the upstream data provider clients
// wrapped by the gateway: CoinGecko, CoinMarketCap, DeFiLlama, Alchemy
// and OpenAI.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainpulse/chainpulse/internal/httpx"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

var (
	// ErrBudgetExceeded means the provider's daily request budget is spent.
	ErrBudgetExceeded = errors.New("daily request budget exceeded")

	// ErrRateLimited means the local token bucket rejected the request.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// StatusError is returned for non-2xx upstream responses. 4xx other
// than 429 is terminal; 429 and 5xx have already been retried by the
// client pool before this surfaces.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Code, e.Body)
}

// Budget is a UTC-day request counter with an optional cap.
type Budget struct {
	mu        sync.Mutex
	limit     int64
	used      int64
	windowDay int // day-of-year of the current window
}

// NewBudget creates a budget. A zero or negative limit disables it.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Spend consumes one request from the budget, rolling the window over
// at UTC midnight.
func (b *Budget) Spend() error {
	if b.limit <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	day := time.Now().UTC().YearDay()
	if day != b.windowDay {
		b.windowDay = day
		b.used = 0
	}
	if b.used >= b.limit {
		return fmt.Errorf("%w: %d/%d", ErrBudgetExceeded, b.used, b.limit)
	}
	b.used++
	return nil
}

// Remaining reports how much of today's budget is left, or -1 when the
// budget is unlimited.
func (b *Budget) Remaining() int64 {
	if b.limit <= 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Now().UTC().YearDay() != b.windowDay {
		return b.limit
	}
	return b.limit - b.used
}

// client is the shared plumbing embedded by every provider.
type client struct {
	name    string
	baseURL string
	pool    *httpx.Pool
	limiter *rate.Limiter
	budget  *Budget
	metrics *metrics.Registry
}

// Options configures a provider client.
type Options struct {
	BaseURL     string
	RPS         float64
	Burst       int
	DailyBudget int64
	Pool        *httpx.Pool
	Metrics     *metrics.Registry
}

func newClient(name string, opts Options) client {
	if opts.Pool == nil {
		opts.Pool = httpx.NewPool(httpx.DefaultConfig())
	}
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return client{
		name:    name,
		baseURL: opts.BaseURL,
		pool:    opts.Pool,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		budget:  NewBudget(opts.DailyBudget),
		metrics: opts.Metrics,
	}
}

// getJSON performs a rate-limited, budgeted GET and decodes the body
// into out.
func (c *client) getJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.doJSON(ctx, req, out)
}

func (c *client) doJSON(ctx context.Context, req *http.Request, out interface{}) error {
	if err := c.budget.Spend(); err != nil {
		c.record("budget_exceeded", 0)
		return err
	}
	if !c.limiter.Allow() {
		c.record("rate_limited", 0)
		return fmt.Errorf("%w: %s", ErrRateLimited, c.name)
	}

	start := time.Now()
	resp, err := c.pool.Do(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		c.record("error", elapsed)
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.record("http_error", elapsed)
		return &StatusError{Provider: c.name, Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.record("decode_error", elapsed)
		return fmt.Errorf("%s response decode: %w", c.name, err)
	}

	c.record("success", elapsed)
	return nil
}

func (c *client) record(outcome string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderRequests.WithLabelValues(c.name, outcome).Inc()
	if elapsed > 0 {
		c.metrics.ProviderLatency.WithLabelValues(c.name).Observe(elapsed.Seconds())
	}
}
