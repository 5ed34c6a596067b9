// Package httpx is the shared outbound HTTP client used by every
// provider: bounded concurrency, per-attempt timeout, and retry with
// exponential backoff on transient failures.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes a client pool.
type Config struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// DefaultConfig is suitable for free-tier upstreams.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Second,
		BackoffMax:     30 * time.Second,
		UserAgent:      "ChainPulse/1.0",
	}
}

// Pool wraps http.Client with a concurrency semaphore and retries.
type Pool struct {
	config    Config
	semaphore chan struct{}
	client    *http.Client
	stats     Stats
}

// Stats counts pool activity. Fields are updated atomically.
type Stats struct {
	Total   int64
	Success int64
	Failed  int64
	Retried int64
}

// NewPool creates a client pool.
func NewPool(config Config) *Pool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Pool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Do executes the request, retrying on transient network errors, 429
// and 5xx responses. Non-429 4xx responses are returned as-is: the
// caller decides, but they are never retried.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	atomic.AddInt64(&p.stats.Total, 1)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&p.stats.Retried, 1)
			backoff := p.backoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("retrying upstream request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if isRetryableError(err) && ctx.Err() == nil {
				continue
			}
			break
		}

		if isRetryableStatus(resp.StatusCode) && attempt < p.config.MaxRetries {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			if retryAfter > 0 {
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			continue
		}

		atomic.AddInt64(&p.stats.Success, 1)
		return resp, nil
	}

	atomic.AddInt64(&p.stats.Failed, 1)
	return nil, lastErr
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Total:   atomic.LoadInt64(&p.stats.Total),
		Success: atomic.LoadInt64(&p.stats.Success),
		Failed:  atomic.LoadInt64(&p.stats.Failed),
		Retried: atomic.LoadInt64(&p.stats.Retried),
	}
}

func (p *Pool) backoff(attempt int) time.Duration {
	backoff := p.config.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.config.BackoffMax {
			backoff = p.config.BackoffMax
			break
		}
	}
	// Up to 25% jitter against thundering herds.
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}

func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
