// Package health polls upstream service endpoints and tracks their
// availability for the infrastructure dashboard.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/metrics"
)

// Target is one monitored endpoint.
type Target struct {
	Name string
	URL  string
}

// Status is the last observed state of a target.
type Status struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latency_ms"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Snapshot is the aggregated view served by the infrastructure
// endpoint.
type Snapshot struct {
	Targets      []Status  `json:"targets"`
	HealthyCount int       `json:"healthy_count"`
	TotalCount   int       `json:"total_count"`
	HealthyRatio float64   `json:"healthy_ratio"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Event is emitted when a target flips between healthy and unhealthy.
type Event struct {
	Target  string    `json:"target"`
	Healthy bool      `json:"healthy"`
	At      time.Time `json:"at"`
}

// Monitor polls targets on an interval and aggregates their status.
type Monitor struct {
	targets  []Target
	interval time.Duration
	client   *http.Client
	metrics  *metrics.Registry

	mu     sync.RWMutex
	status map[string]Status

	events chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Probes time out after probeTimeout.
func NewMonitor(targets []Target, interval, probeTimeout time.Duration, reg *metrics.Registry) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Monitor{
		targets:  targets,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		metrics:  reg,
		status:   make(map[string]Status),
		events:   make(chan Event, 64),
	}
}

// Start launches the polling loop. It probes once immediately, then on
// every tick until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.probeAll(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probeAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Events exposes the transition event stream. The channel is buffered;
// events are dropped if no one is listening.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Snapshot returns the current status table.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Targets:    make([]Status, 0, len(m.targets)),
		TotalCount: len(m.targets),
		CheckedAt:  time.Now().UTC(),
	}
	for _, t := range m.targets {
		st, ok := m.status[t.Name]
		if !ok {
			st = Status{Name: t.Name, URL: t.URL}
		}
		if st.Healthy {
			snap.HealthyCount++
		}
		snap.Targets = append(snap.Targets, st)
	}
	if snap.TotalCount > 0 {
		snap.HealthyRatio = float64(snap.HealthyCount) / float64(snap.TotalCount)
	}
	return snap
}

func (m *Monitor) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range m.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			m.probe(ctx, t)
		}(target)
	}
	wg.Wait()

	if m.metrics != nil {
		snap := m.Snapshot()
		m.metrics.HealthyRatio.Set(snap.HealthyRatio)
	}
}

func (m *Monitor) probe(ctx context.Context, t Target) {
	start := time.Now()
	healthy, errMsg := m.check(ctx, t.URL)
	latency := time.Since(start)

	m.mu.Lock()
	prev, seen := m.status[t.Name]
	m.status[t.Name] = Status{
		Name:      t.Name,
		URL:       t.URL,
		Healthy:   healthy,
		LatencyMS: latency.Milliseconds(),
		LastCheck: time.Now().UTC(),
		LastError: errMsg,
	}
	flipped := !seen || prev.Healthy != healthy
	m.mu.Unlock()

	if m.metrics != nil {
		v := 0.0
		if healthy {
			v = 1.0
		}
		m.metrics.TargetUp.WithLabelValues(t.Name).Set(v)
	}

	if flipped {
		log.Info().
			Str("target", t.Name).
			Bool("healthy", healthy).
			Dur("latency", latency).
			Msg("health target transition")

		select {
		case m.events <- Event{Target: t.Name, Healthy: healthy, At: time.Now().UTC()}:
		default:
		}
	}
}

func (m *Monitor) check(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, resp.Status
	}
	return true, ""
}
