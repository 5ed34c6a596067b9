// Package metrics holds the Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry bundles every gateway metric and owns its Prometheus
// registry so tests can gather in isolation.
type Registry struct {
	reg *prometheus.Registry

	// HTTP surface
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	// Cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Upstream providers
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	// Health monitor
	TargetUp     *prometheus.GaugeVec
	HealthyRatio prometheus.Gauge

	// Websocket stream
	StreamClients prometheus.Gauge
}

// NewRegistry creates and registers all gateway metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainpulse_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "status"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_requests_total",
				Help: "Total API requests by route and status",
			},
			[]string{"route", "status"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_cache_hits_total",
				Help: "Cache hits by service",
			},
			[]string{"service"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_cache_misses_total",
				Help: "Cache misses by service",
			},
			[]string{"service"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_provider_requests_total",
				Help: "Upstream provider requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainpulse_provider_latency_seconds",
				Help:    "Upstream provider request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainpulse_breaker_state",
				Help: "Circuit breaker state per tier (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service", "tier"},
		),

		TargetUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainpulse_target_up",
				Help: "Health monitor target status (1=up, 0=down)",
			},
			[]string{"target"},
		),
		HealthyRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainpulse_healthy_ratio",
				Help: "Fraction of monitored targets currently healthy",
			},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainpulse_stream_clients",
				Help: "Connected websocket stream clients",
			},
		),
	}

	r.reg.MustRegister(
		r.RequestDuration,
		r.RequestsTotal,
		r.CacheHits,
		r.CacheMisses,
		r.ProviderRequests,
		r.ProviderLatency,
		r.BreakerState,
		r.TargetUp,
		r.HealthyRatio,
		r.StreamClients,
	)

	log.Debug().Msg("metrics registry initialized")
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler
// and for test gathering.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
