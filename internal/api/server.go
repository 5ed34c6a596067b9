// Package api exposes the gateway's HTTP surface: the dashboard proxy
// endpoints under /api/v2/blockchain, the websocket quote stream, and
// the health and metrics endpoints.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/metrics"
)

// Server is the gateway HTTP server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	metrics  *metrics.Registry
	config   ServerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer wires the router, middleware, and routes.
func NewServer(config ServerConfig, handlers *Handlers, reg *metrics.Registry) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		metrics:  reg,
		config:   config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(
		s.metrics.Prometheus(), promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v2/blockchain").Subrouter()

	api.HandleFunc("/market/prices", s.handlers.MarketPrices).Methods("GET")
	api.HandleFunc("/market/global", s.handlers.MarketGlobal).Methods("GET")
	api.HandleFunc("/market/listings", s.handlers.MarketListings).Methods("GET")
	api.HandleFunc("/market/quote/{symbol}", s.handlers.MarketQuote).Methods("GET")
	api.HandleFunc("/market/history/{symbol}", s.handlers.MarketHistory).Methods("GET")
	api.HandleFunc("/market/stream", s.handlers.MarketStream).Methods("GET")

	api.HandleFunc("/defi/protocols", s.handlers.DefiProtocols).Methods("GET")
	api.HandleFunc("/defi/tvl/{protocol}", s.handlers.DefiTVL).Methods("GET")
	api.HandleFunc("/defi/chains/{chain}/tvl", s.handlers.DefiChainTVL).Methods("GET")

	api.HandleFunc("/nft/collections", s.handlers.NFTCollections).Methods("GET")
	api.HandleFunc("/gamefi/projects", s.handlers.GameFiProjects).Methods("GET")
	api.HandleFunc("/dao/projects", s.handlers.DAOProjects).Methods("GET")

	api.HandleFunc("/portfolio/{address}", s.handlers.Portfolio).Methods("GET")
	api.HandleFunc("/ai/insights", s.handlers.AIInsights).Methods("POST")

	api.HandleFunc("/infrastructure/health", s.handlers.InfraHealth).Methods("GET")

	s.router.NotFoundHandler = s.corsMiddleware(http.HandlerFunc(s.handlers.NotFound))
	// Preflight requests miss the route middleware on a method mismatch,
	// so CORS wraps this handler too.
	s.router.MethodNotAllowedHandler = s.corsMiddleware(http.HandlerFunc(s.handlers.MethodNotAllowed))
}

// Router exposes the mux router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

type ctxKey int

const requestIDKey ctxKey = 0

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// corsMiddleware is intentionally wide open: the dashboard is served
// from arbitrary origins (local dev, preview deploys, production).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		status := strconv.Itoa(wrapper.status)
		s.metrics.RequestDuration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
		s.metrics.RequestsTotal.WithLabelValues(route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade works behind the
// logging and metrics middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
