// Package server exposes the council over HTTP: conversation CRUD, a
// Server-Sent Events progress feed, performance statistics and Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redwing-381/mirmer.ai/internal/council"
	"github.com/redwing-381/mirmer.ai/internal/perf"
	"github.com/redwing-381/mirmer.ai/internal/ratelimit"
	"github.com/redwing-381/mirmer.ai/internal/store"
	"github.com/rs/cors"
)

// Service identity reported by the health endpoint.
const (
	ServiceName    = "Mirmer AI"
	ServiceVersion = "0.1.0"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-Id"

// Runner executes one council query.
type Runner interface {
	Run(ctx context.Context, query string, emit council.EmitFunc) (*council.Result, error)
}

// StatsSource reports performance statistics.
type StatsSource interface {
	Statistics() perf.Statistics
	Summary() string
}

// QuotaSource reports the limiter's per-provider state.
type QuotaSource interface {
	Snapshots() map[string]ratelimit.State
}

// Server is the HTTP transport for the council.
type Server struct {
	runner  Runner
	convs   *store.Service
	stats   StatsSource
	quota   QuotaSource
	gather  prometheus.Gatherer
	origins []string
	version string
	logger  *slog.Logger

	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStats enables GET /api/performance.
func WithStats(s StatsSource) Option {
	return func(srv *Server) { srv.stats = s }
}

// WithQuota adds rate-limit state to GET /api/performance.
func WithQuota(q QuotaSource) Option {
	return func(srv *Server) { srv.quota = q }
}

// WithGatherer enables GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(srv *Server) { srv.gather = g }
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins []string) Option {
	return func(srv *Server) { srv.origins = origins }
}

// WithVersion overrides the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(srv *Server) { srv.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// New creates a Server.
func New(runner Runner, convs *store.Service, opts ...Option) *Server {
	s := &Server{runner: runner, convs: convs, version: ServiceVersion}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /api/conversations", s.handleCreate)
	mux.HandleFunc("GET /api/conversations", s.handleList)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/conversations/{id}/message", s.handleMessage)
	mux.HandleFunc("POST /api/conversations/{id}/message/stream", s.handleMessageStream)
	if s.stats != nil {
		mux.HandleFunc("GET /api/performance", s.handlePerformance)
	}
	if s.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", UserHeader},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// Start listens on addr and serves in a background goroutine. It returns
// once the listener is bound.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
