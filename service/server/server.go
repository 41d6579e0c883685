package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solhist/service/config"
	"github.com/brojonat/solhist/service/db"
	"github.com/brojonat/solhist/service/history"
	"github.com/brojonat/solhist/service/metrics"
	"github.com/brojonat/solhist/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciler runs one history reconciliation for an address.
type Reconciler interface {
	Reconcile(ctx context.Context, subject string, limit int) (*history.Report, error)
}

// Store is the persistence the handlers need.
type Store interface {
	UpsertTrackedAddress(ctx context.Context, params db.UpsertTrackedAddressParams) (*db.TrackedAddress, error)
	ListTrackedAddresses(ctx context.Context) ([]*db.TrackedAddress, error)
	DeleteTrackedAddress(ctx context.Context, address string) error
	GetSnapshot(ctx context.Context, address string) (*history.Report, error)
	Ping(ctx context.Context) error
}

// Server represents the HTTP server for the history service.
type Server struct {
	addr       string
	cfg        *config.Config
	store      Store
	scheduler  temporal.Scheduler
	reconciler Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for tracked addresses.
// The reconciler serves live history requests.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store Store, scheduler temporal.Scheduler, reconciler Reconciler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		cfg:        cfg,
		store:      store,
		scheduler:  scheduler,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

// Handler returns the server's routes wrapped in CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// History routes
	route("GET /api/v1/history/{address}", "/api/v1/history/{address}",
		handleHistory(s.reconciler, s.cfg.SolanaNetwork, s.cfg.HistoryLimit, s.logger))

	// Tracked address routes
	route("POST /api/v1/tracked", "/api/v1/tracked",
		handleTrack(s.store, s.scheduler, s.cfg, s.logger))
	route("GET /api/v1/tracked", "/api/v1/tracked",
		handleListTracked(s.store, s.logger))
	route("DELETE /api/v1/tracked/{address}", "/api/v1/tracked/{address}",
		handleUntrack(s.store, s.scheduler, s.logger))
	route("GET /api/v1/tracked/{address}/snapshot", "/api/v1/tracked/{address}/snapshot",
		handleSnapshot(s.store, s.cfg.SolanaNetwork, s.logger))

	// Health check endpoint
	route("GET /health", "/health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // live reconciliation of a large history is slow
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
