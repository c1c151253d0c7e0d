// Package server exposes position records over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/server/handler"
	"github.com/alanyoungcy/positionview/internal/server/middleware"
	"github.com/alanyoungcy/positionview/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RefetchLimit requests per RefetchWindow and client IP are allowed on
	// the refetch route. Zero disables limiting.
	RefetchLimit  int
	RefetchWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Positions    *handler.PositionHandler
	History      *handler.HistoryHandler
	Capabilities *handler.CapabilityHandler
}

// Options are the optional collaborators of the server.
type Options struct {
	Hub      *ws.Hub
	Metrics  http.Handler
	Observer middleware.RequestObserver
	Limiter  domain.RateLimiter
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux with CORS, logging and
// auth middleware.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, opts, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler chain.
func Routes(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	mux.HandleFunc("GET /api/positions", handlers.Positions.GetPositions)
	refetch := middleware.RateLimit(opts.Limiter, "refetch", cfg.RefetchLimit, cfg.RefetchWindow, logger)
	mux.Handle("POST /api/positions/refetch", refetch(http.HandlerFunc(handlers.Positions.Refetch)))

	if handlers.History != nil {
		mux.HandleFunc("GET /api/history", handlers.History.ListHistory)
	}
	if handlers.Capabilities != nil {
		mux.HandleFunc("GET /api/capabilities", handlers.Capabilities.GetCapabilities)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, opts.Observer)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
