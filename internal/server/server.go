package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
	"github.com/alanyoungcy/coinsignal/internal/server/handler"
	"github.com/alanyoungcy/coinsignal/internal/server/middleware"
	"github.com/alanyoungcy/coinsignal/internal/server/ws"
)

const (
	healthPath = "/api/health"
	wsPath     = "/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimitPerMinute applies per client IP when a limiter is given.
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Alerts    *handler.AlertHandler
	Signals   *handler.SignalHandler
	Prices    *handler.PriceHandler
	Status    *handler.StatusHandler
}

// Server is the REST and WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered on a ServeMux and
// the middleware chain applied. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	}

	if p := handlers.Positions; p != nil {
		mux.HandleFunc("GET /api/positions", p.ListPositions)
		mux.HandleFunc("POST /api/positions", p.CreatePosition)
		mux.HandleFunc("DELETE /api/positions", p.ClearPositions)
		mux.HandleFunc("DELETE /api/positions/{id}", p.DeletePosition)
	}

	if a := handlers.Alerts; a != nil {
		mux.HandleFunc("GET /api/alerts", a.ListAlerts)
		mux.HandleFunc("POST /api/alerts", a.CreateAlert)
		mux.HandleFunc("POST /api/alerts/{id}/read", a.MarkRead)
		mux.HandleFunc("DELETE /api/alerts", a.ClearAlerts)
	}

	if s := handlers.Signals; s != nil {
		mux.HandleFunc("GET /api/signals", s.ListSignals)
		mux.HandleFunc("POST /api/signals", s.RecordSignal)
		mux.HandleFunc("POST /api/predict", s.Predict)
	}

	if p := handlers.Prices; p != nil {
		mux.HandleFunc("GET /api/prices/{symbol}", p.GetPrice)
		mux.HandleFunc("GET /api/prices/{symbol}/history", p.GetHistory)
	}

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/stream/status", handlers.Status.GetStatus)
	}

	if wsHub != nil {
		mux.HandleFunc("GET "+wsPath, wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger, healthPath)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
