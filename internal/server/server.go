// Package server exposes the control API, the event WebSocket and the
// Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/middleware"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the endpoint handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Bot     *handler.BotHandler
	Risk    *handler.RiskHandler
	Ledger  *handler.LedgerHandler
	Quotes  *handler.QuotesHandler
	Events  *handler.EventsHandler // optional
	Metrics http.Handler           // optional
}

// Server is the headless HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. hub and
// limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.HealthCheck)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.HandleFunc("GET /api/status", h.Bot.GetStatus)
	mux.HandleFunc("POST /api/bot/{action}", h.Bot.Action)

	mux.HandleFunc("GET /api/risk", h.Risk.GetState)
	mux.HandleFunc("POST /api/risk/halt", h.Risk.Halt)
	mux.HandleFunc("POST /api/risk/reset", h.Risk.Reset)

	mux.HandleFunc("GET /api/ledger/summary", h.Ledger.Summary)
	mux.HandleFunc("GET /api/ledger/attempts", h.Ledger.Attempts)
	mux.HandleFunc("GET /api/ledger/attempts/{id}", h.Ledger.Attempt)

	mux.HandleFunc("GET /api/quotes/{pair}", h.Quotes.Get)
	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.Recent)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Outermost first: CORS, logging, rate limit, auth.
	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/health", "/metrics")(root)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		root = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(root)
	}
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
