package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/server/handler"
	"github.com/knowton/bondledger/internal/server/middleware"
	"github.com/knowton/bondledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     map[string]string // API key -> caller address; empty disables auth
	RateLimit   int               // requests per window per client, 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Bonds  *handler.BondHandler
	Status *handler.StatusHandler
}

// Server is the HTTP + WebSocket API of the bond ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Operational status and pause controls.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/admin/pause", handlers.Status.Pause)
	mux.HandleFunc("POST /api/admin/resume", handlers.Status.Resume)

	// Bond lifecycle.
	mux.HandleFunc("POST /api/bonds", handlers.Bonds.IssueBond)
	mux.HandleFunc("POST /api/bonds/{id}/invest", handlers.Bonds.Invest)
	mux.HandleFunc("POST /api/bonds/{id}/revenue", handlers.Bonds.DistributeRevenue)
	mux.HandleFunc("POST /api/bonds/{id}/mature", handlers.Bonds.MarkMatured)
	mux.HandleFunc("POST /api/bonds/{id}/default", handlers.Bonds.MarkDefaulted)
	mux.HandleFunc("POST /api/bonds/{id}/redeem", handlers.Bonds.Redeem)

	// Bond queries.
	mux.HandleFunc("GET /api/bonds", handlers.Bonds.ListBonds)
	mux.HandleFunc("GET /api/bonds/{id}", handlers.Bonds.GetBond)
	mux.HandleFunc("GET /api/bonds/{id}/tranches/{tranche}", handlers.Bonds.GetTranche)
	mux.HandleFunc("GET /api/bonds/{id}/investments", handlers.Bonds.ListInvestments)
	mux.HandleFunc("GET /api/bonds/{id}/events", handlers.Bonds.ListEvents)
	mux.HandleFunc("GET /api/bonds/{id}/yield", handlers.Bonds.CurrentYield)
	mux.HandleFunc("GET /api/investors/{address}/investments", handlers.Bonds.ListInvestorPositions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
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
