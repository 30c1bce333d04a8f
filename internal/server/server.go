// Package server assembles the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/server/handler"
	"github.com/alanyoungcy/djinnmarket/internal/server/middleware"
	"github.com/alanyoungcy/djinnmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards mutating endpoints; empty disables authentication.
	APIKey string
	// AdminKey guards market resolution and the audit trail; empty disables
	// both entirely.
	AdminKey      string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RequestLimit  int
	RequestWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Trades  *handler.TradeHandler
	// Audit is optional.
	Audit *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter may be nil, in which case requests are not rate limited.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the complete handler: the route table behind auth, rate
// limiting, request logging and CORS.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/curve", handlers.Markets.GetCurve)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/freeze", middleware.RequireKey(cfg.AdminKey, handlers.Markets.FreezeMarket))

	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListWalletTrades)
	mux.HandleFunc("GET /api/positions", handlers.Trades.ListPositions)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", middleware.RequireKey(cfg.AdminKey, handlers.Audit.ListAudit))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RequestLimit, cfg.RequestWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
