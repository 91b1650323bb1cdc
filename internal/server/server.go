// Package server exposes the read-only status API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/server/handler"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Server is the status API server. It implements the engine's Runner
// contract so the engine supervises its lifecycle alongside the trading
// loops.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all status routes registered.
func New(cfg Config, status *handler.StatusHandler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", status.Health)
	mux.HandleFunc("GET /api/status", status.Account)
	mux.HandleFunc("GET /api/positions", status.Positions)
	mux.HandleFunc("GET /api/strategies", status.Strategies)
	mux.HandleFunc("GET /api/trades", status.Trades)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "status_server")),
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("status server stopped")
	return ctx.Err()
}
