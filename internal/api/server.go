// Package api exposes the exchange over HTTP and WebSocket.
//
// The HTTP surface is the request handler of the persistence contract:
// every mutating endpoint calls the exchange, then commits one journal
// batch with the order, trades, changed resting orders, and affected
// users before responding. The WebSocket stream fans out the engine's
// trade events to any number of subscribers without ever blocking the
// engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/internal/metrics"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.APIConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes and the WebSocket hub. The hub is registered
// as a trade subscriber on the exchange.
func NewServer(cfg config.APIConfig, ex *exchange.Exchange, jrnl *journal.Journal, m *metrics.Metrics, logger *slog.Logger) *Server {
	hub := NewHub(m, logger)
	ex.OnTrades(hub.BroadcastTrades)
	handlers := NewHandlers(ex, jrnl, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", handlers.HandlePlaceOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", handlers.HandleCancelOrder)
	mux.HandleFunc("GET /api/v1/book/{ticker}", handlers.HandleGetBook)
	mux.HandleFunc("GET /api/v1/users/{id}", handlers.HandleGetUser)
	mux.HandleFunc("POST /api/v1/users", handlers.HandleRegisterUser)
	mux.HandleFunc("GET /api/v1/tickers", handlers.HandleGetTickers)
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the WebSocket hub and serves until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
