// Package api is the HTTP surface of the venue: public market data,
// participant order flow, admin operations, and a WebSocket feed of
// executed trades.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"toy-exchange/internal/config"
	"toy-exchange/internal/engine"
	"toy-exchange/internal/store"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires routes to handlers and registers the trade hub as the
// engine's post-commit publisher.
func NewServer(cfg config.ServerConfig, st *store.Store, eng *engine.Engine, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	eng.SetTradeSink(hub)

	var limiter *RateLimiter
	if cfg.OrderRateBurst > 0 {
		limiter = NewRateLimiter(cfg.OrderRateBurst, cfg.OrderRatePerSec)
	}
	handlers := NewHandlers(st, eng, hub, limiter, logger)

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("POST /api/v1/public/register", handlers.HandleRegister)
	mux.HandleFunc("GET /api/v1/public/instrument", handlers.HandleListInstruments)
	mux.HandleFunc("GET /api/v1/public/orderbook/{ticker}", handlers.HandleOrderbook)
	mux.HandleFunc("GET /api/v1/public/transactions/{ticker}", handlers.HandleTransactions)
	mux.HandleFunc("GET /api/v1/public/ws/trades/{ticker}", handlers.HandleTradeStream)

	// Participant
	mux.HandleFunc("GET /api/v1/balance", handlers.HandleBalance)
	mux.HandleFunc("POST /api/v1/order", handlers.HandleCreateOrder)
	mux.HandleFunc("GET /api/v1/order", handlers.HandleListOrders)
	mux.HandleFunc("GET /api/v1/order/{order_id}", handlers.HandleGetOrder)
	mux.HandleFunc("DELETE /api/v1/order/{order_id}", handlers.HandleCancelOrder)

	// Admin
	mux.HandleFunc("DELETE /api/v1/admin/user/{user_id}", handlers.HandleDeleteUser)
	mux.HandleFunc("POST /api/v1/admin/instrument", handlers.HandleAddInstrument)
	mux.HandleFunc("DELETE /api/v1/admin/instrument/{ticker}", handlers.HandleDeleteInstrument)
	mux.HandleFunc("POST /api/v1/admin/balance/deposit", handlers.HandleDeposit)
	mux.HandleFunc("POST /api/v1/admin/balance/withdraw", handlers.HandleWithdraw)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Handler exposes the routed mux (tests drive it via httptest).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the trade hub and serves until Stop or a listener error.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")
	return s.server.Shutdown(ctx)
}
