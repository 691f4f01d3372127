// Toy Exchange: a minimal centralized trading venue with a central
// limit order book per instrument.
//
// Architecture:
//
//	main.go              - entry point: loads config, opens store, seeds users, serves HTTP
//	engine/              - order lifecycle + price-time matching + per-fill settlement
//	ledger/              - balance mutations with the non-negativity invariant
//	book/                - L2 depth, trade history, market-order liquidity walk
//	store/               - SQLite persistence (sqlx), transactions, resting-order scans
//	api/                 - HTTP surface, auth, error envelope, WebSocket trade feed
//	config/              - viper YAML config with EXCHANGE_* env overrides
//
// How an order flows:
//
//	A submission reserves its full cost up front (quote currency for
//	buys, base asset for sells), is persisted NEW, and immediately walks
//	the opposing side of the book in price-time priority. Each fill
//	trades at the resting order's price, appends one trade row, and
//	settles both parties through the ledger, all in one transaction
//	serialized per instrument.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"toy-exchange/internal/api"
	"toy-exchange/internal/config"
	"toy-exchange/internal/engine"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EXCHANGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Database.Path)
		os.Exit(1)
	}
	defer st.Close()

	if err := seedUsers(st, cfg.Seed, logger); err != nil {
		logger.Error("failed to seed users", "error", err)
		os.Exit(1)
	}

	eng := engine.New(st, logger)
	server := api.NewServer(cfg.Server, st, eng, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("toy exchange started", "port", cfg.Server.Port, "database", cfg.Database.Path)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
}

// seedUsers creates the configured bootstrap accounts if they do not
// exist yet, matched by name.
func seedUsers(st *store.Store, seed config.SeedConfig, logger *slog.Logger) error {
	ctx := context.Background()
	for _, u := range seed.Users {
		if _, err := st.UserByName(ctx, u.Name); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		user := store.User{
			ID:     uuid.NewString(),
			Name:   u.Name,
			Role:   types.UserRole(u.Role),
			APIKey: u.APIKey,
		}
		if err := st.CreateUser(ctx, user); err != nil {
			return err
		}
		logger.Info("seeded user", "name", u.Name, "role", u.Role)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
