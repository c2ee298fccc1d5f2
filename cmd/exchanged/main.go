// marketsim exchanged: a simulated continuous double-auction stock
// exchange for human clients and trading agents.
//
// Architecture:
//
//	main.go              - entry point: loads config, starts the app, waits for SIGINT/SIGTERM
//	app/app.go           - orchestrator: wires journal, exchange, bot, and api; manages shutdown
//	exchange/exchange.go - settlement authority: escrow, matching, per-ticker serialization
//	matching/matching.go - price-time priority walk over the contra book
//	book/book.go         - red-black tree price levels, FIFO within a level
//	bot/bot.go           - liquidity bot: two-sided quotes around the last trade price
//	journal/journal.go   - append-only audit log, one committed batch per request
//	api/                 - HTTP handlers + WebSocket trade stream + Prometheus metrics
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketsim/internal/app"
	"marketsim/internal/config"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MKT_CONFIG"); p != "" {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	a.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	a.Stop()
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
