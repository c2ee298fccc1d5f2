// Package app wires the exchange daemon together and owns its lifecycle.
//
//  1. Open the journal and materialize persisted users.
//  2. Build the exchange and register the market-maker principal.
//  3. Start the API server (which subscribes the WebSocket hub to trade
//     events) and the liquidity bot.
//  4. On shutdown: stop the bot (it pulls its quotes), stop the API,
//     close the exchange dispatcher, close the journal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"marketsim/internal/api"
	"marketsim/internal/bot"
	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/internal/metrics"
	"marketsim/pkg/types"
)

// App is the assembled daemon.
type App struct {
	cfg    *config.Config
	jrnl   *journal.Journal
	ex     *exchange.Exchange
	bot    *bot.Bot
	server *api.Server
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component from config.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	jrnl, err := journal.Open(cfg.Journal.DataDir, cfg.Journal.SyncEveryCommit)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	ex := exchange.New(exchange.Config{
		Tickers:    cfg.TickerPrices(),
		DefaultTIF: cfg.DefaultTimeInForce(),
	}, m, logger)

	ex.LoadUsers(jrnl.Users())

	a := &App{
		cfg:    cfg,
		jrnl:   jrnl,
		ex:     ex,
		server: api.NewServer(cfg.API, ex, jrnl, m, logger),
		logger: logger.With("component", "app"),
	}

	if cfg.Bot.Enabled {
		if err := a.ensureMarketMaker(); err != nil {
			jrnl.Close()
			return nil, err
		}
		a.bot = bot.New(cfg.Bot, cfg.MarketMaker, ex, jrnl, logger)
	}
	return a, nil
}

// ensureMarketMaker registers the bot's principal unless a previous run
// already persisted it.
func (a *App) ensureMarketMaker() error {
	mm := a.cfg.MarketMaker
	if _, err := a.ex.GetUser(mm.UserID); err == nil {
		return nil
	}
	user := &types.User{
		ID:            mm.UserID,
		Username:      mm.Username,
		IsMarketMaker: true,
	}
	if err := a.ex.RegisterUser(user); err != nil {
		return fmt.Errorf("register market maker: %w", err)
	}
	snapshot, err := a.ex.GetUser(mm.UserID)
	if err != nil {
		return fmt.Errorf("register market maker: %w", err)
	}
	return a.jrnl.Commit(journal.RegisterBatch(snapshot))
}

// Start launches the API server and the liquidity bot.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Start(); err != nil {
			a.logger.Error("api server failed", "error", err)
		}
	}()

	if a.bot != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.bot.Run(ctx)
		}()
	}

	a.logger.Info("exchange started",
		"tickers", len(a.cfg.Tickers),
		"port", a.cfg.API.Port,
		"bot", a.cfg.Bot.Enabled,
	)
}

// Stop shuts everything down in dependency order.
func (a *App) Stop() {
	a.cancel()
	if err := a.server.Stop(); err != nil {
		a.logger.Error("api server shutdown failed", "error", err)
	}
	a.wg.Wait()
	a.ex.Close()
	if err := a.jrnl.Close(); err != nil {
		a.logger.Error("journal close failed", "error", err)
	}
	a.logger.Info("exchange stopped")
}
