// Package bot runs the liquidity bot: a background task that keeps a
// two-sided market alive on every configured ticker.
//
// Per tick (every Interval):
//  1. Pull all of the market maker's resting quotes on the ticker.
//  2. Look up the last trade price p (the configured initial price until
//     the first trade).
//  3. Post a buy at round(p*(1-s), 2) and a sell at round(p*(1+s), 2),
//     each with a random quantity in [MinQuantity, MaxQuantity], both GTC.
//
// The bot places quotes through the same PlaceOrder call as any client,
// pulls them with the exchange's bulk CancelMarketOrders, and commits its
// activity to the journal on the same contract. Because the market-maker principal bypasses escrow, the bot
// can never be starved of cash or inventory.
package bot

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/pkg/types"
)

// Bot posts and refreshes the market maker's quotes.
type Bot struct {
	cfg     config.BotConfig
	userID  string
	ex      *exchange.Exchange
	jrnl    *journal.Journal
	tickers []string
	rng     *rand.Rand
	logger  *slog.Logger
}

// New creates a bot quoting every ticker the exchange is configured with.
func New(cfg config.BotConfig, mm config.MarketMakerConfig, ex *exchange.Exchange, jrnl *journal.Journal, logger *slog.Logger) *Bot {
	tickers := make([]string, 0)
	for ticker := range ex.Tickers() {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return &Bot{
		cfg:     cfg,
		userID:  mm.UserID,
		ex:      ex,
		jrnl:    jrnl,
		tickers: tickers,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger.With("component", "liquidity-bot"),
	}
}

// Run quotes on a fixed cadence until ctx is cancelled, then pulls all
// remaining quotes.
func (b *Bot) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	b.logger.Info("liquidity bot started",
		"interval", b.cfg.Interval,
		"spread", b.cfg.Spread,
		"tickers", len(b.tickers),
	)

	for {
		select {
		case <-ctx.Done():
			for _, t := range b.tickers {
				b.pullQuotes(t)
			}
			b.logger.Info("liquidity bot stopped")
			return
		case <-ticker.C:
			for _, t := range b.tickers {
				b.requote(t)
			}
		}
	}
}

// requote replaces the market maker's quotes on one ticker.
func (b *Bot) requote(ticker string) {
	b.pullQuotes(ticker)

	last, _, err := b.ex.LastPrice(ticker)
	if err != nil {
		b.logger.Error("last price lookup failed", "ticker", ticker, "error", err)
		return
	}

	spread := decimal.NewFromFloat(b.cfg.Spread)
	bid := last.Mul(decimal.NewFromInt(1).Sub(spread)).Round(2)
	ask := last.Mul(decimal.NewFromInt(1).Add(spread)).Round(2)
	if !bid.IsPositive() {
		// A tiny last price times (1-s) can round to zero; skip the bid
		// rather than submit an invalid order.
		b.logger.Warn("bid rounds to zero, skipping", "ticker", ticker, "last", last)
	} else {
		b.place(ticker, types.Buy, bid)
	}
	b.place(ticker, types.Sell, ask)
}

func (b *Bot) place(ticker string, side types.Side, price decimal.Decimal) {
	qty := b.cfg.MinQuantity
	if spread := b.cfg.MaxQuantity - b.cfg.MinQuantity; spread > 0 {
		qty += b.rng.Int63n(spread + 1)
	}

	res, err := b.ex.PlaceOrder(exchange.OrderRequest{
		UserID:   b.userID,
		Ticker:   ticker,
		Side:     side,
		Price:    price,
		Quantity: qty,
		TIF:      types.GTC,
	})
	if err != nil {
		b.logger.Error("quote placement failed",
			"ticker", ticker, "side", side, "price", price, "error", err)
		return
	}
	if err := b.jrnl.Commit(journal.PlaceBatch(res.Order, res.Trades, res.RestingChanged, res.Users)); err != nil {
		b.logger.Error("quote journal commit failed", "ticker", ticker, "error", err)
	}
	b.logger.Debug("quote placed",
		"ticker", ticker, "side", side, "price", price, "quantity", qty,
		"trades", len(res.Trades),
	)
}

// pullQuotes cancels every resting market-maker order on ticker and
// journals the cancellations.
func (b *Bot) pullQuotes(ticker string) {
	cancelled, user, err := b.ex.CancelMarketOrders(ticker, b.userID)
	if err != nil {
		b.logger.Error("quote pull failed", "ticker", ticker, "error", err)
		return
	}
	for _, order := range cancelled {
		if err := b.jrnl.Commit(journal.CancelBatch(order, user)); err != nil {
			b.logger.Error("cancel journal commit failed", "ticker", ticker, "error", err)
		}
	}
}
