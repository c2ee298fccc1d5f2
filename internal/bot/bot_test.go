package bot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/internal/metrics"
	"marketsim/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestBot(t *testing.T) (*Bot, *exchange.Exchange) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ex := exchange.New(exchange.Config{
		Tickers: map[string]decimal.Decimal{"FOO": d("100.00")},
	}, metrics.New(prometheus.NewRegistry()), logger)
	t.Cleanup(ex.Close)

	require.NoError(t, ex.RegisterUser(&types.User{
		ID:            "mm",
		Username:      "liquidity-bot",
		IsMarketMaker: true,
	}))

	jrnl, err := journal.Open(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })

	cfg := config.BotConfig{
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		Spread:      0.02,
		MinQuantity: 5,
		MaxQuantity: 25,
	}
	mm := config.MarketMakerConfig{UserID: "mm", Username: "liquidity-bot"}
	return New(cfg, mm, ex, jrnl, logger), ex
}

func TestRequotePostsTwoSidedMarket(t *testing.T) {
	t.Parallel()
	b, ex := newTestBot(t)

	b.requote("FOO")

	snap, err := ex.GetBook("FOO", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)

	assert.True(t, snap.Bids[0].Price.Equal(d("98.00")), "bid at p*(1-s): got %s", snap.Bids[0].Price)
	assert.True(t, snap.Asks[0].Price.Equal(d("102.00")), "ask at p*(1+s): got %s", snap.Asks[0].Price)

	for _, lvl := range []types.PriceLevel{snap.Bids[0], snap.Asks[0]} {
		assert.GreaterOrEqual(t, lvl.Quantity, int64(5))
		assert.LessOrEqual(t, lvl.Quantity, int64(25))
	}
}

func TestRequoteReplacesStaleQuotes(t *testing.T) {
	t.Parallel()
	b, ex := newTestBot(t)

	b.requote("FOO")
	b.requote("FOO")
	b.requote("FOO")

	snap, err := ex.GetBook("FOO", 0)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 1, "stale quotes are pulled, not stacked")
	assert.Len(t, snap.Asks, 1)
}

func TestRequoteRecentersOnLastTrade(t *testing.T) {
	t.Parallel()
	b, ex := newTestBot(t)

	require.NoError(t, ex.SetLastPrice("FOO", d("50.00")))
	b.requote("FOO")

	snap, err := ex.GetBook("FOO", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(d("49.00")))
	assert.True(t, snap.Asks[0].Price.Equal(d("51.00")))
}

func TestRunPullsQuotesOnShutdown(t *testing.T) {
	t.Parallel()
	b, ex := newTestBot(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	// Let at least one quoting tick happen.
	require.Eventually(t, func() bool {
		snap, err := ex.GetBook("FOO", 0)
		return err == nil && len(snap.Bids) > 0 && len(snap.Asks) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	snap, err := ex.GetBook("FOO", 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids, "quotes pulled on shutdown")
	assert.Empty(t, snap.Asks)
}
