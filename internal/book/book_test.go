package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/pkg/types"
)

func order(id, user string, side types.Side, price string, qty, seq int64) *types.Order {
	return &types.Order{
		ID:               id,
		UserID:           user,
		Ticker:           "FOO",
		Side:             side,
		Price:            decimal.RequireFromString(price),
		Quantity:         qty,
		OriginalQuantity: qty,
		TIF:              types.GTC,
		CreatedAt:        seq,
		Status:           types.StatusOpen,
	}
}

func TestBestBidAndAsk(t *testing.T) {
	t.Parallel()
	b := New("FOO")

	assert.Nil(t, b.BestBid())
	assert.Nil(t, b.BestAsk())

	b.Add(order("b1", "u1", types.Buy, "99.50", 10, 1))
	b.Add(order("b2", "u1", types.Buy, "100.00", 5, 2))
	b.Add(order("a1", "u2", types.Sell, "101.00", 7, 3))
	b.Add(order("a2", "u2", types.Sell, "100.50", 3, 4))

	require.NotNil(t, b.BestBid())
	require.NotNil(t, b.BestAsk())
	assert.Equal(t, "b2", b.BestBid().ID, "highest bid wins")
	assert.Equal(t, "a2", b.BestAsk().ID, "lowest ask wins")
}

func TestFIFOAtEqualPrice(t *testing.T) {
	t.Parallel()
	b := New("FOO")

	b.Add(order("first", "u1", types.Buy, "100.00", 10, 1))
	b.Add(order("second", "u2", types.Buy, "100.00", 10, 2))
	b.Add(order("third", "u3", types.Buy, "100.00", 10, 3))

	var got []string
	b.Iterate(types.Buy, func(o *types.Order) bool {
		got = append(got, o.ID)
		return true
	})
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestIteratePriceThenTime(t *testing.T) {
	t.Parallel()
	b := New("FOO")

	b.Add(order("a", "u1", types.Sell, "101.00", 1, 1))
	b.Add(order("b", "u1", types.Sell, "100.00", 1, 2))
	b.Add(order("c", "u1", types.Sell, "100.00", 1, 3))
	b.Add(order("d", "u1", types.Sell, "102.00", 1, 4))

	var got []string
	b.Iterate(types.Sell, func(o *types.Order) bool {
		got = append(got, o.ID)
		return true
	})
	assert.Equal(t, []string{"b", "c", "a", "d"}, got)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	b.Add(order("b1", "u1", types.Buy, "100.00", 10, 1))

	removed, ok := b.Remove("b1")
	require.True(t, ok)
	assert.Equal(t, "b1", removed.ID)
	assert.Nil(t, b.BestBid())

	removed, ok = b.Remove("b1")
	assert.False(t, ok)
	assert.Nil(t, removed)

	_, ok = b.Remove("never-existed")
	assert.False(t, ok)
}

func TestRemoveMiddleOfLevel(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	b.Add(order("a", "u1", types.Buy, "100.00", 1, 1))
	b.Add(order("b", "u2", types.Buy, "100.00", 1, 2))
	b.Add(order("c", "u3", types.Buy, "100.00", 1, 3))

	_, ok := b.Remove("b")
	require.True(t, ok)

	var got []string
	b.Iterate(types.Buy, func(o *types.Order) bool {
		got = append(got, o.ID)
		return true
	})
	assert.Equal(t, []string{"a", "c"}, got, "FIFO of the survivors is preserved")
}

func TestDepthAggregatesLevels(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	b.Add(order("b1", "u1", types.Buy, "100.00", 10, 1))
	b.Add(order("b2", "u2", types.Buy, "100.00", 5, 2))
	b.Add(order("b3", "u3", types.Buy, "99.00", 7, 3))
	b.Add(order("a1", "u4", types.Sell, "101.00", 4, 4))

	snap := b.Depth(0)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)

	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(15), snap.Bids[0].Quantity)
	assert.True(t, snap.Bids[1].Price.Equal(decimal.RequireFromString("99.00")))
	assert.Equal(t, int64(7), snap.Bids[1].Quantity)
	assert.Equal(t, int64(4), snap.Asks[0].Quantity)
}

func TestDepthLimit(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	b.Add(order("b1", "u1", types.Buy, "100.00", 1, 1))
	b.Add(order("b2", "u1", types.Buy, "99.00", 1, 2))
	b.Add(order("b3", "u1", types.Buy, "98.00", 1, 3))

	snap := b.Depth(2)
	assert.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.GreaterThan(snap.Bids[1].Price))
}

func TestUserOrderIDs(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	b.Add(order("b1", "mm", types.Buy, "99.00", 1, 1))
	b.Add(order("b2", "u1", types.Buy, "100.00", 1, 2))
	b.Add(order("a1", "mm", types.Sell, "101.00", 1, 3))

	ids := b.UserOrderIDs("mm")
	assert.ElementsMatch(t, []string{"b1", "a1"}, ids)
	assert.Empty(t, b.UserOrderIDs("nobody"))
}

func TestDuplicateAddIgnored(t *testing.T) {
	t.Parallel()
	b := New("FOO")
	o := order("b1", "u1", types.Buy, "100.00", 10, 1)
	b.Add(o)
	b.Add(o)
	assert.Equal(t, 1, b.Len())
}
