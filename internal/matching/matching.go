// Package matching walks the contra side of a book for an incoming order
// and produces fills in price-time priority.
//
// The matcher is stateless and never touches cash or holdings; settlement
// is the exchange's job. It mutates order quantities in place, so callers
// that need the submitted quantity must read OriginalQuantity.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketsim/internal/book"
	"marketsim/pkg/types"
)

// crosses reports whether a limit price on the given side allows a fill
// against the resting price.
func crosses(side types.Side, limit, restingPrice decimal.Decimal) bool {
	if side == types.Buy {
		return limit.GreaterThanOrEqual(restingPrice)
	}
	return limit.LessThanOrEqual(restingPrice)
}

// Match executes incoming against b's contra side until the order is
// exhausted or the book no longer crosses. Every fill happens at the
// resting order's price. Fully-consumed resting orders are removed from
// the book and marked FILLED; partially-consumed ones are marked PARTIAL
// in place.
//
// If quantity remains and addRemainder is true the incoming order is
// inserted on its own side and marked OPEN or PARTIAL; otherwise its
// status is left to the caller (IOC/FOK disposal).
//
// The produced trades are returned in fill order.
func Match(b *book.Book, incoming *types.Order, addRemainder bool) []types.Trade {
	trades := make([]types.Trade, 0)

	for incoming.Quantity > 0 {
		resting := b.Best(incoming.Side.Opposite())
		if resting == nil || !crosses(incoming.Side, incoming.Price, resting.Price) {
			break
		}

		fillQty := min(incoming.Quantity, resting.Quantity)
		incoming.Quantity -= fillQty
		resting.Quantity -= fillQty
		trades = append(trades, newTrade(incoming, resting, fillQty))

		if resting.Quantity == 0 {
			resting.Status = types.StatusFilled
			b.Remove(resting.ID)
		} else {
			resting.Status = types.StatusPartial
		}
	}

	if incoming.Quantity == 0 {
		incoming.Status = types.StatusFilled
	} else if addRemainder {
		if incoming.Quantity == incoming.OriginalQuantity {
			incoming.Status = types.StatusOpen
		} else {
			incoming.Status = types.StatusPartial
		}
		b.Add(incoming)
	}

	return trades
}

// newTrade builds a trade at the resting order's price, resolving buyer
// and seller from the two sides.
func newTrade(incoming, resting *types.Order, qty int64) types.Trade {
	buy, sell := incoming, resting
	if incoming.Side == types.Sell {
		buy, sell = resting, incoming
	}
	return types.Trade{
		ID:          uuid.New().String(),
		Ticker:      incoming.Ticker,
		Price:       resting.Price,
		Quantity:    qty,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		CreatedAt:   time.Now().UnixNano(),
	}
}

// FillableQuantity walks the contra side without mutating anything and
// returns how much of need could fill at prices satisfying the limit on
// the given side. The walk stops early once need is reachable. Used for
// the FOK pre-check.
func FillableQuantity(b *book.Book, side types.Side, limit decimal.Decimal, need int64) int64 {
	var available int64
	b.Iterate(side.Opposite(), func(o *types.Order) bool {
		if !crosses(side, limit, o.Price) {
			return false
		}
		available += o.Quantity
		return available < need
	})
	if available > need {
		return need
	}
	return available
}
