// Package book maintains the resting orders for a single ticker in
// price-time priority.
//
// Each side is a red-black tree of price levels: bids sorted descending,
// asks ascending. A level is a FIFO slice of orders, appended on arrival,
// so time priority at equal price falls out of insertion order. An id map
// gives O(1) lookup for cancels.
//
// The book itself is not goroutine-safe; the exchange serializes all
// access through the ticker lock.
package book

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"marketsim/pkg/types"
)

// level is the FIFO queue of orders resting at one price.
type level struct {
	price  decimal.Decimal
	orders []*types.Order
}

func (l *level) totalQuantity() int64 {
	var sum int64
	for _, o := range l.orders {
		sum += o.Quantity
	}
	return sum
}

// Book holds the two sides of one ticker's order book.
type Book struct {
	ticker string
	bids   *redblacktree.Tree // decimal price -> *level, best (highest) first
	asks   *redblacktree.Tree // decimal price -> *level, best (lowest) first
	orders map[string]*types.Order
}

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func reverseDecimalComparator(a, b interface{}) int {
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

// New creates an empty book for ticker.
func New(ticker string) *Book {
	return &Book{
		ticker: ticker,
		bids:   redblacktree.NewWith(reverseDecimalComparator),
		asks:   redblacktree.NewWith(decimalComparator),
		orders: make(map[string]*types.Order),
	}
}

// Ticker returns the symbol this book belongs to.
func (b *Book) Ticker() string {
	return b.ticker
}

// Len returns the number of resting orders across both sides.
func (b *Book) Len() int {
	return len(b.orders)
}

func (b *Book) side(s types.Side) *redblacktree.Tree {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// Add inserts order at the back of its price level, creating the level if
// needed. Orders already present are ignored.
func (b *Book) Add(order *types.Order) {
	if _, exists := b.orders[order.ID]; exists {
		return
	}
	b.orders[order.ID] = order

	tree := b.side(order.Side)
	if node, found := tree.Get(order.Price); found {
		lv := node.(*level)
		lv.orders = append(lv.orders, order)
		return
	}
	tree.Put(order.Price, &level{price: order.Price, orders: []*types.Order{order}})
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(orderID string) (*types.Order, bool) {
	o, ok := b.orders[orderID]
	return o, ok
}

// Remove takes the order with the given id off the book. It is idempotent:
// removing an unknown id returns (nil, false) without error.
func (b *Book) Remove(orderID string) (*types.Order, bool) {
	order, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	delete(b.orders, orderID)

	tree := b.side(order.Side)
	node, found := tree.Get(order.Price)
	if !found {
		return order, true
	}
	lv := node.(*level)
	for i, o := range lv.orders {
		if o.ID == orderID {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			break
		}
	}
	if len(lv.orders) == 0 {
		tree.Remove(order.Price)
	}
	return order, true
}

// BestBid returns the highest-priced resting buy, or nil if the bid side
// is empty.
func (b *Book) BestBid() *types.Order {
	return bestOf(b.bids)
}

// BestAsk returns the lowest-priced resting sell, or nil if the ask side
// is empty.
func (b *Book) BestAsk() *types.Order {
	return bestOf(b.asks)
}

// Best returns the top of the given side.
func (b *Book) Best(s types.Side) *types.Order {
	return bestOf(b.side(s))
}

func bestOf(tree *redblacktree.Tree) *types.Order {
	node := tree.Left() // both comparators sort best-first
	if node == nil {
		return nil
	}
	lv := node.Value.(*level)
	if len(lv.orders) == 0 {
		return nil
	}
	return lv.orders[0]
}

// Iterate yields the resting orders of one side in matching priority.
// Returning false from fn stops the walk.
func (b *Book) Iterate(s types.Side, fn func(*types.Order) bool) {
	it := b.side(s).Iterator()
	for it.Next() {
		lv := it.Value().(*level)
		for _, o := range lv.orders {
			if !fn(o) {
				return
			}
		}
	}
}

// UserOrderIDs returns the ids of every resting order owned by userID,
// in matching priority per side, bids first.
func (b *Book) UserOrderIDs(userID string) []string {
	var ids []string
	for _, s := range []types.Side{types.Buy, types.Sell} {
		b.Iterate(s, func(o *types.Order) bool {
			if o.UserID == userID {
				ids = append(ids, o.ID)
			}
			return true
		})
	}
	return ids
}

// Depth returns the aggregated (price, quantity) levels of both sides.
// limit caps the number of levels per side; limit <= 0 means no cap.
func (b *Book) Depth(limit int) types.BookSnapshot {
	snap := types.BookSnapshot{
		Ticker: b.ticker,
		Bids:   make([]types.PriceLevel, 0),
		Asks:   make([]types.PriceLevel, 0),
	}
	snap.Bids = depthOf(b.bids, limit)
	snap.Asks = depthOf(b.asks, limit)
	return snap
}

func depthOf(tree *redblacktree.Tree, limit int) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, tree.Size())
	it := tree.Iterator()
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		lv := it.Value().(*level)
		out = append(out, types.PriceLevel{Price: lv.price, Quantity: lv.totalQuantity()})
	}
	return out
}
