// Package types defines the shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange: orders, trades,
// users, and the enums that describe them. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce enumerates the supported order lifecycles.
type TimeInForce string

const (
	// GTC rests on the book until filled or cancelled.
	GTC TimeInForce = "GTC"
	// IOC fills what it can immediately and cancels the remainder.
	IOC TimeInForce = "IOC"
	// FOK executes only if the full quantity is immediately fillable.
	FOK TimeInForce = "FOK"
)

// Valid reports whether t is a recognized time-in-force.
func (t TimeInForce) Valid() bool {
	switch t {
	case GTC, IOC, FOK:
		return true
	}
	return false
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// StatusOpen: nothing filled, resting on the book.
	StatusOpen OrderStatus = "OPEN"
	// StatusPartial: partially filled, remainder resting on the book.
	StatusPartial OrderStatus = "PARTIAL"
	// StatusFilled: remaining quantity is zero.
	StatusFilled OrderStatus = "FILLED"
	// StatusCancelled: removed from the book before a full fill.
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order is a limit order. Quantity is the remaining quantity and is
// decremented in place as fills occur; OriginalQuantity is the immutable
// quantity at submission. CreatedAt is a per-ticker sequence number
// assigned when the order enters the engine and is the FIFO tie-breaker
// at equal price.
type Order struct {
	ID               string          `json:"order_id"`
	UserID           string          `json:"user_id"`
	Ticker           string          `json:"ticker"`
	Side             Side            `json:"side"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int64           `json:"quantity"`
	OriginalQuantity int64           `json:"original_quantity"`
	TIF              TimeInForce     `json:"tif"`
	CreatedAt        int64           `json:"created_at"`
	Status           OrderStatus     `json:"status"`
}

// FilledQuantity returns how much of the order has executed so far.
func (o *Order) FilledQuantity() int64 {
	return o.OriginalQuantity - o.Quantity
}

// Notional returns Price multiplied by the remaining quantity.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Validate checks the order fields that do not depend on engine state.
func (o *Order) Validate() error {
	if !o.Side.Valid() {
		return fmt.Errorf("unknown side %q", o.Side)
	}
	if !o.TIF.Valid() {
		return fmt.Errorf("unknown time-in-force %q", o.TIF)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", o.Quantity)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", o.Price)
	}
	if !o.Price.Equal(o.Price.Round(2)) {
		return fmt.Errorf("price %s has more than 2 decimal places", o.Price)
	}
	return nil
}

// Trade is a single fill between two orders. Immutable once produced.
// Price is always the resting order's price at the moment of the fill.
type Trade struct {
	ID          string          `json:"trade_id"`
	Ticker      string          `json:"ticker"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	CreatedAt   int64           `json:"created_at"` // unix nanoseconds
}

// Notional returns Price multiplied by Quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// User is a trading principal. Cash and Holdings are the settled balances;
// EscrowedCash and EscrowedShares track the reservations backing the user's
// resting orders. Cash only moves at settlement.
//
// A market-maker user bypasses escrow entirely: its Cash and Holdings may
// go negative and no reservations are recorded for it.
type User struct {
	ID             string           `json:"user_id"`
	Username       string           `json:"username"`
	Cash           decimal.Decimal  `json:"cash"`
	Holdings       map[string]int64 `json:"holdings"`
	IsMarketMaker  bool             `json:"is_market_maker"`
	EscrowedCash   decimal.Decimal  `json:"escrowed_cash"`
	EscrowedShares map[string]int64 `json:"escrowed_shares"`
}

// BuyingPower is the cash available to back new buy orders.
func (u *User) BuyingPower() decimal.Decimal {
	return u.Cash.Sub(u.EscrowedCash)
}

// AvailableShares is the holding in ticker not already reserved by
// resting sells.
func (u *User) AvailableShares(ticker string) int64 {
	return u.Holdings[ticker] - u.EscrowedShares[ticker]
}

// Clone returns a deep copy, safe to hand outside the engine.
func (u *User) Clone() *User {
	cp := *u
	cp.Holdings = make(map[string]int64, len(u.Holdings))
	for k, v := range u.Holdings {
		cp.Holdings[k] = v
	}
	cp.EscrowedShares = make(map[string]int64, len(u.EscrowedShares))
	for k, v := range u.EscrowedShares {
		cp.EscrowedShares[k] = v
	}
	return &cp
}

// PriceLevel is one aggregated level of a depth snapshot.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// BookSnapshot is a point-in-time aggregated view of one ticker's book.
// Bids are sorted descending by price, asks ascending.
type BookSnapshot struct {
	Ticker string       `json:"ticker"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}
