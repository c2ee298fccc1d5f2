// Package exchange is the settlement authority of the simulated market.
//
// It owns every order book, every user balance, and the per-ticker locks
// that serialize state changes. All externally visible transitions on
// orders and balances pass through PlaceOrder, CancelOrder, and
// CancelMarketOrders; the
// matching walk itself lives in internal/matching and never touches
// money.
//
// Concurrency model: one mutex per ticker, held for the full
// escrow-match-settle sequence. Operations on different tickers run in
// parallel; balance state is additionally guarded per user (see account)
// because one user may be active on several tickers at once. Trade events
// are enqueued to a single dispatcher goroutine while the ticker lock is
// held, which preserves per-ticker ordering, and delivered outside any
// lock so subscribers can never block the engine.
package exchange

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketsim/internal/book"
	"marketsim/internal/matching"
	"marketsim/internal/metrics"
	"marketsim/pkg/types"
)

// TradeHandler receives the trades produced by one completed PlaceOrder,
// in fill order. Handlers run on the dispatcher goroutine and must not
// block for long; delivery is best-effort and never affects engine state.
type TradeHandler func(ticker string, trades []types.Trade)

// Config fixes the ticker universe and defaults at construction.
type Config struct {
	// Tickers maps each configured symbol to its initial reference price
	// (used by the liquidity bot before the first trade).
	Tickers map[string]decimal.Decimal
	// DefaultTIF applies when an order omits its time-in-force.
	DefaultTIF types.TimeInForce
	// EventBuffer sizes the trade-event queue. Zero means 256.
	EventBuffer int
}

// tickerState bundles everything guarded by one ticker lock.
type tickerState struct {
	mu        sync.Mutex
	book      *book.Book
	lastPrice decimal.Decimal
	hasLast   bool
	seq       int64 // created_at sequence, monotone per ticker
}

func (ts *tickerState) nextSeq() int64 {
	ts.seq++
	return ts.seq
}

type tradeEvent struct {
	ticker string
	trades []types.Trade
}

// Exchange is the singleton engine. Create with New, register users, then
// place and cancel orders from any number of goroutines. Close stops the
// event dispatcher once all trading has stopped.
type Exchange struct {
	tickers    map[string]*tickerState
	defaultTIF types.TimeInForce

	usersMu sync.RWMutex
	users   map[string]*account

	// orders indexes every order ever accepted, resting or not, so that
	// cancels and settlement can resolve ids without walking books.
	orders sync.Map // order id -> *types.Order

	handlersMu sync.RWMutex
	handlers   []TradeHandler

	events  chan tradeEvent
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the exchange and starts its event dispatcher.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Exchange {
	if cfg.DefaultTIF == "" {
		cfg.DefaultTIF = types.GTC
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	e := &Exchange{
		tickers:    make(map[string]*tickerState, len(cfg.Tickers)),
		defaultTIF: cfg.DefaultTIF,
		users:      make(map[string]*account),
		events:     make(chan tradeEvent, buf),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.With("component", "exchange"),
	}
	for ticker, initial := range cfg.Tickers {
		e.tickers[ticker] = &tickerState{
			book:      book.New(ticker),
			lastPrice: initial,
		}
	}
	go e.dispatch()
	return e
}

// Close drains and stops the event dispatcher. Pending events are
// delivered before Close returns.
func (e *Exchange) Close() {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.events)
	<-e.done
}

// OnTrades registers a subscriber for trade events. Register subscribers
// before trading begins.
func (e *Exchange) OnTrades(fn TradeHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Exchange) dispatch() {
	defer close(e.done)
	for evt := range e.events {
		e.handlersMu.RLock()
		handlers := e.handlers
		e.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(evt.ticker, evt.trades)
		}
	}
}

// publish enqueues a trade event without blocking. Called with the ticker
// lock held so events leave in fill order; a full queue drops the event.
func (e *Exchange) publish(ticker string, trades []types.Trade) {
	select {
	case e.events <- tradeEvent{ticker: ticker, trades: trades}:
	default:
		e.logger.Warn("event queue full, dropping trade event",
			"ticker", ticker, "trades", len(trades))
	}
}

// RegisterUser adds a new trading principal. Fails with ErrDuplicateUser
// if the id is taken.
func (e *Exchange) RegisterUser(u *types.User) error {
	e.usersMu.Lock()
	defer e.usersMu.Unlock()
	if _, exists := e.users[u.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
	}
	e.users[u.ID] = newAccount(u)
	return nil
}

// LoadUsers materializes users from persistence at startup. Existing ids
// are replaced; call before trading begins.
func (e *Exchange) LoadUsers(users []*types.User) {
	e.usersMu.Lock()
	defer e.usersMu.Unlock()
	for _, u := range users {
		e.users[u.ID] = newAccount(u)
	}
}

func (e *Exchange) account(userID string) (*account, bool) {
	e.usersMu.RLock()
	defer e.usersMu.RUnlock()
	a, ok := e.users[userID]
	return a, ok
}

// mustAccount is for settlement lookups of ids that escrow has already
// proven to exist.
func (e *Exchange) mustAccount(userID string) *account {
	a, ok := e.account(userID)
	if !ok {
		panic(fmt.Sprintf("exchange: settlement references unknown user %s", userID))
	}
	return a
}

func (e *Exchange) order(orderID string) *types.Order {
	v, ok := e.orders.Load(orderID)
	if !ok {
		panic(fmt.Sprintf("exchange: settlement references unknown order %s", orderID))
	}
	return v.(*types.Order)
}

// OrderRequest is the input to PlaceOrder. TIF may be empty to use the
// configured default.
type OrderRequest struct {
	UserID   string
	Ticker   string
	Side     types.Side
	Price    decimal.Decimal
	Quantity int64
	TIF      types.TimeInForce
}

// PlaceResult is everything a caller needs to persist one completed
// placement in a single transaction: the incoming order, the trades in
// fill order, the resting orders whose fill state changed, and the final
// snapshot of every user whose balances moved.
type PlaceResult struct {
	Order          *types.Order
	Trades         []types.Trade
	RestingChanged []*types.Order
	Users          []*types.User
}

// PlaceOrder validates, escrows, matches, and settles one limit order.
// The whole sequence runs under the ticker's lock; any returned error
// means no state changed.
func (e *Exchange) PlaceOrder(req OrderRequest) (*PlaceResult, error) {
	ts, ok := e.tickers[req.Ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, req.Ticker)
	}

	tif := req.TIF
	if tif == "" {
		tif = e.defaultTIF
	}
	order := &types.Order{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Ticker:           req.Ticker,
		Side:             req.Side,
		Price:            req.Price,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
		TIF:              tif,
		Status:           types.StatusOpen,
	}
	if err := order.Validate(); err != nil {
		e.metrics.OrderRejected("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	acct, ok := e.account(req.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, req.UserID)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	order.CreatedAt = ts.nextSeq()

	// FOK orders either fill completely or leave no trace: probe the
	// contra side before any escrow is taken.
	if tif == types.FOK {
		fillable := matching.FillableQuantity(ts.book, order.Side, order.Price, order.Quantity)
		if fillable < order.Quantity {
			e.metrics.OrderRejected("not_fully_fillable")
			return nil, fmt.Errorf("%w: %d of %d available", ErrNotFullyFillable, fillable, order.Quantity)
		}
	}

	if order.Side == types.Buy {
		if err := acct.reserveCash(order.Notional()); err != nil {
			e.metrics.OrderRejected("insufficient_funds")
			return nil, err
		}
	} else {
		if err := acct.reserveShares(order.Ticker, order.Quantity); err != nil {
			e.metrics.OrderRejected("insufficient_shares")
			return nil, err
		}
	}

	e.orders.Store(order.ID, order)
	trades := matching.Match(ts.book, order, tif == types.GTC)

	affected := map[string]*account{order.UserID: acct}
	restingChanged := make([]*types.Order, 0, len(trades))
	for _, tr := range trades {
		buyOrder := e.order(tr.BuyOrderID)
		buyer := e.mustAccount(tr.BuyerID)
		seller := e.mustAccount(tr.SellerID)

		seller.settleSell(tr.Ticker, tr.Price, tr.Quantity)
		buyer.settleBuy(tr.Ticker, buyOrder.Price, tr.Price, tr.Quantity)

		affected[tr.BuyerID] = buyer
		affected[tr.SellerID] = seller
		if tr.BuyOrderID != order.ID {
			restingChanged = append(restingChanged, buyOrder)
		} else {
			restingChanged = append(restingChanged, e.order(tr.SellOrderID))
		}

		ts.lastPrice = tr.Price
		ts.hasLast = true
		e.metrics.TradeExecuted(tr.Ticker, tr.Quantity)
	}

	// IOC remainders are cancelled on the spot and their reservation
	// released in full. GTC remainders keep their reservation while they
	// rest; FOK cannot reach this point with quantity left.
	if order.Quantity > 0 && tif == types.IOC {
		e.releaseRemainder(acct, order)
		order.Status = types.StatusCancelled
	}

	e.metrics.OrderAccepted(order.Ticker, string(order.Side))
	e.metrics.SetRestingOrders(order.Ticker, ts.book.Len())

	if len(trades) > 0 {
		e.publish(order.Ticker, trades)
	}

	return &PlaceResult{
		Order:          order,
		Trades:         trades,
		RestingChanged: restingChanged,
		Users:          snapshots(affected),
	}, nil
}

// releaseRemainder returns the reservation backing an order's unfilled
// quantity.
func (e *Exchange) releaseRemainder(acct *account, order *types.Order) {
	if order.Side == types.Buy {
		acct.releaseCash(order.Notional())
	} else {
		acct.releaseShares(order.Ticker, order.Quantity)
	}
}

func snapshots(accounts map[string]*account) []*types.User {
	out := make([]*types.User, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.snapshot())
	}
	return out
}

// CancelResult reports one completed cancellation and the refund it
// released.
type CancelResult struct {
	Order        *types.Order
	RefundCash   decimal.Decimal
	RefundShares int64
	User         *types.User
}

// CancelOrder removes a resting order and releases its remaining
// reservation in full. Fails with ErrNotFound if the order is not resting
// (unknown, filled, or already cancelled) and ErrForbidden if it belongs
// to a different user.
func (e *Exchange) CancelOrder(orderID, userID string) (*CancelResult, error) {
	v, ok := e.orders.Load(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	order := v.(*types.Order)

	ts := e.tickers[order.Ticker]
	ts.mu.Lock()
	defer ts.mu.Unlock()

	resting, ok := ts.book.Get(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if resting.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, orderID)
	}

	acct, ok := e.account(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	ts.book.Remove(orderID)
	result := &CancelResult{Order: resting}
	if resting.Side == types.Buy {
		result.RefundCash = resting.Notional()
	} else {
		result.RefundShares = resting.Quantity
	}
	e.releaseRemainder(acct, resting)
	resting.Status = types.StatusCancelled

	e.metrics.OrderCancelled(resting.Ticker)
	e.metrics.SetRestingOrders(resting.Ticker, ts.book.Len())

	result.User = acct.snapshot()
	return result, nil
}

// CancelMarketOrders cancels every resting order userID owns on ticker
// under a single lock acquisition, returning the cancelled orders and the
// user's final snapshot. Used by the liquidity bot to pull its quotes.
func (e *Exchange) CancelMarketOrders(ticker, userID string) ([]*types.Order, *types.User, error) {
	ts, ok := e.tickers[ticker]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	acct, ok := e.account(userID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	var cancelled []*types.Order
	for _, id := range ts.book.UserOrderIDs(userID) {
		order, ok := ts.book.Remove(id)
		if !ok {
			continue
		}
		e.releaseRemainder(acct, order)
		order.Status = types.StatusCancelled
		cancelled = append(cancelled, order)
		e.metrics.OrderCancelled(ticker)
	}
	e.metrics.SetRestingOrders(ticker, ts.book.Len())
	return cancelled, acct.snapshot(), nil
}

// GetUser returns a consistent snapshot of one user.
func (e *Exchange) GetUser(userID string) (*types.User, error) {
	acct, ok := e.account(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return acct.snapshot(), nil
}

// GetBook returns an aggregated depth snapshot taken under the ticker
// lock. limit caps levels per side; limit <= 0 returns all.
func (e *Exchange) GetBook(ticker string, limit int) (types.BookSnapshot, error) {
	ts, ok := e.tickers[ticker]
	if !ok {
		return types.BookSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.book.Depth(limit), nil
}

// GetBest returns the top level of each side. A nil level means that side
// is empty.
func (e *Exchange) GetBest(ticker string) (bid, ask *types.PriceLevel, err error) {
	ts, ok := e.tickers[ticker]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	depth := ts.book.Depth(1)
	if len(depth.Bids) > 0 {
		bid = &depth.Bids[0]
	}
	if len(depth.Asks) > 0 {
		ask = &depth.Asks[0]
	}
	return bid, ask, nil
}

// LastPrice returns the most recent trade price for ticker. Before any
// trade it returns the configured initial price, and traded reports
// whether a real trade has happened yet.
func (e *Exchange) LastPrice(ticker string) (price decimal.Decimal, traded bool, err error) {
	ts, ok := e.tickers[ticker]
	if !ok {
		return decimal.Zero, false, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastPrice, ts.hasLast, nil
}

// SetLastPrice overrides the reference price for ticker. Administrative.
func (e *Exchange) SetLastPrice(ticker string, price decimal.Decimal) error {
	ts, ok := e.tickers[ticker]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.lastPrice = price
	ts.hasLast = true
	return nil
}

// Tickers returns the configured symbols with their current reference
// prices.
func (e *Exchange) Tickers() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.tickers))
	for ticker, ts := range e.tickers {
		ts.mu.Lock()
		out[ticker] = ts.lastPrice
		ts.mu.Unlock()
	}
	return out
}
