package exchange

import (
	"sync"

	"github.com/shopspring/decimal"

	"marketsim/pkg/types"
)

// account wraps a user with its own mutex. Ticker locks serialize all
// activity within one ticker, but the same user may trade two tickers in
// parallel, so every balance read-modify-write goes through this lock.
// Check-and-reserve is a single critical section; over-reservation by two
// concurrent escrows is impossible.
//
// Market-maker users skip reservation bookkeeping entirely: settlement
// still moves their cash and shares (which may go negative) so that
// counterparties settle correctly.
type account struct {
	mu   sync.Mutex
	user *types.User
}

func newAccount(u *types.User) *account {
	if u.Holdings == nil {
		u.Holdings = make(map[string]int64)
	}
	if u.EscrowedShares == nil {
		u.EscrowedShares = make(map[string]int64)
	}
	return &account{user: u}
}

// snapshot returns a deep copy of the user, safe to hand to callers.
func (a *account) snapshot() *types.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.Clone()
}

func (a *account) isMarketMaker() bool {
	return a.user.IsMarketMaker
}

// reserveCash withholds notional from the user's buying power, failing
// with ErrInsufficientFunds if not enough is available. No-op for
// market makers.
func (a *account) reserveCash(notional decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user.IsMarketMaker {
		return nil
	}
	if a.user.BuyingPower().LessThan(notional) {
		return ErrInsufficientFunds
	}
	a.user.EscrowedCash = a.user.EscrowedCash.Add(notional)
	return nil
}

// releaseCash returns notional to the user's buying power.
func (a *account) releaseCash(notional decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user.IsMarketMaker {
		return
	}
	a.user.EscrowedCash = a.user.EscrowedCash.Sub(notional)
}

// reserveShares withholds qty shares of ticker from the user's available
// holding, failing with ErrInsufficientShares if not enough is free.
// No-op for market makers.
func (a *account) reserveShares(ticker string, qty int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user.IsMarketMaker {
		return nil
	}
	if a.user.AvailableShares(ticker) < qty {
		return ErrInsufficientShares
	}
	a.user.EscrowedShares[ticker] += qty
	return nil
}

// releaseShares returns qty shares of ticker to the user's available
// holding.
func (a *account) releaseShares(ticker string, qty int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user.IsMarketMaker {
		return
	}
	a.user.EscrowedShares[ticker] -= qty
}

// settleBuy applies the buy side of one fill: release the reservation at
// the buy order's limit price, pay the fill price, receive the shares.
// Since fills only improve on the limit, the difference stays in Cash,
// which is the price-improvement refund.
func (a *account) settleBuy(ticker string, limit, fill decimal.Decimal, qty int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := decimal.NewFromInt(qty)
	if !a.user.IsMarketMaker {
		a.user.EscrowedCash = a.user.EscrowedCash.Sub(limit.Mul(q))
	}
	a.user.Cash = a.user.Cash.Sub(fill.Mul(q))
	a.user.Holdings[ticker] += qty
}

// settleSell applies the sell side of one fill: consume the reserved
// shares and credit the proceeds at the fill price.
func (a *account) settleSell(ticker string, fill decimal.Decimal, qty int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.user.IsMarketMaker {
		a.user.EscrowedShares[ticker] -= qty
	}
	a.user.Holdings[ticker] -= qty
	a.user.Cash = a.user.Cash.Add(fill.Mul(decimal.NewFromInt(qty)))
}
