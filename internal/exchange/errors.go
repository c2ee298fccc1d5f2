package exchange

import "errors"

// Failure kinds returned by the exchange. All are signalled before any
// state has been mutated; a caller seeing one of these can assume the
// books and balances are exactly as they were.
var (
	// ErrUnknownTicker: the ticker is not in the configured set.
	ErrUnknownTicker = errors.New("unknown ticker")
	// ErrUnknownUser: the order or cancel names a user that was never
	// registered.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidOrder: non-positive price or quantity, price with more
	// than 2 decimal places, or an unrecognized side or time-in-force.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientFunds: a buy whose notional exceeds the user's
	// buying power.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares: a sell exceeding the user's unreserved
	// holding.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrNotFullyFillable: a FOK order that cannot fill completely at
	// submission.
	ErrNotFullyFillable = errors.New("order not fully fillable")
	// ErrNotFound: a cancel naming an order that is not resting.
	ErrNotFound = errors.New("order not found")
	// ErrForbidden: a cancel naming an order owned by another user.
	ErrForbidden = errors.New("order owned by another user")
	// ErrDuplicateUser: a registration reusing an existing user id.
	ErrDuplicateUser = errors.New("user already registered")
)
