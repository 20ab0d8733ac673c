package portfolio

import "errors"

// Business-rule and validation failures surfaced to the caller. All are
// rejected before any mutation.
var (
	// ErrValidation covers malformed request shapes: bad side, non-positive
	// shares or price, stop-loss on a SELL, out-of-bounds starting cash.
	ErrValidation = errors.New("portfolio: invalid request")

	// ErrInsufficientCash rejects a BUY whose cost exceeds the cash balance.
	ErrInsufficientCash = errors.New("portfolio: not enough cash to buy these shares")

	// ErrInsufficientShares rejects a SELL of more shares than are owned.
	ErrInsufficientShares = errors.New("portfolio: trying to sell more shares than owned")

	// ErrUnknownTicker rejects a SELL of a ticker with no open position.
	ErrUnknownTicker = errors.New("portfolio: ticker not in portfolio")

	// ErrPriceOutOfRange rejects a trade priced outside the same-day market
	// range. The check is skipped entirely when the range is unresolvable.
	ErrPriceOutOfRange = errors.New("portfolio: price outside today's range")

	// ErrMarketClosed rejects a non-force end-of-day run outside the trading
	// window (weekend, holiday, or before the 16:10 ET cutoff).
	ErrMarketClosed = errors.New("portfolio: market is closed")
)
