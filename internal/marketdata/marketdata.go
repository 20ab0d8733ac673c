// Package marketdata resolves trading-day closing prices through an ordered
// chain of provider fallbacks. Prices use shopspring/decimal throughout.
package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Price source tags carried on every resolved quote. Downstream consumers
// use these to flag low-confidence prices to a human.
const (
	SourceClose        = "close"         // exact bar for the target date
	SourcePrevClose    = "prev_close"    // most recent bar before the target date
	SourceFallbackBuy  = "fallback_buy"  // caller-supplied fallback price
	SourceFallbackZero = "fallback_zero" // no data and no fallback supplied
)

// Resolution modes.
const (
	ModeRegular = "regular"
	ModeForce   = "force"
)

// Bar is one daily OHLCV row as returned by a provider.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Quote is a resolved closing price for one ticker and target date.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Low           decimal.Decimal `json:"low"`
	High          decimal.Decimal `json:"high"`
	EffectiveDate time.Time       `json:"effective_date"`
	Source        string          `json:"source"`
	// HasRange is true when Low/High come from a genuine intraday range
	// rather than a single quoted point repeated across the bar.
	HasRange bool `json:"has_range"`
}

// Degraded reports whether the quote is a non-market fallback value.
func (q Quote) Degraded() bool {
	return strings.HasPrefix(q.Source, "fallback")
}

// Source is one stage of the resolver's fallback chain: a named fetch
// function returning a daily-bar series, or an empty/nil series when the
// provider has nothing usable.
type Source struct {
	Name string
	// HasRange marks sources whose bars carry real intraday low/high.
	HasRange bool
	Fetch    func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}
