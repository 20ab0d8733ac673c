package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/ticker"
)

// windowDays is the trailing fetch window around the target date; wide
// enough to cover a long weekend plus a holiday.
const windowDays = 7

// Resolver resolves a trading-day closing price for a ticker by trying an
// ordered chain of sources, falling back to a caller-supplied price when
// every provider comes up empty. Resolution never hard-fails: the worst
// outcome is a zero price tagged fallback_zero.
type Resolver struct {
	cal     *calendar.Calendar
	sources []Source
	cache   *ristretto.Cache
	ttl     time.Duration
	now     func() time.Time
}

// NewResolver builds the production fallback chain: bulk daily bars →
// per-ticker quote history → last quoted price → secondary CSV provider.
func NewResolver(cal *calendar.Calendar, chart *ChartClient, stooq *StooqClient) *Resolver {
	sources := []Source{
		{Name: "daily_bars", HasRange: true, Fetch: chart.DailyBars},
		{Name: "quote_history", HasRange: true, Fetch: func(ctx context.Context, symbol string, _, _ time.Time) ([]Bar, error) {
			return chart.QuoteHistory(ctx, symbol)
		}},
		{Name: "last_quote", HasRange: false, Fetch: func(ctx context.Context, symbol string, _, _ time.Time) ([]Bar, error) {
			return chart.LastQuote(ctx, symbol)
		}},
		{Name: "secondary_csv", HasRange: true, Fetch: stooq.DailyBars},
	}
	return NewResolverWithSources(cal, sources)
}

// NewResolverWithSources builds a resolver over an explicit chain; used by
// tests to exercise stages in isolation.
func NewResolverWithSources(cal *calendar.Calendar, sources []Source) *Resolver {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// Config above is static and valid; NewCache only fails on a
		// bad config.
		panic("marketdata: ristretto cache: " + err.Error())
	}
	return &Resolver{
		cal:     cal,
		sources: sources,
		cache:   cache,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

// SetCacheTTL changes how long fetched series are memoized.
func (r *Resolver) SetCacheTTL(d time.Duration) {
	if d > 0 {
		r.ttl = d
	}
}

// ResolveClose resolves the closing price of symbol for targetDate.
//
// In force mode a non-trading targetDate is first rolled back to the
// previous trading day. A malformed symbol skips all network stages and
// goes straight to the fallback price. When a series is found, the exact
// row for the target date wins (tag "close"); otherwise the most recent
// earlier row is used (tag "prev_close").
func (r *Resolver) ResolveClose(ctx context.Context, symbol string, targetDate time.Time, mode string, fallback *decimal.Decimal) Quote {
	target := civilDate(targetDate)
	if mode == ModeForce && !r.cal.IsTradingDay(target) {
		target = r.cal.PreviousTradingDay(target)
	}

	if !ticker.Valid(symbol) {
		slog.Warn("malformed ticker, skipping market data fetch", "ticker", symbol)
		return r.fallbackQuote(symbol, target, fallback)
	}

	start := target.AddDate(0, 0, -windowDays)
	end := target.AddDate(0, 0, 1)

	for _, src := range r.sources {
		bars, ok := r.cachedFetch(ctx, src, symbol, start, end)
		if !ok || len(bars) == 0 {
			continue
		}
		if q, ok := selectBar(symbol, bars, target, src.HasRange); ok {
			metrics.PriceResolutions.WithLabelValues(src.Name, q.Source).Inc()
			return q
		}
	}
	return r.fallbackQuote(symbol, target, fallback)
}

// cachedFetch runs one source, memoizing non-empty results per
// (source, symbol, window) so a single end-of-day run fetches each series
// at most once.
func (r *Resolver) cachedFetch(ctx context.Context, src Source, symbol string, start, end time.Time) ([]Bar, bool) {
	key := fmt.Sprintf("%s|%s|%s|%s", src.Name, symbol, start.Format(dateKeyFormat), end.Format(dateKeyFormat))
	if v, ok := r.cache.Get(key); ok {
		bars, _ := v.([]Bar)
		return bars, true
	}

	bars, err := src.Fetch(ctx, symbol, start, end)
	if err != nil {
		slog.Warn("market data fetch failed", "source", src.Name, "ticker", symbol, "err", err)
		return nil, false
	}
	if len(bars) > 0 {
		r.cache.SetWithTTL(key, bars, int64(len(bars)), r.ttl)
	}
	return bars, true
}

const dateKeyFormat = "20060102"

// selectBar picks the exact bar for the target date, or the most recent
// earlier bar, after normalizing bar timestamps to exchange local time.
func selectBar(symbol string, bars []Bar, target time.Time, hasRange bool) (Quote, bool) {
	var best *Bar
	var bestDate time.Time
	for i := range bars {
		d := dateIn(bars[i].Time, calendar.Eastern)
		if d.After(target) {
			continue
		}
		if best == nil || d.After(bestDate) {
			best = &bars[i]
			bestDate = d
		}
	}
	if best == nil {
		return Quote{}, false
	}

	source := SourcePrevClose
	if bestDate.Equal(target) {
		source = SourceClose
	}
	low, high := best.Low, best.High
	if !hasRange || low.IsZero() {
		low, high = best.Close, best.Close
	}
	return Quote{
		Symbol:        symbol,
		Price:         best.Close,
		Low:           low,
		High:          high,
		EffectiveDate: bestDate,
		Source:        source,
		HasRange:      hasRange,
	}, true
}

func (r *Resolver) fallbackQuote(symbol string, target time.Time, fallback *decimal.Decimal) Quote {
	q := Quote{
		Symbol:        symbol,
		Price:         decimal.Zero,
		Low:           decimal.Zero,
		High:          decimal.Zero,
		EffectiveDate: target,
		Source:        SourceFallbackZero,
	}
	if fallback != nil {
		q.Price = *fallback
		q.Low = *fallback
		q.High = *fallback
		q.Source = SourceFallbackBuy
	}
	metrics.PriceFallbacks.WithLabelValues(q.Source).Inc()
	slog.Warn("price resolution exhausted all sources",
		"ticker", symbol,
		"date", target.Format("2006-01-02"),
		"source", q.Source,
	)
	return q
}

// dateIn truncates t to its calendar date as seen in loc, represented at
// midnight UTC for stable comparisons.
func dateIn(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// civilDate truncates an already-civil date (or a UTC instant) without a
// zone conversion. Target dates are civil dates at midnight UTC throughout
// the engine; only provider bar timestamps need the Eastern conversion.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
