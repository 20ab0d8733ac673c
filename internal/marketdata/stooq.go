package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/ticker"
)

// DefaultStooqURL is the secondary provider's daily CSV endpoint.
const DefaultStooqURL = "https://stooq.com"

// StooqClient fetches daily bars from the secondary CSV provider. Symbols
// are re-mapped to the provider's convention (AAPL → aapl.us).
type StooqClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStooqClient creates a secondary-provider client. An empty baseURL uses
// DefaultStooqURL; a nil httpClient gets a 15s-timeout default.
func NewStooqClient(baseURL string, httpClient *http.Client) *StooqClient {
	if baseURL == "" {
		baseURL = DefaultStooqURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &StooqClient{baseURL: baseURL, httpClient: httpClient}
}

// DailyBars fetches daily OHLCV rows for [start, end] as CSV:
// Date,Open,High,Low,Close,Volume with ISO dates.
func (c *StooqClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("s", ticker.SecondarySymbol(symbol))
	params.Set("d1", start.Format("20060102"))
	params.Set("d2", end.Format("20060102"))
	params.Set("i", "d")
	addr := fmt.Sprintf("%s/q/d/l/?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("stooq: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stooq: %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stooq: %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	return parseDailyCSV(resp.Body)
}

func parseDailyCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stooq: parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil // header only, or "No data"
	}

	var bars []Bar
	for _, rec := range records[1:] {
		if len(rec) < 5 {
			continue
		}
		day, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			continue
		}
		// Anchor the bar mid-session in exchange local time so date
		// normalization never shifts it across midnight.
		at := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, calendar.Eastern)
		open, err1 := decimal.NewFromString(rec[1])
		high, err2 := decimal.NewFromString(rec[2])
		low, err3 := decimal.NewFromString(rec[3])
		closep, err4 := decimal.NewFromString(rec[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		var volume int64
		if len(rec) > 5 {
			volume, _ = strconv.ParseInt(rec[5], 10, 64)
		}
		bars = append(bars, Bar{
			Time:   at,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closep,
			Volume: volume,
		})
	}
	return bars, nil
}
