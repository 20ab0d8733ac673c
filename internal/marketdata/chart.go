package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultChartURL is the primary provider's daily-bar chart endpoint.
const DefaultChartURL = "https://query1.finance.yahoo.com"

// ChartClient fetches daily bars and last quotes from the primary
// provider's JSON chart API.
type ChartClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewChartClient creates a primary-provider client. An empty baseURL uses
// DefaultChartURL; a nil httpClient gets a 15s-timeout default.
func NewChartClient(baseURL string, httpClient *http.Client) *ChartClient {
	if baseURL == "" {
		baseURL = DefaultChartURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &ChartClient{baseURL: baseURL, httpClient: httpClient}
}

// chartResponse mirrors the provider's /v8/finance/chart payload, reduced
// to the fields the resolver needs.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// DailyBars fetches daily OHLCV bars for [start, end].
func (c *ChartClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.Unix(), 10))
	resp, err := c.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return resp.bars()
}

// QuoteHistory fetches a short trailing window of daily bars (narrower
// per-ticker retry when the bulk window fetch yields nothing).
func (c *ChartClient) QuoteHistory(ctx context.Context, symbol string) ([]Bar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "5d")
	resp, err := c.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return resp.bars()
}

// LastQuote fetches the last quoted price as a degenerate single-point bar
// with open=high=low=close.
func (c *ChartClient) LastQuote(ctx context.Context, symbol string) ([]Bar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")
	resp, err := c.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}
	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, nil
	}
	price := decimal.NewFromFloat(meta.RegularMarketPrice)
	at := time.Unix(meta.RegularMarketTime, 0)
	if meta.RegularMarketTime == 0 {
		at = time.Now()
	}
	return []Bar{{
		Time:  at,
		Open:  price,
		High:  price,
		Low:   price,
		Close: price,
	}}, nil
}

func (c *ChartClient) fetch(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	addr := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chart: create request: %w", err)
	}
	req.Header.Set("User-Agent", "portfolio-engine/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart: %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chart: %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	var cr chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("chart: %s: decode: %w", symbol, err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("chart: %s: %s: %s", symbol, cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	return &cr, nil
}

func (cr *chartResponse) bars() ([]Bar, error) {
	if len(cr.Chart.Result) == 0 {
		return nil, nil
	}
	res := cr.Chart.Result[0]
	if len(res.Timestamp) == 0 || len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := res.Indicators.Quote[0]

	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(q.Close) || q.Close[i] <= 0 {
			continue // provider pads series with null/zero rows
		}
		bar := Bar{
			Time:  time.Unix(ts, 0),
			Close: decimal.NewFromFloat(q.Close[i]),
		}
		if i < len(q.Open) {
			bar.Open = decimal.NewFromFloat(q.Open[i])
		}
		if i < len(q.High) {
			bar.High = decimal.NewFromFloat(q.High[i])
		}
		if i < len(q.Low) {
			bar.Low = decimal.NewFromFloat(q.Low[i])
		}
		if i < len(q.Volume) {
			bar.Volume = q.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
