package marketdata_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/marketdata"
)

func TestStooqDailyBars(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("Date,Open,High,Low,Close,Volume\n" +
			"2024-03-12,10,11,9,10.5,1000\n" +
			"2024-03-13,10.5,12,10,11.5,2000\n"))
	}))
	defer srv.Close()

	c := marketdata.NewStooqClient(srv.URL, srv.Client())
	bars, err := c.DailyBars(context.Background(), "AAPL", wednesday.AddDate(0, 0, -7), wednesday)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	last := bars[1]
	if !last.Close.Equal(d(11.5)) || !last.Low.Equal(d(10)) || !last.High.Equal(d(12)) {
		t.Errorf("bar = low %s high %s close %s, want 10/12/11.5", last.Low, last.High, last.Close)
	}
	if last.Volume != 2000 {
		t.Errorf("volume = %d, want 2000", last.Volume)
	}
	// Bars are anchored mid-session in exchange local time.
	if got := last.Time.In(calendar.Eastern).Format("2006-01-02 15:04"); got != "2024-03-13 12:00" {
		t.Errorf("bar time = %s, want 2024-03-13 12:00 ET", got)
	}

	// Symbol remapped to the provider's convention.
	if want := "s=aapl.us"; !strings.Contains(gotQuery, want) {
		t.Errorf("query %q missing %q", gotQuery, want)
	}
}

func TestStooqDailyBars_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("No data\n"))
	}))
	defer srv.Close()

	c := marketdata.NewStooqClient(srv.URL, srv.Client())
	bars, err := c.DailyBars(context.Background(), "XXXX", wednesday, wednesday)
	if err != nil {
		t.Fatalf("no-data response must not error: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("expected no bars, got %d", len(bars))
	}
}

func TestChartDailyBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/AAPL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"regularMarketPrice":11.5},
			"timestamp":[1710216000,1710302400],
			"indicators":{"quote":[{
				"open":[10,10.5],
				"high":[11,12],
				"low":[9,10],
				"close":[10.5,11.5],
				"volume":[1000,2000]
			}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	c := marketdata.NewChartClient(srv.URL, srv.Client())
	bars, err := c.DailyBars(context.Background(), "AAPL", wednesday.AddDate(0, 0, -7), wednesday)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[1].Close.Equal(d(11.5)) {
		t.Errorf("close = %s, want 11.5", bars[1].Close)
	}
}

func TestChartDailyBars_SkipsPaddedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1710216000,1710302400],
			"indicators":{"quote":[{
				"open":[10,0],
				"high":[11,0],
				"low":[9,0],
				"close":[10.5,0],
				"volume":[1000,0]
			}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	c := marketdata.NewChartClient(srv.URL, srv.Client())
	bars, err := c.DailyBars(context.Background(), "AAPL", wednesday.AddDate(0, 0, -7), wednesday)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("padded zero row not skipped: %d bars", len(bars))
	}
}

func TestChartLastQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"regularMarketPrice":42.5,"regularMarketTime":1710361800},
			"timestamp":[],
			"indicators":{"quote":[{}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	c := marketdata.NewChartClient(srv.URL, srv.Client())
	bars, err := c.LastQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected a single-point bar, got %d", len(bars))
	}
	b := bars[0]
	if !b.Close.Equal(d(42.5)) || !b.Low.Equal(d(42.5)) || !b.High.Equal(d(42.5)) {
		t.Errorf("single-point bar = low %s high %s close %s, want all 42.5", b.Low, b.High, b.Close)
	}
}

func TestChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	c := marketdata.NewChartClient(srv.URL, srv.Client())
	if _, err := c.DailyBars(context.Background(), "NOPE", wednesday, wednesday); err == nil {
		t.Fatal("provider error not surfaced")
	}
}
