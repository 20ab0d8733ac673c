// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades rejected by validation or business rules.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trade_rejections_total",
		Help: "Trades rejected before any mutation",
	}, []string{"reason"})

	// StopLossLiquidations counts automatic stop-loss exits.
	StopLossLiquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_stop_loss_liquidations_total",
		Help: "Positions liquidated by the stop-loss sweep",
	})

	// EndOfDayRuns counts end-of-day processing runs by mode and outcome.
	EndOfDayRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_eod_runs_total",
		Help: "End-of-day processing runs",
	}, []string{"mode", "result"})

	// EndOfDayDuration tracks end-of-day run duration.
	EndOfDayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_eod_duration_seconds",
		Help:    "End-of-day run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PriceResolutions counts successful price resolutions by chain stage
	// and result tag.
	PriceResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_resolutions_total",
		Help: "Prices resolved from a market data source",
	}, []string{"stage", "source"})

	// PriceFallbacks counts resolutions that exhausted every market data
	// source and degraded to a fallback price.
	PriceFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_fallbacks_total",
		Help: "Price resolutions that fell back to a non-market price",
	}, []string{"source"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
