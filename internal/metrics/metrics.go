// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TradesTotal counts executed trades, partitioned by type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeRejections counts trades rejected by business rules.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected by validation or sufficiency checks",
	}, []string{"reason"})

	// FeedTicksTotal counts price ticks received from the exchange feed.
	FeedTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_ticks_total",
		Help: "Price ticks received from the exchange feed",
	})

	// FeedTicksDropped counts ticks for unmapped pairs.
	FeedTicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_ticks_dropped_total",
		Help: "Ticks dropped because the pair has no symbol mapping",
	})

	// PriceUpdatesTotal counts accepted price changes (after dedup).
	PriceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_price_updates_total",
		Help: "Price changes applied to the cache and broadcast",
	})

	// FeedReconnects counts reconnect attempts to the exchange feed.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_reconnects_total",
		Help: "Reconnect attempts to the exchange feed",
	})

	// FeedPersistFailures counts best-effort price persists that failed.
	FeedPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_persist_failures_total",
		Help: "Price persistence writes that failed (feed keeps flowing)",
	})

	// WebSocketClients tracks connected broadcast subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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
