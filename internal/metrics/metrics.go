// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockleague_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeRejections counts trades refused before any mutation.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_trade_rejections_total",
		Help: "Trades rejected, by reason",
	}, []string{"reason"})

	// LedgerConsistencyFailures counts balance updates that changed nothing
	// after preconditions passed.
	LedgerConsistencyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockleague_ledger_consistency_failures_total",
		Help: "Atomic balance updates that failed unexpectedly",
	})

	AchievementsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_achievements_awarded_total",
		Help: "Achievements awarded, by key",
	}, []string{"key"})

	// RewardHookFailures counts best-effort reward hook errors.
	RewardHookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_reward_hook_failures_total",
		Help: "Failed trophy, badge or credit reward calls",
	}, []string{"hook"})

	// QuoteUpdates counts ingested quotes by result (updated, failed).
	QuoteUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_quote_updates_total",
		Help: "Quote updates by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockleague_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockleague_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockleague_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so IDs in the URL do not
// explode cardinality. Unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
