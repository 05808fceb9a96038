// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// PositionsOpened counts positions opened, partitioned by bet type.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betstream_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"bet_type"})

	// Closes counts committed closes by kind (partial, full, cancel).
	Closes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betstream_position_closes_total",
		Help: "Total number of committed position closes",
	}, []string{"kind"})

	// RealizedProfitLoss observes the P&L realized by each close.
	RealizedProfitLoss = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betstream_realized_profit_loss",
		Help:    "Profit or loss realized per close",
		Buckets: []float64{-10000, -1000, -100, -10, 0, 10, 100, 1000, 10000},
	})

	// StaleSettlements counts settlements skipped because the position had
	// already moved on.
	StaleSettlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betstream_stale_settlements_total",
		Help: "Settlements skipped because the position was already closed",
	})

	// LimitRejections counts opens rejected by the exposure limiter.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betstream_limit_rejections_total",
		Help: "Positions rejected by exposure limits",
	}, []string{"reason"})

	// GradingRuns counts grading job runs by outcome.
	GradingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betstream_grading_runs_total",
		Help: "Grading job runs",
	}, []string{"outcome"})

	// GradingDuration tracks how long each grading run takes.
	GradingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betstream_grading_duration_seconds",
		Help:    "Grading run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betstream_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betstream_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betstream_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
