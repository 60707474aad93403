package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type htlcMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	escrowed   prometheus.Gauge
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	htlcMetricsOnce sync.Once
	htlcRegistry    *htlcMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// HTLC returns the lazily-initialised registry tracking escrow engine
// activity.
func HTLC() *htlcMetrics {
	htlcMetricsOnce.Do(func() {
		htlcRegistry = &htlcMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "htlc",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Escrow engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "htlc",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			escrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "htlc",
				Subsystem: "engine",
				Name:      "escrowed_tokens",
				Help:      "Token balance currently held in escrow custody.",
			}),
		}
		prometheus.MustRegister(
			htlcRegistry.operations,
			htlcRegistry.latency,
			htlcRegistry.escrowed,
		)
	})
	return htlcRegistry
}

// Observe records an engine operation outcome. An empty outcome counts as
// "ok".
func (m *htlcMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// SetEscrowed publishes the custody balance. Values beyond float64 range are
// clamped.
func (m *htlcMetrics) SetEscrowed(amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	if math.IsInf(f, 0) {
		f = math.MaxFloat64
	}
	m.escrowed.Set(f)
}

// RPC returns the registry recording JSON-RPC request activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "htlc",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "htlc",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "htlc",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting or authentication.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records a handled request. The status code should be the HTTP status
// that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// RecordThrottle counts a request rejected before reaching a handler.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unknown"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
