package rpc

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	otelMetricsOnce sync.Once
	sharedOTel      *otelRequestMetrics
)

// otelRequestMetrics mirrors the Prometheus request counters onto the global
// OpenTelemetry meter so OTLP exports carry them too.
type otelRequestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func requestMetrics() *otelRequestMetrics {
	otelMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("htlcchain/rpc")
		requests, err := meter.Int64Counter("htlc.rpc.requests",
			metric.WithDescription("JSON-RPC requests by method and status."))
		if err != nil {
			requests, _ = noop.NewMeterProvider().Meter("htlcchain/rpc").Int64Counter("htlc.rpc.requests")
		}
		latency, err := meter.Float64Histogram("htlc.rpc.duration",
			metric.WithUnit("s"),
			metric.WithDescription("JSON-RPC handler latency."))
		if err != nil {
			latency, _ = noop.NewMeterProvider().Meter("htlcchain/rpc").Float64Histogram("htlc.rpc.duration")
		}
		sharedOTel = &otelRequestMetrics{requests: requests, latency: latency}
	})
	return sharedOTel
}

func (m *otelRequestMetrics) record(ctx context.Context, method string, status int, seconds float64) {
	if m == nil || m.requests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("http.status_code", strconv.Itoa(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, seconds, metric.WithAttributes(attribute.String("rpc.method", method)))
}
