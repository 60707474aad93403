package observability

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %s not registered", name)
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestHTLCMetricsCountOutcomes(t *testing.T) {
	m := HTLC()
	before := testutil.ToFloat64(m.operations.WithLabelValues("redeem", "ok"))
	m.Observe(" redeem ", "", time.Millisecond)
	m.Observe("redeem", "secret_mismatch", 0)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("redeem", "ok")); got != before+1 {
		t.Fatalf("ok counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("redeem", "secret_mismatch")); got < 1 {
		t.Fatalf("mismatch counter = %v", got)
	}
}

func TestEscrowedGaugeClampsHugeValues(t *testing.T) {
	m := HTLC()
	m.SetEscrowed(big.NewInt(1234))
	if got := testutil.ToFloat64(m.escrowed); got != 1234 {
		t.Fatalf("gauge = %v, want 1234", got)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	m.SetEscrowed(huge)
	if got := testutil.ToFloat64(m.escrowed); got <= 0 {
		t.Fatalf("gauge = %v, want clamped positive value", got)
	}
	m.SetEscrowed(nil)
}

func TestRPCMetricsLabels(t *testing.T) {
	m := RPC()
	before := testutil.ToFloat64(m.requests.WithLabelValues("unknown", "404"))
	m.Observe("", http.StatusNotFound, time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unknown", "404")); got != before+1 {
		t.Fatalf("requests = %v, want %v", got, before+1)
	}
	m.RecordThrottle("")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("throttles = %v", got)
	}

	var nilMetrics *rpcMetrics
	nilMetrics.Observe("x", 200, time.Second)
	nilMetrics.RecordThrottle("x")
}

func TestExportedFamiliesCarryObservations(t *testing.T) {
	RPC().Observe("htlc_events", http.StatusOK, 3*time.Millisecond)
	HTLC().SetEscrowed(big.NewInt(77))

	var histogram *dto.Histogram
	for _, metric := range gatherFamily(t, "htlc_rpc_request_duration_seconds").Metric {
		if labelValue(metric, "method") == "htlc_events" {
			histogram = metric.GetHistogram()
		}
	}
	if histogram == nil || histogram.GetSampleCount() < 1 {
		t.Fatalf("latency histogram for htlc_events missing or empty: %v", histogram)
	}

	gauge := gatherFamily(t, "htlc_engine_escrowed_tokens")
	if len(gauge.Metric) == 0 || gauge.Metric[0].GetGauge().GetValue() != 77 {
		t.Fatalf("escrowed gauge = %v, want 77", gauge.Metric)
	}
	HTLC().SetEscrowed(nil)
}
