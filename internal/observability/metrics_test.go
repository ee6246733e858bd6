package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ApiInflightInc()
	m.ApiInflightDec()
	m.ObserveLLMRequest("m", "/v1/responses", "200", time.Second, 1, 2)
	m.ObservePhase("research", "complete", time.Second)
	m.ObserveCallOutcome("research", "R1", "success")
	m.ObserveRun("complete", time.Minute)
	m.ObserveLedger("debit", "ok")
	m.RegisterActiveSessions(func() float64 { return 1 })
	require.Nil(t, m.Registry())
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := New()
	m.ObserveAPI("POST", "/api/analyze", "200", 20*time.Millisecond)
	m.ObserveLedger("debit", "ok")
	m.ObserveLedger("debit", "ok")
	m.ObserveLedger("refund", "duplicate")
	m.ObserveLLMRequest("gpt-test", "/v1/responses", "200", time.Second, 100, 50)

	require.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("debit", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("refund", "duplicate")))
	require.Equal(t, 100.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("gpt-test", "input")))

	active := 3.0
	m.RegisterActiveSessions(func() float64 { return active })
	m.RegisterActiveSessions(func() float64 { return -1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(body, "arfor_sessions_active 3"), body)
	require.Contains(t, body, `arfor_api_requests_total{method="POST",route="/api/analyze",status="200"} 1`)
}

func TestOtelEnvParsing(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "7")
	require.Equal(t, 1.0, otelSampleRatio())
	t.Setenv("OTEL_SAMPLER_RATIO", "bogus")
	require.Equal(t, 0.1, otelSampleRatio())

	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=abc, bad ,x=")
	require.Equal(t, map[string]string{"api-key": "abc"}, otelHeaders())

	t.Setenv("OTEL_ENABLED", "on")
	require.True(t, otelEnabled())
}
