package observability

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
	llmCost     *prometheus.CounterVec

	phaseDuration *prometheus.HistogramVec
	phaseOutcomes *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram

	ledgerOps *prometheus.CounterVec
	sseOpen   prometheus.Gauge

	activeOnce sync.Once
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

var (
	llmCostOnce           sync.Once
	llmCostInputPer1KUSD  float64
	llmCostOutputPer1KUSD float64
)

func llmCostRates() (float64, float64) {
	llmCostOnce.Do(func() {
		llmCostInputPer1KUSD = parseFloatEnv("LLM_COST_INPUT_PER_1K", 0)
		llmCostOutputPer1KUSD = parseFloatEnv("LLM_COST_OUTPUT_PER_1K", 0)
	})
	return llmCostInputPer1KUSD, llmCostOutputPer1KUSD
}

func parseFloatEnv(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// Init builds the process-wide metrics set once. It returns nil when
// METRICS_ENABLED is off; every method tolerates a nil receiver.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New returns an unregistered-globally metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arfor_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arfor_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_llm_requests_total",
			Help: "Model requests by model/endpoint/status.",
		}, []string{"model", "endpoint", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arfor_llm_request_duration_seconds",
			Help:    "Model request latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"model", "endpoint", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_llm_tokens_total",
			Help: "Model tokens by model/kind.",
		}, []string{"model", "kind"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_llm_cost_usd_total",
			Help: "Estimated model spend in USD by model/kind.",
		}, []string{"model", "kind"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arfor_pipeline_phase_duration_seconds",
			Help:    "Pipeline phase wall time by phase/status.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300, 600},
		}, []string{"phase", "status"}),
		phaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_pipeline_call_outcomes_total",
			Help: "Per-call outcomes by phase/unit/kind.",
		}, []string{"phase", "unit", "kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_analysis_runs_total",
			Help: "Finished analysis runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arfor_analysis_run_duration_seconds",
			Help:    "Analysis run wall time.",
			Buckets: []float64{30, 60, 120, 180, 240, 300, 420, 600},
		}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arfor_ledger_operations_total",
			Help: "Credit ledger operations by op/outcome.",
		}, []string{"op", "outcome"}),
		sseOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arfor_sse_open_streams",
			Help: "Open event streams.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.llmRequests, m.llmLatency, m.llmTokens, m.llmCost,
		m.phaseDuration, m.phaseOutcomes, m.runs, m.runDuration,
		m.ledgerOps, m.sseOpen,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterActiveSessions exposes a gauge read from fn at scrape time.
// Only the first registration takes effect.
func (m *Metrics) RegisterActiveSessions(fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	m.activeOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "arfor_sessions_active",
			Help: "Analysis sessions not yet terminal.",
		}, fn))
	})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) SSEOpen() {
	if m == nil {
		return
	}
	m.sseOpen.Inc()
}

func (m *Metrics) SSEClosed() {
	if m == nil {
		return
	}
	m.sseOpen.Dec()
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.llmRequests.WithLabelValues(model, endpoint, status).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(model, endpoint, status).Observe(dur.Seconds())
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	inputRate, outputRate := llmCostRates()
	if inputTokens > 0 && inputRate > 0 {
		m.llmCost.WithLabelValues(model, "input").Add((float64(inputTokens) / 1000.0) * inputRate)
	}
	if outputTokens > 0 && outputRate > 0 {
		m.llmCost.WithLabelValues(model, "output").Add((float64(outputTokens) / 1000.0) * outputRate)
	}
}

func (m *Metrics) ObservePhase(phase, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveCallOutcome(phase, unit, kind string) {
	if m == nil {
		return
	}
	m.phaseOutcomes.WithLabelValues(phase, unit, kind).Inc()
}

func (m *Metrics) ObserveRun(state string, dur time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
	if dur > 0 {
		m.runDuration.Observe(dur.Seconds())
	}
}

// ObserveLedger satisfies ledger.Observer.
func (m *Metrics) ObserveLedger(op, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}
