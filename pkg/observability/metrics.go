package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	llmCalls     *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atrium_llm_calls_total",
			Help: "LLM calls by model alias and status.",
		}, []string{"model", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atrium_llm_tokens_total",
			Help: "LLM tokens by model alias and kind (fresh, cached, output).",
		}, []string{"model", "kind"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atrium_llm_call_duration_seconds",
			Help:    "LLM call latency by model alias.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atrium_tool_calls_total",
			Help: "Tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atrium_tool_call_duration_seconds",
			Help:    "Tool execution latency by tool name.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tool"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atrium_turns_total",
			Help: "Executed turns by mode and status.",
		}, []string{"mode", "status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atrium_turn_duration_seconds",
			Help:    "End-to-end turn latency by mode.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"mode"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atrium_rate_limited_total",
			Help: "Turn requests rejected by the rate gate.",
		}),
	}

	reg.MustRegister(m.llmCalls, m.llmTokens, m.llmDuration,
		m.toolCalls, m.toolDuration, m.turns, m.turnDuration, m.rateLimited)
	return m
}

func (m *Metrics) RecordLLMCall(model string, duration time.Duration, fresh, cached, output int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCalls.WithLabelValues(model, status).Inc()
	m.llmDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.llmTokens.WithLabelValues(model, "fresh").Add(float64(fresh))
	m.llmTokens.WithLabelValues(model, "cached").Add(float64(cached))
	m.llmTokens.WithLabelValues(model, "output").Add(float64(output))
}

func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (m *Metrics) RecordTurn(mode, status string, duration time.Duration) {
	m.turns.WithLabelValues(mode, status).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed metrics, nil when none is set.
// Callers nil-check, matching the tracer's no-op convention.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}
