package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTracerWithoutProviderIsNoop(t *testing.T) {
	tracer := GetTracer("test")
	require.NotNil(t, tracer)
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLLMCall("fast-1", 100*time.Millisecond, 100, 40, 20, nil)
	m.RecordLLMCall("fast-1", 100*time.Millisecond, 10, 0, 0, assert.AnError)
	m.RecordToolCall("search", "success", 10*time.Millisecond)
	m.RecordTurn("manual", "completed", time.Second)
	m.RecordRateLimited()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("fast-1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("fast-1", "error")))
	assert.Equal(t, 110.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("fast-1", "fresh")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("fast-1", "cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("manual", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
}

func TestGlobalMetrics(t *testing.T) {
	assert.Nil(t, GetGlobalMetrics())
	m := NewMetrics(prometheus.NewRegistry())
	SetGlobalMetrics(m)
	t.Cleanup(func() { SetGlobalMetrics(nil) })
	assert.Equal(t, m, GetGlobalMetrics())
}
