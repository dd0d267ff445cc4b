// Package observability centralizes tracing and metrics for the turn
// pipeline. Tracers come from the globally configured OpenTelemetry provider;
// metrics are Prometheus collectors exposed on /metrics.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanTurnExecute = "turn.execute"
	SpanLLMRequest  = "llm.request"
	SpanToolExecute = "tool.execute"
	SpanPlanContext = "planner.prepare"
)

// Common attribute keys.
const (
	AttrModelAlias    = "llm.model_alias"
	AttrProviderModel = "llm.provider_model"
	AttrTokensInput   = "llm.tokens.input"
	AttrTokensOutput  = "llm.tokens.output"
	AttrTurnMode      = "turn.mode"
	AttrToolName      = "tool.name"
)

// GetTracer returns a named tracer from the global provider. With no provider
// configured this is a no-op tracer, so call sites never need nil checks.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
