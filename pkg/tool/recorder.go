package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/pkg/observability"
)

// Telemetry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Telemetry is one tool execution's audit record, persisted with the turn.
type Telemetry struct {
	ToolCallID string
	Name       string
	InputJSON  string
	OutputJSON string
	Status     string
	LatencyMS  int64
}

// Run executes a tool call end to end: parses the raw JSON arguments the
// model produced, executes, and captures telemetry. It never returns an
// error; failures become unsuccessful results the model sees as tool output.
func Run(ctx context.Context, t Tool, toolCallID, argsJSON string) (ToolResult, Telemetry) {
	name := t.GetInfo().Name
	startTime := time.Now()

	tracer := observability.GetTracer("atrium.tool")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecute,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	result := execute(ctx, t, argsJSON)
	latency := time.Since(startTime)

	status := StatusSuccess
	if !result.Success {
		status = StatusError
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolCall(name, status, latency)
	}

	payload := result.Audit
	if payload == nil {
		if result.Success {
			payload = map[string]interface{}{}
		} else {
			payload = map[string]interface{}{"error": result.Error}
		}
	}
	outputJSON, err := json.Marshal(payload)
	if err != nil {
		outputJSON = []byte(`{"error":"unserializable tool result"}`)
	}

	return result, Telemetry{
		ToolCallID: toolCallID,
		Name:       name,
		InputJSON:  argsJSON,
		OutputJSON: string(outputJSON),
		Status:     status,
		LatencyMS:  latency.Milliseconds(),
	}
}

func execute(ctx context.Context, t Tool, argsJSON string) ToolResult {
	args := make(map[string]interface{})
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return errorResult(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return errorResult(fmt.Sprintf("tool execution failed: %v", err))
	}
	return result
}
