// Package tool defines the agent-callable tool surface and its built-in
// implementations. Tools are granted per-agent; an agent only ever sees the
// tools its permission list names.
package tool

import (
	"context"
)

// Built-in tool names, used in agent permission lists.
const (
	NameSearch   = "search"
	NameFileRead = "file_read"
)

// ToolInfo describes a tool to the model. Parameters is a JSON schema
// (type object) in the chat-completions function-calling form.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolResult is the outcome of one execution. Execute returns an error only
// for infrastructure failures; tool-level failures (bad input, missing file)
// come back as Success=false with Error set, so the model can react to them.
//
// Audit is the compact payload persisted as the call's output telemetry,
// separate from the model-visible Content. Tools set it on success (search
// reports {"result_count": n}); when nil, failures persist {"error": ...}
// and successes an empty object.
type ToolResult struct {
	Success bool                   `json:"success"`
	Content string                 `json:"content,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Audit   map[string]interface{} `json:"-"`
}

type Tool interface {
	GetInfo() ToolInfo
	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)
}

func errorResult(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}
