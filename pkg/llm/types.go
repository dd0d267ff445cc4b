// Package llm is the model gateway: a provider-neutral request/response
// surface over OpenAI-compatible chat-completion APIs, plus the alias catalog
// that maps model aliases to provider models and context limits.
package llm

import (
	"context"
	"errors"
)

// Message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stream chunk types.
const (
	ChunkText     = "text"
	ChunkThinking = "thinking"
	ChunkToolCall = "tool_call"
	ChunkUsage    = "usage"
	ChunkDone     = "done"
	ChunkError    = "error"
)

var ErrNoChoices = errors.New("no response choices returned")

// Message is one chat message in a request.
type Message struct {
	Role       string
	Content    string
	ToolCallID string     // set on tool-result messages
	ToolCalls  []ToolCall // set on assistant messages that requested tools
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// string as the provider produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ResponseSchema requests strict JSON output matching a schema.
type ResponseSchema struct {
	Name   string
	Schema map[string]interface{}
}

// Request is one model call.
type Request struct {
	ModelAlias      string // for logs and metering
	ProviderModel   string // the provider's model identifier
	Messages        []Message
	Tools           []ToolDefinition
	ResponseSchema  *ResponseSchema
	MaxOutputTokens int
	Temperature     *float64
	Stop            []string // optional stop sequences
}

// Usage is the provider-reported token accounting for one call. Fresh and
// cached prompt tokens are split because they are billed at different
// weights.
type Usage struct {
	FreshTokens  int
	CachedTokens int
	OutputTokens int
	TotalTokens  int
	Estimated    bool // true when the provider reported nothing and we estimated
}

// Response is a completed (non-streaming) model call.
type Response struct {
	Text          string
	Thinking      string
	ToolCalls     []ToolCall
	ProviderModel string
	Usage         Usage
}

// Chunk is one streaming event. Usage and ProviderModel arrive once, on the
// ChunkUsage event, after content ends.
type Chunk struct {
	Type          string
	Text          string
	ToolCall      *ToolCall
	Usage         *Usage
	ProviderModel string
	Err           error
}

// Gateway is the provider interface the turn pipeline calls.
type Gateway interface {
	Provider() string
	Generate(ctx context.Context, req Request) (*Response, error)
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
