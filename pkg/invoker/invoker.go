// Package invoker executes a single agent against the model gateway: the
// tool-calling loop for tool-capable agents, token streaming for plain ones,
// and the usage/tool-telemetry accounting both paths share.
package invoker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/tool"
)

// maxIterations bounds the tool loop per invocation.
const maxIterations = 4

// AgentProfile is the slice of an agent the pipeline needs at execution time.
type AgentProfile struct {
	ID              string
	Key             string
	Name            string
	ModelAlias      string
	RolePrompt      string
	ToolPermissions []string
}

// Event kinds delivered to a sink during a streamed turn.
const (
	EventRoundStart = "round_start"
	EventRoundEnd   = "round_end"
	EventChunk      = "chunk"
	EventToolStart  = "tool_start"
	EventToolEnd    = "tool_end"
)

// Event is one streaming occurrence. The transport shape is the caller's
// concern; the pipeline only defines the kinds and payloads.
type Event struct {
	Kind     string
	AgentKey string
	Text     string
	ToolName string
	Round    int
}

// EventSink receives streaming events in production order.
type EventSink interface {
	Emit(Event)
}

// UsageEntry is one gateway call's metered usage, attributed to an agent (nil
// AgentID for manager calls).
type UsageEntry struct {
	AgentID       *string
	ModelAlias    string
	ProviderModel string
	Usage         llm.Usage
}

// ToolTrace is one tool execution attributed to the agent that requested it.
type ToolTrace struct {
	AgentKey string
	tool.Telemetry
}

// Recorder accumulates the usage entries and tool traces of one turn, in
// production order.
type Recorder struct {
	usages []UsageEntry
	tools  []ToolTrace
}

func (r *Recorder) AddUsage(agentID *string, modelAlias, providerModel string, usage llm.Usage) {
	r.usages = append(r.usages, UsageEntry{
		AgentID:       agentID,
		ModelAlias:    modelAlias,
		ProviderModel: providerModel,
		Usage:         usage,
	})
}

func (r *Recorder) AddTool(agentKey string, telemetry tool.Telemetry) {
	r.tools = append(r.tools, ToolTrace{AgentKey: agentKey, Telemetry: telemetry})
}

func (r *Recorder) Usages() []UsageEntry { return r.usages }
func (r *Recorder) Tools() []ToolTrace   { return r.tools }

// Sentinel returns the error text that stands in for a failed agent call.
func Sentinel(err error) string {
	return fmt.Sprintf("[[agent_error]] type=%T message=%v", err, err)
}

// Invoker runs agents. It is shared across turns; per-turn state lives in the
// Recorder.
type Invoker struct {
	gateway  llm.Gateway
	catalog  *llm.Catalog
	registry *tool.Registry
	logger   *slog.Logger
}

func New(gateway llm.Gateway, catalog *llm.Catalog, registry *tool.Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{gateway: gateway, catalog: catalog, registry: registry, logger: logger}
}

// Invoke runs one agent over the prepared base messages. It returns the
// agent's final text and whether the invocation succeeded; failures come back
// as sentinel text, never as an error. Usage and tool telemetry accumulate on
// rec.
//
// The streaming path is taken only for agents with no tool permissions and a
// sink to stream to; tool-capable agents run the non-streaming loop and emit
// their final text as a single chunk.
func (iv *Invoker) Invoke(ctx context.Context, agent AgentProfile, base []llm.Message, maxOutputTokens int, sink EventSink, rec *Recorder) (string, bool) {
	spec := iv.catalog.Resolve(agent.ModelAlias)

	tools := iv.registry.ForPermissions(agent.ToolPermissions)
	if len(tools) == 0 && sink != nil {
		return iv.invokeStreaming(ctx, agent, spec, base, maxOutputTokens, sink, rec)
	}
	return iv.invokeWithTools(ctx, agent, spec, base, maxOutputTokens, tools, sink, rec)
}

func (iv *Invoker) fail(agent AgentProfile, sink EventSink, err error) (string, bool) {
	iv.logger.Error("agent invocation failed", "agent", agent.Key, "error", err)
	sentinel := Sentinel(err)
	if sink != nil {
		sink.Emit(Event{Kind: EventChunk, AgentKey: agent.Key, Text: sentinel})
	}
	return sentinel, false
}

func (iv *Invoker) invokeWithTools(ctx context.Context, agent AgentProfile, spec llm.ModelSpec, base []llm.Message, maxOutputTokens int, tools []tool.Tool, sink EventSink, rec *Recorder) (string, bool) {
	byName := make(map[string]tool.Tool, len(tools))
	var defs []llm.ToolDefinition
	for _, t := range tools {
		info := t.GetInfo()
		byName[info.Name] = t
		defs = append(defs, llm.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.Parameters,
		})
	}

	messages := make([]llm.Message, len(base))
	copy(messages, base)

	var agentID *string
	if agent.ID != "" {
		id := agent.ID
		agentID = &id
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := iv.gateway.Generate(ctx, llm.Request{
			ModelAlias:      agent.ModelAlias,
			ProviderModel:   spec.ProviderModel,
			Messages:        messages,
			Tools:           defs,
			MaxOutputTokens: maxOutputTokens,
		})
		if err != nil {
			return iv.fail(agent, sink, err)
		}
		rec.AddUsage(agentID, agent.ModelAlias, resp.ProviderModel, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			if sink != nil {
				sink.Emit(Event{Kind: EventChunk, AgentKey: agent.Key, Text: agent.Name + ": " + resp.Text})
			}
			return resp.Text, true
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if sink != nil {
				sink.Emit(Event{Kind: EventToolStart, AgentKey: agent.Key, ToolName: call.Name})
			}

			var content string
			if t, ok := byName[call.Name]; ok {
				result, telemetry := tool.Run(ctx, t, call.ID, call.Arguments)
				rec.AddTool(agent.Key, telemetry)
				if result.Success {
					content = result.Content
				} else {
					content = result.Error
				}
			} else {
				content = fmt.Sprintf("Unknown tool: %s", call.Name)
				rec.AddTool(agent.Key, tool.Telemetry{
					ToolCallID: call.ID,
					Name:       call.Name,
					InputJSON:  call.Arguments,
					OutputJSON: fmt.Sprintf(`{"error":"unknown tool %s"}`, call.Name),
					Status:     tool.StatusError,
				})
			}

			if sink != nil {
				sink.Emit(Event{Kind: EventToolEnd, AgentKey: agent.Key, ToolName: call.Name})
			}

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	text := fmt.Sprintf("Agent iteration limit exceeded after %d iterations", maxIterations)
	if sink != nil {
		sink.Emit(Event{Kind: EventChunk, AgentKey: agent.Key, Text: text})
	}
	return text, false
}

func (iv *Invoker) invokeStreaming(ctx context.Context, agent AgentProfile, spec llm.ModelSpec, base []llm.Message, maxOutputTokens int, sink EventSink, rec *Recorder) (string, bool) {
	ch, err := iv.gateway.GenerateStream(ctx, llm.Request{
		ModelAlias:      agent.ModelAlias,
		ProviderModel:   spec.ProviderModel,
		Messages:        base,
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return iv.fail(agent, sink, err)
	}

	var agentID *string
	if agent.ID != "" {
		id := agent.ID
		agentID = &id
	}

	var text string
	prefixSent := false
	for chunk := range ch {
		switch chunk.Type {
		case llm.ChunkText:
			if !prefixSent {
				sink.Emit(Event{Kind: EventChunk, AgentKey: agent.Key, Text: agent.Name + ": "})
				prefixSent = true
			}
			text += chunk.Text
			sink.Emit(Event{Kind: EventChunk, AgentKey: agent.Key, Text: chunk.Text})
		case llm.ChunkUsage:
			rec.AddUsage(agentID, agent.ModelAlias, chunk.ProviderModel, *chunk.Usage)
		case llm.ChunkError:
			return iv.fail(agent, sink, chunk.Err)
		}
	}
	return text, true
}
