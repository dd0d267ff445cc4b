// Package routing implements the orchestrator mode's manager protocol: a
// JSON-emitting LLM decides which specialists act each round, whether another
// round is worth running, and how to consolidate specialist outputs.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/atriumhq/atrium/pkg/invoker"
	"github.com/atriumhq/atrium/pkg/llm"
)

const (
	routeMaxTokens    = 256
	maxAssignments    = 3
	synthesisSentinel = "[[manager_synthesis_error]]"
)

// allWordRe matches "all " as a standalone word, so "recall" or "ballpark"
// never trigger the broadcast shortcut.
var allWordRe = regexp.MustCompile(`\ball `)

// Assignment is one routed specialist with an optional manager instruction.
type Assignment struct {
	Agent       invoker.AgentProfile
	Instruction string
}

// AgentOutput is a specialist's completed response from a prior round.
type AgentOutput struct {
	AgentKey  string
	AgentName string
	Text      string
}

// Config selects the manager model.
type Config struct {
	ManagerAlias string
}

// Manager makes routing decisions through the gateway.
type Manager struct {
	gateway llm.Gateway
	catalog *llm.Catalog
	config  Config
	logger  *slog.Logger
}

func NewManager(gateway llm.Gateway, catalog *llm.Catalog, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{gateway: gateway, catalog: catalog, config: cfg, logger: logger}
}

// routeDecision is the routing output shape presented to the manager model
// as a strict schema.
type routeDecision struct {
	Assignments []routeAssignment `json:"assignments"`
}

type routeAssignment struct {
	AgentKey    string `json:"agent_key"`
	Instruction string `json:"instruction"`
}

type roundDecision struct {
	Continue bool `json:"continue"`
}

// decisionSchema reflects a decision struct into an inline JSON schema for
// strict structured output.
func decisionSchema(v interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	return out
}

// managerCall runs one manager request, recording usage with a nil agent id.
func (m *Manager) managerCall(ctx context.Context, system, user string, maxTokens int, schema *llm.ResponseSchema, rec *invoker.Recorder) (string, error) {
	spec := m.catalog.Resolve(m.config.ManagerAlias)
	resp, err := m.gateway.Generate(ctx, llm.Request{
		ModelAlias:      m.config.ManagerAlias,
		ProviderModel:   spec.ProviderModel,
		MaxOutputTokens: maxTokens,
		ResponseSchema:  schema,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	rec.AddUsage(nil, m.config.ManagerAlias, resp.ProviderModel, resp.Usage)
	return resp.Text, nil
}

func agentRoster(agents []invoker.AgentProfile) string {
	var b strings.Builder
	for _, a := range agents {
		tools := "none"
		if len(a.ToolPermissions) > 0 {
			tools = strings.Join(a.ToolPermissions, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s (tools: %s)\n", a.Key, a.RolePrompt, tools)
	}
	return b.String()
}

// Route selects up to three specialists for the current round. priorOutputs
// is nil on round 1. A nil/empty return after round 1 signals stop; on round
// 1 routing always yields at least one agent.
func (m *Manager) Route(ctx context.Context, agents []invoker.AgentProfile, userInput string, priorOutputs []AgentOutput, rec *invoker.Recorder) []Assignment {
	if len(agents) == 0 {
		return nil
	}
	firstRound := len(priorOutputs) == 0

	// Explicit shortcut: a round-1 request mentioning the word "all" with at
	// least two agents goes to every agent in room order.
	if firstRound && len(agents) >= 2 && allWordRe.MatchString(strings.ToLower(userInput)) {
		out := make([]Assignment, len(agents))
		for i, a := range agents {
			out[i] = Assignment{Agent: a}
		}
		return out
	}

	var sb strings.Builder
	sb.WriteString("You are the routing manager of a multi-agent room. Available agents:\n")
	sb.WriteString(agentRoster(agents))
	sb.WriteString("\nPick up to 3 agents for this round. Select all that apply in one round rather than sequencing. ")
	sb.WriteString("Avoid re-picking agents that already responded unless they must react to new output. ")
	sb.WriteString(`Respond with JSON: {"assignments": [{"agent_key": "...", "instruction": "..."}]}. An empty list means no further work is needed.`)
	if !firstRound {
		sb.WriteString("\n\nSpecialist outputs so far:\n")
		for _, o := range priorOutputs {
			fmt.Fprintf(&sb, "[%s]: %s\n", o.AgentKey, o.Text)
		}
	}

	schema := &llm.ResponseSchema{Name: "routing_decision", Schema: decisionSchema(&routeDecision{})}
	text, err := m.managerCall(ctx, sb.String(), userInput, routeMaxTokens, schema, rec)
	if err != nil {
		m.logger.Warn("routing call failed", "error", err)
		return m.routeFallback(agents, firstRound)
	}

	assignments := m.parseAssignments(text, agents)
	if len(assignments) == 0 {
		if firstRound {
			return m.routeFallback(agents, true)
		}
		return nil
	}
	return assignments
}

func (m *Manager) routeFallback(agents []invoker.AgentProfile, firstRound bool) []Assignment {
	if !firstRound {
		return nil
	}
	return []Assignment{{Agent: agents[0]}}
}

// parseAssignments accepts the current shape and two legacy ones, resolves
// keys case-insensitively, de-duplicates preserving first occurrence, and
// caps at three.
func (m *Manager) parseAssignments(text string, agents []invoker.AgentProfile) []Assignment {
	byKey := make(map[string]invoker.AgentProfile, len(agents))
	for _, a := range agents {
		byKey[strings.ToLower(a.Key)] = a
	}

	var parsed struct {
		routeDecision
		SelectedAgentKeys []string `json:"selected_agent_keys"`
		SelectedAgentKey  string   `json:"selected_agent_key"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &parsed); err != nil {
		m.logger.Warn("routing response unparseable", "error", err)
		return nil
	}

	type candidate struct {
		key         string
		instruction string
	}
	var candidates []candidate
	for _, a := range parsed.Assignments {
		candidates = append(candidates, candidate{key: a.AgentKey, instruction: a.Instruction})
	}
	for _, k := range parsed.SelectedAgentKeys {
		candidates = append(candidates, candidate{key: k})
	}
	if parsed.SelectedAgentKey != "" {
		candidates = append(candidates, candidate{key: parsed.SelectedAgentKey})
	}

	var out []Assignment
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.key))
		if key == "" || seen[key] {
			continue
		}
		agent, ok := byKey[key]
		if !ok {
			continue
		}
		seen[key] = true
		out = append(out, Assignment{Agent: agent, Instruction: c.instruction})
		if len(out) == maxAssignments {
			break
		}
	}
	return out
}

// EvaluateRound asks the manager whether another round is worthwhile. Any
// failure means stop.
func (m *Manager) EvaluateRound(ctx context.Context, userInput string, outputs []AgentOutput, round int, rec *invoker.Recorder) bool {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Round %d of a multi-agent collaboration just finished. Original request and specialist outputs follow. ", round)
	sb.WriteString(`Decide whether another round would materially improve the answer. Respond with JSON: {"continue": true|false}.`)

	var user strings.Builder
	fmt.Fprintf(&user, "Request: %s\n\nOutputs:\n", userInput)
	for _, o := range outputs {
		fmt.Fprintf(&user, "[%s]: %s\n", o.AgentKey, o.Text)
	}

	schema := &llm.ResponseSchema{Name: "round_decision", Schema: decisionSchema(&roundDecision{})}
	text, err := m.managerCall(ctx, sb.String(), user.String(), routeMaxTokens, schema, rec)
	if err != nil {
		m.logger.Warn("round evaluation failed, stopping", "error", err)
		return false
	}

	var parsed roundDecision
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &parsed); err != nil {
		m.logger.Warn("round evaluation unparseable, stopping")
		return false
	}
	return parsed.Continue
}

// Synthesize consolidates specialist outputs into one response. Failures
// yield sentinel text so the turn can degrade to partial instead of failing.
func (m *Manager) Synthesize(ctx context.Context, userInput string, outputs []AgentOutput, maxOutputTokens int, rec *invoker.Recorder) (string, bool) {
	system := "Consolidate the specialist responses below into a single coherent answer to the user's request. " +
		"Do not introduce new information; only merge, de-duplicate and order what the specialists produced."

	var user strings.Builder
	fmt.Fprintf(&user, "Request: %s\n\nSpecialist responses:\n", userInput)
	for _, o := range outputs {
		fmt.Fprintf(&user, "[%s]: %s\n\n", o.AgentName, o.Text)
	}

	text, err := m.managerCall(ctx, system, user.String(), maxOutputTokens, nil, rec)
	if err != nil {
		m.logger.Error("synthesis failed", "error", err)
		return fmt.Sprintf("%s type=%T message=%v", synthesisSentinel, err, err), false
	}
	return text, true
}
