package turn

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/atriumhq/atrium/pkg/invoker"
	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/planner"
	"github.com/atriumhq/atrium/pkg/routing"
	"github.com/atriumhq/atrium/pkg/store"
)

// tagRe matches @<agent_key> tokens in user input.
var tagRe = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// modeOutcome is what a strategy hands back to persistence.
type modeOutcome struct {
	mode    string
	entries []outputEntry

	synthesis    string
	hasSynthesis bool
	synthesisOK  bool
}

// status derives the turn status from the per-invocation outcomes.
func (o *modeOutcome) status() string {
	okCount := 0
	for _, e := range o.entries {
		if e.ok {
			okCount++
		}
	}
	if okCount == 0 {
		return store.TurnFailed
	}
	if okCount < len(o.entries) || (o.hasSynthesis && !o.synthesisOK) {
		return store.TurnPartial
	}
	return store.TurnCompleted
}

// assistantOutput renders the visible answer. A single plain invocation
// returns its text verbatim; multi-agent turns prefix each contribution with
// the agent name, and orchestrator turns close with the manager's synthesis.
func (o *modeOutcome) assistantOutput() string {
	if len(o.entries) == 1 && o.mode != store.ModeOrchestrator {
		return o.entries[0].text
	}
	parts := make([]string, 0, len(o.entries))
	for _, e := range o.entries {
		parts = append(parts, fmt.Sprintf("%s: %s", e.agent.Name, e.text))
	}
	out := strings.Join(parts, "\n\n")
	if o.hasSynthesis {
		out += "\n\n---\n\n" + o.synthesis
	}
	return out
}

// modelAliasUsed follows the audit convention: "roundtable" for roundtable
// turns, "multi-agent" for orchestrator turns with more than one specialist,
// otherwise the first invoked agent's alias.
func (o *modeOutcome) modelAliasUsed() string {
	switch {
	case o.mode == store.ModeRoundtable:
		return "roundtable"
	case o.mode == store.ModeOrchestrator && len(o.entries) > 1:
		return "multi-agent"
	case len(o.entries) > 0:
		return o.entries[0].agent.ModelAlias
	default:
		return ""
	}
}

func (c *Coordinator) runMode(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder) (*modeOutcome, error) {
	switch sc.mode {
	case store.ModeStandalone:
		return c.runStandalone(ctx, req, sc, prep, rec)
	case store.ModeManual, store.ModeTag:
		return c.runTagged(ctx, req, sc, prep, rec)
	case store.ModeRoundtable:
		return c.runRoundtable(ctx, req, sc, prep, rec)
	case store.ModeOrchestrator:
		return c.runOrchestrator(ctx, req, sc, prep, rec)
	default:
		return nil, fmt.Errorf("unknown conversation mode %q", sc.mode)
	}
}

func (c *Coordinator) runStandalone(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder) (*modeOutcome, error) {
	agent := sc.active[0]
	text, ok := c.deps.Invoker.Invoke(ctx, agent, prep.MessagesForRole(agent.RolePrompt),
		c.config.Planner.MaxOutputTokens, req.Sink, rec)
	return &modeOutcome{
		mode:    sc.mode,
		entries: []outputEntry{{agent: agent, text: text, ok: ok}},
	}, nil
}

// runTagged invokes the tagged agents resolved at scope time, in tag order.
// Each agent sees the shared context only; nothing is passed between them.
func (c *Coordinator) runTagged(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder) (*modeOutcome, error) {
	out := &modeOutcome{mode: sc.mode}
	for _, agent := range sc.active {
		text, ok := c.deps.Invoker.Invoke(ctx, agent, prep.MessagesForRole(agent.RolePrompt),
			c.config.Planner.MaxOutputTokens, req.Sink, rec)
		out.entries = append(out.entries, outputEntry{agent: agent, text: text, ok: ok})
	}
	return out, nil
}

// matchTaggedAgents resolves @-tags against room agents case-insensitively,
// preserving tag order and dropping duplicates and unknown keys.
func matchTaggedAgents(input string, agents []invoker.AgentProfile) []invoker.AgentProfile {
	byKey := make(map[string]invoker.AgentProfile, len(agents))
	for _, a := range agents {
		byKey[strings.ToLower(a.Key)] = a
	}

	var tagged []invoker.AgentProfile
	seen := make(map[string]bool)
	for _, m := range tagRe.FindAllStringSubmatch(input, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		if a, ok := byKey[key]; ok {
			seen[key] = true
			tagged = append(tagged, a)
		}
	}
	return tagged
}

// runRoundtable invokes every room agent in position order. Each successful
// response is appended as an attributed assistant message into the bases of
// the agents that follow; failures are not shared.
func (c *Coordinator) runRoundtable(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder) (*modeOutcome, error) {
	if len(sc.agents) == 0 {
		return nil, &ValidationError{
			Code:    CodeNoRoomAgents,
			Message: "roundtable requires at least one agent in the room",
		}
	}

	out := &modeOutcome{mode: sc.mode}
	var shared []llm.Message
	for _, agent := range sc.agents {
		base := prep.MessagesForRole(agent.RolePrompt)
		msgs := make([]llm.Message, 0, len(base)+len(shared))
		msgs = append(msgs, base...)
		msgs = append(msgs, shared...)

		text, ok := c.deps.Invoker.Invoke(ctx, agent, msgs, c.config.Planner.MaxOutputTokens, req.Sink, rec)
		out.entries = append(out.entries, outputEntry{agent: agent, text: text, ok: ok})
		if ok {
			shared = append(shared, llm.Message{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("[%s]: %s", agent.Name, text),
			})
		}
	}
	return out, nil
}

// runOrchestrator loops manager-routed rounds until the manager stops, the
// round produces nothing usable, or the depth / invocation budgets run out.
// Specialists within a round do not see each other; consolidation happens in
// the manager's synthesis.
func (c *Coordinator) runOrchestrator(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder) (*modeOutcome, error) {
	if len(sc.agents) == 0 {
		return nil, &ValidationError{
			Code:    CodeNoRoomAgents,
			Message: "orchestrator requires at least one agent in the room",
		}
	}

	out := &modeOutcome{mode: sc.mode, synthesisOK: true}
	remaining := c.config.MaxSpecialistInvocations
	var priors []routing.AgentOutput

	for round := 1; round <= c.config.MaxDepth && remaining > 0; round++ {
		if req.Sink != nil {
			req.Sink.Emit(invoker.Event{Kind: invoker.EventRoundStart, Round: round})
		}

		assignments := c.deps.Router.Route(ctx, sc.agents, req.UserInput, priors, rec)
		if len(assignments) > remaining {
			assignments = assignments[:remaining]
		}
		if len(assignments) == 0 {
			if req.Sink != nil {
				req.Sink.Emit(invoker.Event{Kind: invoker.EventRoundEnd, Round: round})
			}
			break
		}

		roundSuccesses := 0
		for _, as := range assignments {
			base := prep.MessagesForRole(as.Agent.RolePrompt)
			msgs := make([]llm.Message, 0, len(base)+1)
			msgs = append(msgs, base...)
			if as.Instruction != "" {
				msgs = append(msgs, llm.Message{
					Role:    llm.RoleUser,
					Content: "Manager instruction: " + as.Instruction,
				})
			}

			text, ok := c.deps.Invoker.Invoke(ctx, as.Agent, msgs, c.config.Planner.MaxOutputTokens, req.Sink, rec)
			remaining--
			out.entries = append(out.entries, outputEntry{agent: as.Agent, text: text, ok: ok})
			if ok {
				roundSuccesses++
				priors = append(priors, routing.AgentOutput{
					AgentKey:  as.Agent.Key,
					AgentName: as.Agent.Name,
					Text:      text,
				})
			}
		}

		if req.Sink != nil {
			req.Sink.Emit(invoker.Event{Kind: invoker.EventRoundEnd, Round: round})
		}
		if roundSuccesses == 0 {
			break
		}
		if remaining == 0 || round == c.config.MaxDepth {
			break
		}
		if !c.deps.Router.EvaluateRound(ctx, req.UserInput, priors, round, rec) {
			break
		}
	}

	if len(priors) > 0 {
		out.hasSynthesis = true
		out.synthesis, out.synthesisOK = c.deps.Router.Synthesize(ctx, req.UserInput, priors,
			c.config.Planner.MaxOutputTokens, rec)
		if req.Sink != nil {
			req.Sink.Emit(invoker.Event{Kind: invoker.EventChunk, AgentKey: "manager", Text: out.synthesis})
		}
	}
	return out, nil
}
