// Package planner assembles each turn's bounded prompt. It fits system
// messages, rolling history, the latest summary and the new user input into
// the model's context window, triggering summarization and pruning as the
// budget tightens and rejecting input that cannot fit at all.
package planner

import (
	"fmt"

	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/tokens"
)

// Prompt section markers.
const (
	MarkerSystem      = "--- SYSTEM ---"
	MarkerHistory     = "--- HISTORY ---"
	MarkerCurrentTurn = "--- CURRENT TURN ---"
)

const minModelLimit = 2048

// HistoryEntry is what the planner needs from a stored message. store.Message
// satisfies it.
type HistoryEntry interface {
	MessageID() string
	MessageRole() string
	MessageContent() string
}

// Config carries the tunable budget knobs.
type Config struct {
	MaxOutputTokens      int
	SummaryTriggerRatio  float64
	PruneTriggerRatio    float64
	MandatorySummaryTurn int
	RecentTurnsToKeep    int
}

func (c *Config) SetDefaults() {
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 2048
	}
	if c.SummaryTriggerRatio == 0 {
		c.SummaryTriggerRatio = 0.70
	}
	if c.PruneTriggerRatio == 0 {
		c.PruneTriggerRatio = 0.90
	}
	// Pruning before summarizing makes no sense.
	if c.PruneTriggerRatio < c.SummaryTriggerRatio {
		c.PruneTriggerRatio = c.SummaryTriggerRatio
	}
	if c.MandatorySummaryTurn == 0 {
		c.MandatorySummaryTurn = 8
	}
	if c.RecentTurnsToKeep == 0 {
		c.RecentTurnsToKeep = 4
	}
}

// Input is everything prepare needs for one turn.
type Input struct {
	ModelContextLimit int
	SystemMessages    []string
	RoleIndex         int // index in SystemMessages of the per-agent role prompt, -1 when absent
	History           []HistoryEntry
	LatestSummaryText string
	TurnsSinceSummary int
	UserInput         string
}

// Preparation is the planner's output: the final message list plus every
// number the turn audit records. RoleSlot indexes the per-agent role prompt
// within Messages so multi-agent strategies can swap it without re-planning.
type Preparation struct {
	Messages []llm.Message
	RoleSlot int // -1 when no per-agent role message exists

	ModelLimit      int
	InputBudget     int
	OutputReserve   int
	OverheadReserve int

	EstimatedBefore       int
	EstimatedAfterSummary int
	EstimatedAfterPrune   int

	SummaryTriggered bool
	PruneTriggered   bool

	// Summarizable range, set only when SummaryTriggered and history was cut.
	SummaryFromID string
	SummaryToID   string
}

// HasSummaryRange reports whether a summary should actually be generated.
func (p *Preparation) HasSummaryRange() bool {
	return p.SummaryFromID != "" && p.SummaryToID != ""
}

// MessagesForRole returns a copy of the final messages with the per-agent
// role prompt replaced. With no role slot it returns the shared slice.
func (p *Preparation) MessagesForRole(rolePrompt string) []llm.Message {
	if p.RoleSlot < 0 {
		return p.Messages
	}
	out := make([]llm.Message, len(p.Messages))
	copy(out, p.Messages)
	out[p.RoleSlot].Content = rolePrompt
	return out
}

// BudgetExceededError reports input that cannot fit even after pruning all
// history.
type BudgetExceededError struct {
	ModelContextLimit int
	InputBudget       int
	EstimatedTokens   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("context budget exceeded: estimated %d tokens against input budget %d (model context limit %d)",
		e.EstimatedTokens, e.InputBudget, e.ModelContextLimit)
}

// Planner is stateless; one instance serves all turns.
type Planner struct {
	config Config
}

func New(cfg Config) *Planner {
	cfg.SetDefaults()
	return &Planner{config: cfg}
}

func estimateMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokens.Estimate(m.Content)
	}
	return total
}

// Prepare runs the summarize → prune → reject pipeline once per turn.
func (p *Planner) Prepare(in Input) (*Preparation, error) {
	modelLimit := in.ModelContextLimit
	if modelLimit < minModelLimit {
		modelLimit = minModelLimit
	}

	outputReserve := p.config.MaxOutputTokens
	if reserveCap := modelLimit * 20 / 100; reserveCap < outputReserve {
		outputReserve = reserveCap
	}
	overheadReserve := modelLimit * 5 / 100
	if overheadReserve < 1024 {
		overheadReserve = 1024
	}
	inputBudget := modelLimit - outputReserve - overheadReserve

	prep := &Preparation{
		RoleSlot:        -1,
		ModelLimit:      modelLimit,
		InputBudget:     inputBudget,
		OutputReserve:   outputReserve,
		OverheadReserve: overheadReserve,
	}

	if inputBudget <= 0 {
		return nil, &BudgetExceededError{
			ModelContextLimit: modelLimit,
			InputBudget:       inputBudget,
			EstimatedTokens:   tokens.Estimate(in.UserInput),
		}
	}

	base := []llm.Message{{Role: llm.RoleSystem, Content: MarkerSystem}}
	for i, sm := range in.SystemMessages {
		if i == in.RoleIndex {
			prep.RoleSlot = len(base)
		}
		base = append(base, llm.Message{Role: llm.RoleSystem, Content: sm})
	}
	if in.LatestSummaryText != "" {
		base = append(base, llm.Message{Role: llm.RoleSystem, Content: "Session summary: " + in.LatestSummaryText})
	}

	tail := []llm.Message{
		{Role: llm.RoleSystem, Content: MarkerCurrentTurn},
		{Role: llm.RoleUser, Content: in.UserInput},
	}

	historyMsgs := func(entries []HistoryEntry) []llm.Message {
		if len(entries) == 0 {
			return nil
		}
		out := []llm.Message{{Role: llm.RoleSystem, Content: MarkerHistory}}
		for _, e := range entries {
			out = append(out, llm.Message{Role: e.MessageRole(), Content: e.MessageContent()})
		}
		return out
	}

	estimate := func(working []HistoryEntry) int {
		return estimateMessages(base) + estimateMessages(historyMsgs(working)) + estimateMessages(tail)
	}

	working := in.History
	prep.EstimatedBefore = estimate(working)

	summaryThreshold := int(float64(inputBudget) * p.config.SummaryTriggerRatio)
	if prep.EstimatedBefore >= summaryThreshold || in.TurnsSinceSummary >= p.config.MandatorySummaryTurn {
		prep.SummaryTriggered = true
		cut := len(working) - p.config.RecentTurnsToKeep*2
		if cut < 0 {
			cut = 0
		}
		if cut > 0 {
			prep.SummaryFromID = working[0].MessageID()
			prep.SummaryToID = working[cut-1].MessageID()
			working = working[cut:]
		}
	}
	prep.EstimatedAfterSummary = estimate(working)

	pruneThreshold := int(float64(inputBudget) * p.config.PruneTriggerRatio)
	if prep.EstimatedAfterSummary >= pruneThreshold {
		prep.PruneTriggered = true
		for len(working) > 0 && estimate(working) > inputBudget {
			working = working[1:]
		}
	}
	prep.EstimatedAfterPrune = estimate(working)

	if prep.EstimatedAfterPrune > inputBudget {
		return nil, &BudgetExceededError{
			ModelContextLimit: modelLimit,
			InputBudget:       inputBudget,
			EstimatedTokens:   prep.EstimatedAfterPrune,
		}
	}

	final := make([]llm.Message, 0, len(base)+len(working)+3)
	final = append(final, base...)
	final = append(final, historyMsgs(working)...)
	final = append(final, tail...)
	prep.Messages = final

	return prep, nil
}
