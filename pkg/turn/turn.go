// Package turn is the pipeline's entry point: the coordinator that takes one
// user input and drives it through scope resolution, context planning, the
// room's mode strategy, summary generation, metering and atomic persistence.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atriumhq/atrium/pkg/invoker"
	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/metering"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/planner"
	"github.com/atriumhq/atrium/pkg/pricing"
	"github.com/atriumhq/atrium/pkg/routing"
	"github.com/atriumhq/atrium/pkg/store"
	"github.com/atriumhq/atrium/pkg/summary"
	"github.com/atriumhq/atrium/pkg/tool"
	"github.com/atriumhq/atrium/pkg/wallet"
)

// Config tunes the coordinator. Zero values pick the defaults.
type Config struct {
	Planner planner.Config

	// SummaryAlias is the model used for summary generation and extraction.
	SummaryAlias string

	// Orchestrator budgets.
	MaxDepth                 int
	MaxSpecialistInvocations int

	// EnforceCredits rejects turns when the wallet balance is not positive.
	// With enforcement off, usage is still metered and the balance may go
	// negative.
	EnforceCredits bool

	// LowBalanceThreshold marks results with LowBalance when the post-turn
	// balance falls below it.
	LowBalanceThreshold decimal.Decimal
}

func (c *Config) SetDefaults() {
	c.Planner.SetDefaults()
	if c.MaxDepth == 0 {
		c.MaxDepth = 3
	}
	if c.MaxSpecialistInvocations == 0 {
		c.MaxSpecialistInvocations = 6
	}
	if c.LowBalanceThreshold.IsZero() {
		c.LowBalanceThreshold = decimal.NewFromInt(10)
	}
}

// Deps are the collaborators a coordinator drives. All are shared across
// turns and must be safe for concurrent use.
type Deps struct {
	Store     *store.Store
	Gateway   llm.Gateway
	Catalog   *llm.Catalog
	Planner   *planner.Planner
	Invoker   *invoker.Invoker
	Router    *routing.Manager
	Summaries *summary.Pipeline
	Pricing   *pricing.Cache
	Ledger    *wallet.Ledger
	Logger    *slog.Logger
}

// Coordinator executes turns. Per-turn state lives on the stack; the
// coordinator itself is stateless.
type Coordinator struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	cfg.SetDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{deps: deps, config: cfg, logger: logger}
}

// Request is one turn's input. Sink is optional; when present, streaming
// events are delivered to it while the turn runs.
type Request struct {
	SessionID string
	UserID    string
	UserInput string
	Sink      invoker.EventSink
}

// Result is the committed turn as returned to the caller. BalanceAfter is
// empty when the turn incurred no usage.
type Result struct {
	TurnID           string
	SessionID        string
	TurnIndex        int
	Mode             string
	UserInput        string
	AssistantOutput  string
	Status           string
	ModelAliasUsed   string
	SummaryTriggered bool
	PruneTriggered   bool
	OverflowRejected bool
	CreatedAt        time.Time
	BalanceAfter     string
	LowBalance       bool
}

// outputEntry is one agent's contribution to the turn, successful or not.
// Failed invocations carry the sentinel text and still persist as messages.
type outputEntry struct {
	agent invoker.AgentProfile
	text  string
	ok    bool
}

// scope is the resolved execution context of a session. agents is every
// active agent in room order; active is the subset this turn invokes, which
// in manual/tag mode is the tagged agents in tag order.
type scope struct {
	session *store.Session
	roomID  *string
	goal    string
	mode    string
	agents  []invoker.AgentProfile
	active  []invoker.AgentProfile
}

// Execute runs one turn end to end. On success every side effect of the turn
// has been committed in a single transaction; on error, none have.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	tracer := observability.GetTracer("atrium.turn")
	ctx, span := tracer.Start(ctx, observability.SpanTurnExecute)
	defer span.End()
	start := time.Now()
	ctx = tool.WithOwner(ctx, req.UserID)

	sc, err := c.resolveScope(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String(observability.AttrTurnMode, sc.mode))
	toolScope := tool.Scope{SessionID: sc.session.ID}
	if sc.roomID != nil {
		toolScope.RoomID = *sc.roomID
	}
	ctx = tool.WithScope(ctx, toolScope)

	if c.config.EnforceCredits {
		balance, err := c.deps.Ledger.Balance(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to check wallet balance: %w", err)
		}
		if !balance.IsPositive() {
			return nil, &ValidationError{
				Code:    CodeInsufficientCredits,
				Message: "wallet balance is exhausted",
			}
		}
	}

	maxIndex, err := c.deps.Store.MaxTurnIndex(ctx, sc.session.ID)
	if err != nil {
		return nil, err
	}
	turnIndex := maxIndex + 1

	prep, history, err := c.plan(ctx, req, sc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec := &invoker.Recorder{}
	out, err := c.runMode(ctx, req, sc, prep, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var sum *store.SessionSummary
	if prep.HasSummaryRange() {
		sum = c.generateSummary(ctx, sc.session.ID, prep, history, rec)
	}

	result, err := c.persist(ctx, req, sc, prep, rec, out, sum, turnIndex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordTurn(sc.mode, result.Status, time.Since(start))
	}
	span.SetStatus(codes.Ok, "success")
	c.logger.Info("turn completed",
		"session_id", result.SessionID,
		"turn_index", result.TurnIndex,
		"mode", result.Mode,
		"status", result.Status,
		"llm_calls", len(rec.Usages()),
		"tool_calls", len(rec.Tools()))
	return result, nil
}

// resolveScope loads the session and its owning room or agent, enforcing
// ownership and soft-deletion. Foreign-owned scopes read as not found.
func (c *Coordinator) resolveScope(ctx context.Context, req Request) (*scope, error) {
	sess, err := c.deps.Store.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "session"}
	}
	if err != nil {
		return nil, err
	}
	if sess.DeletedAt != nil {
		return nil, &NotFoundError{Resource: "session"}
	}

	sc := &scope{session: sess}
	switch {
	case sess.RoomID != nil:
		room, err := c.deps.Store.GetRoom(ctx, *sess.RoomID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "room"}
		}
		if err != nil {
			return nil, err
		}
		if room.DeletedAt != nil || room.OwnerID != req.UserID {
			return nil, &NotFoundError{Resource: "room"}
		}
		agents, err := c.deps.Store.ListRoomAgents(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		sc.roomID = &room.ID
		sc.goal = room.Goal
		sc.mode = room.CurrentMode
		sc.agents = profilesFrom(agents)
		sc.active = sc.agents
		if sc.mode == store.ModeManual || sc.mode == store.ModeTag {
			sc.active = matchTaggedAgents(req.UserInput, sc.agents)
			if len(sc.active) == 0 {
				return nil, &ValidationError{
					Code:    CodeNoValidTaggedAgents,
					Message: "user input must tag at least one room agent with @<agent_key>",
				}
			}
		}

	case sess.AgentID != nil:
		agent, err := c.deps.Store.GetAgent(ctx, *sess.AgentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "agent"}
		}
		if err != nil {
			return nil, err
		}
		if agent.DeletedAt != nil || agent.OwnerID != req.UserID {
			return nil, &NotFoundError{Resource: "agent"}
		}
		sc.mode = store.ModeStandalone
		sc.agents = profilesFrom([]*store.Agent{agent})
		sc.active = sc.agents

	default:
		return nil, &NotFoundError{Resource: "session scope"}
	}
	return sc, nil
}

func profilesFrom(agents []*store.Agent) []invoker.AgentProfile {
	out := make([]invoker.AgentProfile, 0, len(agents))
	for _, a := range agents {
		out = append(out, invoker.AgentProfile{
			ID:              a.ID,
			Key:             a.AgentKey,
			Name:            a.Name,
			ModelAlias:      a.ModelAlias,
			RolePrompt:      a.RolePrompt,
			ToolPermissions: a.ToolPermissions,
		})
	}
	return out
}

// plan loads history and runs the context planner once for the turn. The
// first active agent sets the perspective: its private messages and its
// model's context limit. In manual/tag mode that is the first tagged agent.
func (c *Coordinator) plan(ctx context.Context, req Request, sc *scope) (*planner.Preparation, []*store.Message, error) {
	var primary invoker.AgentProfile
	if len(sc.active) > 0 {
		primary = sc.active[0]
	}

	history, err := c.deps.Store.ListSessionHistory(ctx, sc.session.ID, primary.Key)
	if err != nil {
		return nil, nil, err
	}

	latest, err := c.deps.Store.LatestSummary(ctx, sc.session.ID)
	if err != nil {
		return nil, nil, err
	}
	var summaryText string
	var turnsSince int
	if latest != nil {
		summaryText = latest.SummaryText
		turnsSince, err = c.deps.Store.CountTurnsAfter(ctx, sc.session.ID, latest.CreatedAt)
	} else {
		turnsSince, err = c.deps.Store.CountTurns(ctx, sc.session.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	contextLimit := c.deps.Catalog.Resolve(primary.ModelAlias).ContextLimit

	var system []string
	if sc.roomID != nil {
		header := fmt.Sprintf("You are one of several assistants collaborating in a shared room. Conversation mode: %s.", sc.mode)
		if sc.goal != "" {
			header += " Room goal: " + sc.goal
		}
		system = append(system, header)
	}
	system = append(system, primary.RolePrompt)
	roleIndex := len(system) - 1

	entries := make([]planner.HistoryEntry, len(history))
	for i, m := range history {
		entries[i] = m
	}

	prep, err := c.deps.Planner.Prepare(planner.Input{
		ModelContextLimit: contextLimit,
		SystemMessages:    system,
		RoleIndex:         roleIndex,
		History:           entries,
		LatestSummaryText: summaryText,
		TurnsSinceSummary: turnsSince,
		UserInput:         req.UserInput,
	})
	if err != nil {
		return nil, nil, err
	}
	return prep, history, nil
}

// generateSummary runs the summary pipeline over the cut history range and
// meters its gateway calls against the recorder with a nil agent id.
func (c *Coordinator) generateSummary(ctx context.Context, sessionID string, prep *planner.Preparation, history []*store.Message, rec *invoker.Recorder) *store.SessionSummary {
	var raw strings.Builder
	inRange := false
	for _, m := range history {
		if m.ID == prep.SummaryFromID {
			inRange = true
		}
		if inRange {
			fmt.Fprintf(&raw, "%s: %s\n", m.Role, m.Content)
		}
		if m.ID == prep.SummaryToID {
			break
		}
	}

	providerModel := c.deps.Catalog.Resolve(c.config.SummaryAlias).ProviderModel

	gen := c.deps.Summaries.Generate(ctx, raw.String(), c.config.SummaryAlias)
	ext := c.deps.Summaries.Extract(ctx, gen.SummaryText, c.config.SummaryAlias)
	for _, u := range gen.Usage {
		rec.AddUsage(nil, c.config.SummaryAlias, providerModel, u)
	}
	for _, u := range ext.Usage {
		rec.AddUsage(nil, c.config.SummaryAlias, providerModel, u)
	}

	return &store.SessionSummary{
		SessionID:     sessionID,
		FromMessageID: prep.SummaryFromID,
		ToMessageID:   prep.SummaryToID,
		SummaryText:   gen.SummaryText,
		KeyFacts:      ext.KeyFacts,
		Decisions:     ext.Decisions,
		OpenQuestions: ext.OpenQuestions,
		ActionItems:   ext.ActionItems,
	}
}

// persist commits every artifact of the turn in one transaction.
func (c *Coordinator) persist(ctx context.Context, req Request, sc *scope, prep *planner.Preparation, rec *invoker.Recorder, out *modeOutcome, sum *store.SessionSummary, turnIndex int) (*Result, error) {
	turnID := uuid.NewString()
	now := time.Now().UTC()
	assistantOutput := out.assistantOutput()
	aliasUsed := out.modelAliasUsed()
	status := out.status()

	var balanceAfter decimal.Decimal
	debited := false

	err := c.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertTurn(ctx, &store.Turn{
			ID:              turnID,
			SessionID:       sc.session.ID,
			TurnIndex:       turnIndex,
			Mode:            sc.mode,
			UserInput:       req.UserInput,
			AssistantOutput: assistantOutput,
			Status:          status,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		if err := tx.InsertMessage(ctx, &store.Message{
			SessionID:  sc.session.ID,
			TurnID:     &turnID,
			Role:       store.RoleUser,
			Visibility: store.VisibilityShared,
			Content:    req.UserInput,
		}); err != nil {
			return err
		}
		for _, e := range out.entries {
			key := e.agent.Key
			if err := tx.InsertMessage(ctx, &store.Message{
				SessionID:      sc.session.ID,
				TurnID:         &turnID,
				Role:           store.RoleAssistant,
				Visibility:     store.VisibilityShared,
				SourceAgentKey: &key,
				Content:        e.text,
			}); err != nil {
				return err
			}
		}
		if out.hasSynthesis {
			key := "manager"
			if err := tx.InsertMessage(ctx, &store.Message{
				SessionID:      sc.session.ID,
				TurnID:         &turnID,
				Role:           store.RoleAssistant,
				Visibility:     store.VisibilityShared,
				SourceAgentKey: &key,
				Content:        out.synthesis,
			}); err != nil {
				return err
			}
		}

		if sum != nil {
			if err := tx.InsertSummary(ctx, sum); err != nil {
				return err
			}
		}

		if err := tx.InsertAudit(ctx, &store.TurnContextAudit{
			TurnID:                turnID,
			ModelContextLimit:     prep.ModelLimit,
			InputBudget:           prep.InputBudget,
			EstimatedBefore:       prep.EstimatedBefore,
			EstimatedAfterSummary: prep.EstimatedAfterSummary,
			EstimatedAfterPrune:   prep.EstimatedAfterPrune,
			SummaryTriggered:      prep.SummaryTriggered,
			PruneTriggered:        prep.PruneTriggered,
			OverflowRejected:      false,
			OutputReserve:         prep.OutputReserve,
			OverheadReserve:       prep.OverheadReserve,
			ModelAliasUsed:        aliasUsed,
		}); err != nil {
			return err
		}

		sessionID := sc.session.ID
		pricingVersion := c.deps.Pricing.Version()
		for _, u := range rec.Usages() {
			multiplier := c.deps.Pricing.Multiplier(u.ModelAlias)
			oeTokens, credits := metering.Compute(
				u.Usage.FreshTokens, u.Usage.CachedTokens, u.Usage.OutputTokens, multiplier)
			if err := tx.InsertLlmCallEvent(ctx, &store.LlmCallEvent{
				UserID:         req.UserID,
				RoomID:         sc.roomID,
				SessionID:      &sessionID,
				TurnID:         &turnID,
				AgentID:        u.AgentID,
				Provider:       c.deps.Gateway.Provider(),
				ModelAlias:     u.ModelAlias,
				ProviderModel:  u.ProviderModel,
				FreshTokens:    u.Usage.FreshTokens,
				CachedTokens:   u.Usage.CachedTokens,
				OutputTokens:   u.Usage.OutputTokens,
				TotalTokens:    u.Usage.TotalTokens,
				OETokens:       oeTokens,
				CreditsBurned:  wallet.FormatAmount(credits),
				PricingVersion: pricingVersion,
				Status:         "success",
			}); err != nil {
				return err
			}

			balance, err := c.deps.Ledger.StageDebit(ctx, tx, req.UserID, credits, turnID)
			if err != nil {
				return err
			}
			balanceAfter = balance
			debited = true
		}

		for _, tt := range rec.Tools() {
			agentKey := tt.AgentKey
			if err := tx.InsertToolCallEvent(ctx, &store.ToolCallEvent{
				UserID:         req.UserID,
				RoomID:         sc.roomID,
				SessionID:      sessionID,
				TurnID:         turnID,
				AgentKey:       &agentKey,
				ToolName:       tt.Name,
				ToolInputJSON:  tt.InputJSON,
				ToolOutputJSON: tt.OutputJSON,
				Status:         tt.Status,
				LatencyMS:      tt.LatencyMS,
				CreditsCharged: "0.00000000",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, &ConflictError{SessionID: sc.session.ID, TurnIndex: turnIndex}
		}
		return nil, err
	}

	result := &Result{
		TurnID:           turnID,
		SessionID:        sc.session.ID,
		TurnIndex:        turnIndex,
		Mode:             sc.mode,
		UserInput:        req.UserInput,
		AssistantOutput:  assistantOutput,
		Status:           status,
		ModelAliasUsed:   aliasUsed,
		SummaryTriggered: prep.SummaryTriggered,
		PruneTriggered:   prep.PruneTriggered,
		OverflowRejected: false,
		CreatedAt:        now,
	}
	if debited {
		result.BalanceAfter = wallet.FormatAmount(balanceAfter)
		result.LowBalance = balanceAfter.LessThan(c.config.LowBalanceThreshold)
	}
	return result, nil
}
