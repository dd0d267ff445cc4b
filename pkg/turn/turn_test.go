package turn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/invoker"
	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/planner"
	"github.com/atriumhq/atrium/pkg/pricing"
	"github.com/atriumhq/atrium/pkg/routing"
	"github.com/atriumhq/atrium/pkg/store"
	"github.com/atriumhq/atrium/pkg/summary"
	"github.com/atriumhq/atrium/pkg/tool"
	"github.com/atriumhq/atrium/pkg/wallet"
)

type fakeGateway struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (f *fakeGateway) Provider() string { return "fake" }

func (f *fakeGateway) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) == 0 {
		return &llm.Response{Text: "unscripted", ProviderModel: "fake-fast"}, nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeGateway) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return nil, errors.New("streaming not scripted")
}

func resp(text string, fresh, cached, output int) *llm.Response {
	return &llm.Response{
		Text:          text,
		ProviderModel: "fake-fast",
		Usage: llm.Usage{
			FreshTokens:  fresh,
			CachedTokens: cached,
			OutputTokens: output,
			TotalTokens:  fresh + cached + output,
		},
	}
}

type fixture struct {
	store   *store.Store
	gateway *fakeGateway
	ledger  *wallet.Ledger
	coord   *Coordinator
	user    *store.User
}

func newFixture(t *testing.T, gw *fakeGateway, cfg Config, tools ...tool.Tool) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "turn.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	catalog, err := llm.NewCatalog([]llm.ModelSpec{
		{Alias: "fast-1", Provider: "fake", ProviderModel: "fake-fast", ContextLimit: 16384},
		{Alias: "small-1", Provider: "fake", ProviderModel: "fake-small", ContextLimit: 8192},
		{Alias: "manager-1", Provider: "fake", ProviderModel: "fake-manager", ContextLimit: 16384},
		{Alias: "summary-1", Provider: "fake", ProviderModel: "fake-summary", ContextLimit: 16384},
	})
	require.NoError(t, err)

	if cfg.SummaryAlias == "" {
		cfg.SummaryAlias = "summary-1"
	}
	ledger := wallet.NewLedger(st)
	coord := NewCoordinator(Deps{
		Store:     st,
		Gateway:   gw,
		Catalog:   catalog,
		Planner:   planner.New(cfg.Planner),
		Invoker:   invoker.New(gw, catalog, tool.NewRegistry(tools...), nil),
		Router:    routing.NewManager(gw, catalog, routing.Config{ManagerAlias: "manager-1"}, nil),
		Summaries: summary.NewPipeline(gw, catalog, nil),
		Pricing:   pricing.NewStaticCache("v1", map[string]float64{"fast-1": 1.0, "small-1": 1.0}),
		Ledger:    ledger,
	}, cfg)

	user, err := st.CreateUser(context.Background(), t.Name()+"@example.com")
	require.NoError(t, err)
	return &fixture{store: st, gateway: gw, ledger: ledger, coord: coord, user: user}
}

func (f *fixture) seedAgent(t *testing.T, key, name, alias string, perms ...string) *store.Agent {
	t.Helper()
	a := &store.Agent{
		OwnerID:         f.user.ID,
		AgentKey:        key,
		Name:            name,
		ModelAlias:      alias,
		RolePrompt:      "You are " + name + ".",
		ToolPermissions: perms,
	}
	require.NoError(t, f.store.CreateAgent(context.Background(), a))
	return a
}

func (f *fixture) seedRoom(t *testing.T, mode string, agents ...*store.Agent) *store.Session {
	t.Helper()
	ctx := context.Background()
	room := &store.Room{OwnerID: f.user.ID, CurrentMode: mode}
	require.NoError(t, f.store.CreateRoom(ctx, room))
	for i, a := range agents {
		require.NoError(t, f.store.AddRoomAgent(ctx, room.ID, a.ID, i))
	}
	sess := &store.Session{RoomID: &room.ID, StartedBy: f.user.ID}
	require.NoError(t, f.store.CreateSession(ctx, sess))
	return sess
}

func (f *fixture) seedStandalone(t *testing.T, agent *store.Agent) *store.Session {
	t.Helper()
	sess := &store.Session{AgentID: &agent.ID, StartedBy: f.user.ID}
	require.NoError(t, f.store.CreateSession(context.Background(), sess))
	return sess
}

func TestManualSingleTag(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{resp("Packets drift like snow", 100, 0, 50)}}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	f.seedAgent(t, "analyst", "Analyst", "fast-1")
	sess := f.seedRoom(t, store.ModeManual, writer)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "@writer draft a haiku about latency",
	})
	require.NoError(t, err)

	assert.Equal(t, store.TurnCompleted, result.Status)
	assert.Equal(t, store.ModeManual, result.Mode)
	assert.Equal(t, 1, result.TurnIndex)
	assert.Equal(t, "Packets drift like snow", result.AssistantOutput)
	assert.Equal(t, "fast-1", result.ModelAliasUsed)

	msgs, err := f.store.ListTurnMessages(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].SourceAgentKey)
	assert.Equal(t, "writer", *msgs[1].SourceAgentKey)

	events, err := f.store.ListLlmCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].AgentID)
	assert.Equal(t, writer.ID, *events[0].AgentID)
	assert.Equal(t, "fake", events[0].Provider)
	assert.Equal(t, "v1", events[0].PricingVersion)
	// oe = 100*0.35 + 50 = 85; credits = 85/10000.
	assert.Equal(t, "0.00850000", events[0].CreditsBurned)

	w, err := f.store.GetWalletByUser(ctx, f.user.ID)
	require.NoError(t, err)
	txns, err := f.store.ListWalletTransactions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, wallet.KindDebit, txns[0].Kind)
	assert.Equal(t, "-0.00850000", txns[0].Amount)
	require.NotNil(t, txns[0].ReferenceID)
	assert.Equal(t, result.TurnID, *txns[0].ReferenceID)

	assert.Equal(t, "-0.00850000", result.BalanceAfter)
	assert.True(t, result.LowBalance)

	audit, err := f.store.GetAudit(ctx, result.TurnID)
	require.NoError(t, err)
	assert.Equal(t, 16384, audit.ModelContextLimit)
	assert.Equal(t, "fast-1", audit.ModelAliasUsed)
	assert.False(t, audit.OverflowRejected)
}

func TestManualNoValidTag(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	sess := f.seedRoom(t, store.ModeManual, writer)

	_, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "@unknown do work",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeNoValidTaggedAgents, verr.Code)

	count, err := f.store.CountTurns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, gw.requests)
	_, err = f.store.GetWalletByUser(ctx, f.user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManualMultiTagNoSharing(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{
		resp("first take", 40, 0, 10),
		resp("second take", 40, 0, 10),
	}}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	analyst := f.seedAgent(t, "analyst", "Analyst", "fast-1")
	sess := f.seedRoom(t, store.ModeManual, writer, analyst)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "@Writer and @analyst, weigh in. Also @writer again.",
	})
	require.NoError(t, err)

	assert.Equal(t, "Writer: first take\n\nAnalyst: second take", result.AssistantOutput)
	assert.Equal(t, "fast-1", result.ModelAliasUsed)
	require.Len(t, gw.requests, 2)
	for _, m := range gw.requests[1].Messages {
		assert.NotContains(t, m.Content, "first take")
	}
}

func TestManualTagSetsPlanningPerspective(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{resp("quick take", 30, 0, 10)}}
	f := newFixture(t, gw, Config{})
	big := f.seedAgent(t, "big", "Big", "fast-1")
	small := f.seedAgent(t, "small", "Small", "small-1")
	sess := f.seedRoom(t, store.ModeManual, big, small)

	// Budget enforcement follows the tagged agent's model, not the first
	// room agent's.
	_, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "@small summarize this: " + strings.Repeat("x", 200_000),
	})
	var berr *planner.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 8192, berr.ModelContextLimit)
	assert.Empty(t, gw.requests)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "@small what do you think?",
	})
	require.NoError(t, err)
	assert.Equal(t, "small-1", result.ModelAliasUsed)

	audit, err := f.store.GetAudit(ctx, result.TurnID)
	require.NoError(t, err)
	assert.Equal(t, 8192, audit.ModelContextLimit)
}

func TestRoundtableSharesRunningHistory(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{
		resp("strong hooks matter", 40, 0, 20),
		resp("agreed, with data", 60, 0, 20),
	}}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	analyst := f.seedAgent(t, "analyst", "Analyst", "fast-1")
	sess := f.seedRoom(t, store.ModeRoundtable, writer, analyst)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "What makes a good opening line?",
	})
	require.NoError(t, err)

	assert.Equal(t, store.TurnCompleted, result.Status)
	assert.Equal(t, "roundtable", result.ModelAliasUsed)
	assert.Equal(t, "Writer: strong hooks matter\n\nAnalyst: agreed, with data", result.AssistantOutput)

	require.Len(t, gw.requests, 2)
	second := gw.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, "[Writer]: strong hooks matter", last.Content)

	events, err := f.store.ListLlmCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	msgs, err := f.store.ListTurnMessages(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
}

func TestRoundtablePartialOnAgentFailure(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		responses: []*llm.Response{resp("opening thought", 40, 0, 20), nil},
		errs:      []error{nil, errors.New("upstream 500")},
	}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	analyst := f.seedAgent(t, "analyst", "Analyst", "fast-1")
	sess := f.seedRoom(t, store.ModeRoundtable, writer, analyst)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "Thoughts?",
	})
	require.NoError(t, err)

	assert.Equal(t, store.TurnPartial, result.Status)
	assert.Contains(t, result.AssistantOutput, "[[agent_error]]")
	assert.Contains(t, result.AssistantOutput, "opening thought")
}

func TestOrchestratorAllOverride(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{
		resp("ceo one view", 40, 0, 20),
		resp("ceo two view", 40, 0, 20),
		resp("ceo three view", 40, 0, 20),
		resp("Consolidated: all three agree.", 120, 0, 40),
	}}
	f := newFixture(t, gw, Config{MaxSpecialistInvocations: 3})
	a1 := f.seedAgent(t, "ceo1", "CEO One", "fast-1")
	a2 := f.seedAgent(t, "ceo2", "CEO Two", "fast-1")
	a3 := f.seedAgent(t, "ceo3", "CEO Three", "fast-1")
	sess := f.seedRoom(t, store.ModeOrchestrator, a1, a2, a3)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "I want all CEOs to review each other's plans",
	})
	require.NoError(t, err)

	assert.Equal(t, store.TurnCompleted, result.Status)
	assert.Equal(t, "multi-agent", result.ModelAliasUsed)
	assert.True(t, strings.HasSuffix(result.AssistantOutput, "\n\n---\n\nConsolidated: all three agree."))
	assert.Contains(t, result.AssistantOutput, "CEO One: ceo one view")

	// 3 specialists + 1 synthesis, no routing call thanks to the override.
	require.Len(t, gw.requests, 4)

	events, err := f.store.ListLlmCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	managerEvents := 0
	for _, e := range events {
		if e.AgentID == nil {
			managerEvents++
		}
	}
	assert.Equal(t, 1, managerEvents)

	msgs, err := f.store.ListTurnMessages(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	synth := msgs[len(msgs)-1]
	require.NotNil(t, synth.SourceAgentKey)
	assert.Equal(t, "manager", *synth.SourceAgentKey)
	assert.Equal(t, "Consolidated: all three agree.", synth.Content)
}

func TestOrchestratorManagerStopsAfterOneRound(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{
		{Text: `{"assignments": [{"agent_key": "writer", "instruction": "Draft it"}]}`, ProviderModel: "fake-manager",
			Usage: llm.Usage{FreshTokens: 30, OutputTokens: 10, TotalTokens: 40}},
		resp("the draft", 40, 0, 20),
		{Text: `{"continue": false}`, ProviderModel: "fake-manager",
			Usage: llm.Usage{FreshTokens: 20, OutputTokens: 5, TotalTokens: 25}},
		resp("Final: the draft stands.", 60, 0, 20),
	}}
	f := newFixture(t, gw, Config{})
	writer := f.seedAgent(t, "writer", "Writer", "fast-1")
	analyst := f.seedAgent(t, "analyst", "Analyst", "fast-1")
	sess := f.seedRoom(t, store.ModeOrchestrator, writer, analyst)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "Produce a short draft",
	})
	require.NoError(t, err)

	require.Len(t, gw.requests, 4)
	// The routed specialist sees the manager's instruction.
	specialistMsgs := gw.requests[1].Messages
	assert.Equal(t, "Manager instruction: Draft it", specialistMsgs[len(specialistMsgs)-1].Content)

	assert.Equal(t, store.TurnCompleted, result.Status)
	// Single specialist: alias comes from the agent, not "multi-agent".
	assert.Equal(t, "fast-1", result.ModelAliasUsed)
	assert.True(t, strings.HasSuffix(result.AssistantOutput, "Final: the draft stands."))
}

func TestContextOverflowRejection(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	f := newFixture(t, gw, Config{})
	agent := f.seedAgent(t, "solo", "Solo", "small-1")
	sess := f.seedStandalone(t, agent)

	_, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: strings.Repeat("x", 200_000),
	})
	var berr *planner.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 8192, berr.ModelContextLimit)
	assert.GreaterOrEqual(t, berr.EstimatedTokens, berr.InputBudget)

	count, err := f.store.CountTurns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, gw.requests)
}

func TestSummaryTriggeredByTurnCount(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{
		resp("turn one reply", 40, 0, 20),
		resp("turn two reply", 40, 0, 20),
		resp("turn three reply", 40, 0, 20),
		{Text: `{"summary_text": "Earlier discussion covered replies one and two."}`, ProviderModel: "fake-summary",
			Usage: llm.Usage{FreshTokens: 50, OutputTokens: 20, TotalTokens: 70}},
		{Text: `{"key_facts": ["two replies given"], "decisions": [], "open_questions": [], "action_items": []}`,
			ProviderModel: "fake-summary",
			Usage:         llm.Usage{FreshTokens: 30, OutputTokens: 15, TotalTokens: 45}},
	}}
	f := newFixture(t, gw, Config{
		Planner: planner.Config{MandatorySummaryTurn: 2, RecentTurnsToKeep: 1},
	})
	agent := f.seedAgent(t, "solo", "Solo", "fast-1")
	sess := f.seedStandalone(t, agent)

	for i := 1; i <= 2; i++ {
		result, err := f.coord.Execute(ctx, Request{
			SessionID: sess.ID,
			UserID:    f.user.ID,
			UserInput: fmt.Sprintf("question %d", i),
		})
		require.NoError(t, err)
		assert.False(t, result.SummaryTriggered)
	}

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "question 3",
	})
	require.NoError(t, err)
	assert.True(t, result.SummaryTriggered)
	assert.Equal(t, 3, result.TurnIndex)

	sum, err := f.store.LatestSummary(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "Earlier discussion covered replies one and two.", sum.SummaryText)
	assert.Equal(t, []string{"two replies given"}, sum.KeyFacts)
	assert.NotEmpty(t, sum.FromMessageID)
	assert.NotEmpty(t, sum.ToMessageID)

	// One agent call plus the two summary-pipeline calls, billed as manager
	// usage with no agent attribution.
	events, err := f.store.ListLlmCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	summaryEvents := 0
	for _, e := range events {
		if e.AgentID == nil {
			summaryEvents++
			assert.Equal(t, "summary-1", e.ModelAlias)
		}
	}
	assert.Equal(t, 2, summaryEvents)
}

func TestToolLoopPersistsToolEvent(t *testing.T) {
	ctx := context.Background()
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results": [{"title": "AI news", "url": "https://example.com", "snippet": "fresh model drops"}]}`)
	}))
	defer search.Close()

	gw := &fakeGateway{responses: []*llm.Response{
		{
			ProviderModel: "fake-fast",
			ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: tool.NameSearch, Arguments: `{"query": "latest ai news"}`},
			},
			Usage: llm.Usage{FreshTokens: 60, OutputTokens: 15, TotalTokens: 75},
		},
		resp("Here is what I found about AI news.", 120, 0, 40),
	}}
	f := newFixture(t, gw, Config{}, tool.NewSearchTool(tool.SearchConfig{Endpoint: search.URL}))
	agent := f.seedAgent(t, "researcher", "Researcher", "fast-1", tool.NameSearch)
	sess := f.seedStandalone(t, agent)

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "search latest ai news",
	})
	require.NoError(t, err)
	assert.Equal(t, store.TurnCompleted, result.Status)
	assert.Equal(t, "Here is what I found about AI news.", result.AssistantOutput)

	events, err := f.store.ListLlmCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	toolEvents, err := f.store.ListToolCallEvents(ctx, result.TurnID)
	require.NoError(t, err)
	require.Len(t, toolEvents, 1)
	assert.Equal(t, tool.NameSearch, toolEvents[0].ToolName)
	assert.Equal(t, tool.StatusSuccess, toolEvents[0].Status)
	require.NotNil(t, toolEvents[0].AgentKey)
	assert.Equal(t, "researcher", *toolEvents[0].AgentKey)
	assert.Contains(t, toolEvents[0].ToolInputJSON, "latest ai news")
	assert.JSONEq(t, `{"result_count": 1}`, toolEvents[0].ToolOutputJSON)
	assert.Equal(t, "0.00000000", toolEvents[0].CreditsCharged)
}

func TestEnforcementRejectsEmptyWallet(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{resp("fine", 40, 0, 10)}}
	f := newFixture(t, gw, Config{EnforceCredits: true})
	agent := f.seedAgent(t, "solo", "Solo", "fast-1")
	sess := f.seedStandalone(t, agent)

	_, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "hello",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeInsufficientCredits, verr.Code)
	assert.Empty(t, gw.requests)

	// A funded wallet clears the gate.
	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		_, err := f.ledger.StageGrant(ctx, tx, f.user.ID, decimal.NewFromInt(10), "admin", "signup grant")
		return err
	}))

	result, err := f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    f.user.ID,
		UserInput: "hello again",
	})
	require.NoError(t, err)
	assert.Equal(t, store.TurnCompleted, result.Status)
	// 10 − (40*0.35+10)/10000 = 9.9976.
	assert.Equal(t, "9.99760000", result.BalanceAfter)
	assert.True(t, result.LowBalance)
}

func TestForeignSessionReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	f := newFixture(t, gw, Config{})
	agent := f.seedAgent(t, "solo", "Solo", "fast-1")
	sess := f.seedStandalone(t, agent)

	stranger, err := f.store.CreateUser(ctx, "stranger@example.com")
	require.NoError(t, err)

	_, err = f.coord.Execute(ctx, Request{
		SessionID: sess.ID,
		UserID:    stranger.ID,
		UserInput: "hello",
	})
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)

	_, err = f.coord.Execute(ctx, Request{
		SessionID: "no-such-session",
		UserID:    f.user.ID,
		UserInput: "hello",
	})
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "session", nerr.Resource)
}

func TestTurnIndicesAreContiguous(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{responses: []*llm.Response{resp("reply", 40, 0, 10)}}
	f := newFixture(t, gw, Config{})
	agent := f.seedAgent(t, "solo", "Solo", "fast-1")
	sess := f.seedStandalone(t, agent)

	for i := 1; i <= 3; i++ {
		result, err := f.coord.Execute(ctx, Request{
			SessionID: sess.ID,
			UserID:    f.user.ID,
			UserInput: fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, i, result.TurnIndex)
	}
}
