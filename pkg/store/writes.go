package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Write methods on Tx. The turn coordinator persists every artifact of a turn
// inside a single transaction so readers never observe a half-written turn.

func (t *Tx) InsertTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO turns (id, session_id, turn_index, mode, user_input, assistant_output, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		turn.ID, turn.SessionID, turn.TurnIndex, turn.Mode, turn.UserInput,
		turn.AssistantOutput, turn.Status, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

func (t *Tx) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO messages (id, session_id, turn_id, role, visibility, agent_key, source_agent_key, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, nullStr(m.TurnID), m.Role, m.Visibility,
		nullStr(m.AgentKey), nullStr(m.SourceAgentKey), m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (t *Tx) InsertSummary(ctx context.Context, sum *SessionSummary) error {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO session_summaries (id, session_id, from_message_id, to_message_id, summary_text,
		        key_facts_json, decisions_json, open_questions_json, action_items_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sum.ID, sum.SessionID, sum.FromMessageID, sum.ToMessageID, sum.SummaryText,
		marshalStrings(sum.KeyFacts), marshalStrings(sum.Decisions),
		marshalStrings(sum.OpenQuestions), marshalStrings(sum.ActionItems), sum.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func (t *Tx) InsertAudit(ctx context.Context, a *TurnContextAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO turn_context_audits (id, turn_id, model_context_limit, input_budget, estimated_before,
		        estimated_after_summary, estimated_after_prune, summary_triggered, prune_triggered,
		        overflow_rejected, output_reserve, overhead_reserve, model_alias_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TurnID, a.ModelContextLimit, a.InputBudget, a.EstimatedBefore,
		a.EstimatedAfterSummary, a.EstimatedAfterPrune, a.SummaryTriggered, a.PruneTriggered,
		a.OverflowRejected, a.OutputReserve, a.OverheadReserve, a.ModelAliasUsed, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}
	return nil
}

func (t *Tx) InsertLlmCallEvent(ctx context.Context, e *LlmCallEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO llm_call_events (id, user_id, room_id, session_id, turn_id, agent_id, provider,
		        model_alias, provider_model, fresh_tokens, cached_tokens, output_tokens, total_tokens,
		        oe_tokens, credits_burned, pricing_version, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.UserID, nullStr(e.RoomID), nullStr(e.SessionID), nullStr(e.TurnID), nullStr(e.AgentID),
		e.Provider, e.ModelAlias, e.ProviderModel, e.FreshTokens, e.CachedTokens, e.OutputTokens,
		e.TotalTokens, e.OETokens, e.CreditsBurned, e.PricingVersion, e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert llm call event: %w", err)
	}
	return nil
}

func (t *Tx) InsertToolCallEvent(ctx context.Context, e *ToolCallEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO tool_call_events (id, user_id, room_id, session_id, turn_id, agent_key, tool_name,
		        tool_input_json, tool_output_json, status, latency_ms, credits_charged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.UserID, nullStr(e.RoomID), e.SessionID, e.TurnID, nullStr(e.AgentKey),
		e.ToolName, e.ToolInputJSON, e.ToolOutputJSON, e.Status, e.LatencyMS,
		e.CreditsCharged, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tool call event: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wallet
// ---------------------------------------------------------------------------

// GetWallet reads a user's wallet within the transaction. Postgres and mysql
// take a row lock; sqlite serializes writers anyway.
func (t *Tx) GetWallet(ctx context.Context, userID string) (*CreditWallet, error) {
	query := `SELECT id, user_id, balance, created_at, updated_at FROM credit_wallets WHERE user_id = ?`
	if t.store.dialect != "sqlite" {
		query += ` FOR UPDATE`
	}
	var w CreditWallet
	err := t.tx.QueryRowContext(ctx, t.store.rebind(query), userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

func (t *Tx) InsertWallet(ctx context.Context, w *CreditWallet) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO credit_wallets (id, user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
		w.ID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	return nil
}

func (t *Tx) UpdateWalletBalance(ctx context.Context, walletID, balance string) error {
	res, err := t.tx.ExecContext(ctx, t.store.rebind(
		`UPDATE credit_wallets SET balance = ?, updated_at = ? WHERE id = ?`),
		balance, time.Now().UTC(), walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *Tx) InsertCreditTransaction(ctx context.Context, ct *CreditTransaction) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, t.store.rebind(
		`INSERT INTO credit_transactions (id, wallet_id, user_id, amount, kind, reference_id, initiated_by, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ct.ID, ct.WalletID, ct.UserID, ct.Amount, ct.Kind,
		nullStr(ct.ReferenceID), nullStr(ct.InitiatedBy), nullStr(ct.Note), ct.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}
