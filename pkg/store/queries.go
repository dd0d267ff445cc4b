package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for missing or soft-deleted rows.
var ErrNotFound = errors.New("not found")

func marshalStrings(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func unmarshalStrings(raw string) []string {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []string{}
	}
	return list
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// ---------------------------------------------------------------------------
// Users / agents / rooms / sessions
// ---------------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, email string) (*User, error) {
	u := &User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`),
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO agents (id, owner_id, agent_key, name, model_alias, role_prompt, tool_permissions_json, deleted_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`),
		a.ID, a.OwnerID, a.AgentKey, a.Name, a.ModelAlias, a.RolePrompt,
		marshalStrings(a.ToolPermissions), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// SoftDeleteAgent stamps deleted_at and mangles agent_key so the
// (owner, agent_key) slot is freed for reuse.
func (s *Store) SoftDeleteAgent(ctx context.Context, agentID string) error {
	a, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	mangled := fmt.Sprintf("deleted:%d:%s", now.UnixNano(), a.AgentKey)
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE agents SET deleted_at = ?, agent_key = ? WHERE id = ? AND deleted_at IS NULL`),
		now, mangled, agentID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner_id, agent_key, name, model_alias, role_prompt, tool_permissions_json, deleted_at, created_at
		 FROM agents WHERE id = ?`), agentID)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var perms string
	var deleted sql.NullTime
	err := row.Scan(&a.ID, &a.OwnerID, &a.AgentKey, &a.Name, &a.ModelAlias,
		&a.RolePrompt, &perms, &deleted, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	a.ToolPermissions = unmarshalStrings(perms)
	a.DeletedAt = timePtr(deleted)
	return &a, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *Room) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO rooms (id, owner_id, current_mode, goal, deleted_at, created_at)
		 VALUES (?, ?, ?, ?, NULL, ?)`),
		r.ID, r.OwnerID, r.CurrentMode, r.Goal, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var r Room
	var deleted sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner_id, current_mode, goal, deleted_at, created_at FROM rooms WHERE id = ?`),
		roomID).Scan(&r.ID, &r.OwnerID, &r.CurrentMode, &r.Goal, &deleted, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}
	r.DeletedAt = timePtr(deleted)
	return &r, nil
}

func (s *Store) SetRoomMode(ctx context.Context, roomID, mode string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE rooms SET current_mode = ? WHERE id = ?`), mode, roomID)
	if err != nil {
		return fmt.Errorf("failed to update room mode: %w", err)
	}
	return nil
}

func (s *Store) AddRoomAgent(ctx context.Context, roomID, agentID string, position int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO room_agents (room_id, agent_id, position, created_at) VALUES (?, ?, ?, ?)`),
		roomID, agentID, position, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert room agent: %w", err)
	}
	return nil
}

// ListRoomAgents returns the room's non-deleted agents ordered by position,
// then membership creation.
func (s *Store) ListRoomAgents(ctx context.Context, roomID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT a.id, a.owner_id, a.agent_key, a.name, a.model_alias, a.role_prompt, a.tool_permissions_json, a.deleted_at, a.created_at
		 FROM room_agents ra JOIN agents a ON a.id = ra.agent_id
		 WHERE ra.room_id = ? AND a.deleted_at IS NULL
		 ORDER BY ra.position, ra.created_at`), roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var perms string
		var deleted sql.NullTime
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.AgentKey, &a.Name, &a.ModelAlias,
			&a.RolePrompt, &perms, &deleted, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room agent: %w", err)
		}
		a.ToolPermissions = unmarshalStrings(perms)
		a.DeletedAt = timePtr(deleted)
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if (sess.RoomID == nil) == (sess.AgentID == nil) {
		return fmt.Errorf("session must be scoped to exactly one of room or agent")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sessions (id, room_id, agent_id, started_by, deleted_at, created_at)
		 VALUES (?, ?, ?, ?, NULL, ?)`),
		sess.ID, nullStr(sess.RoomID), nullStr(sess.AgentID), sess.StartedBy, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	var roomID, agentID sql.NullString
	var deleted sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, room_id, agent_id, started_by, deleted_at, created_at FROM sessions WHERE id = ?`),
		sessionID).Scan(&sess.ID, &roomID, &agentID, &sess.StartedBy, &deleted, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.RoomID = strPtr(roomID)
	sess.AgentID = strPtr(agentID)
	sess.DeletedAt = timePtr(deleted)
	return &sess, nil
}

// ---------------------------------------------------------------------------
// History / turns / summaries
// ---------------------------------------------------------------------------

// ListSessionHistory returns shared messages plus the given agent's private
// ones, ordered by (created_at, id).
func (s *Store) ListSessionHistory(ctx context.Context, sessionID, agentKey string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, turn_id, role, visibility, agent_key, source_agent_key, content, created_at
		 FROM messages
		 WHERE session_id = ? AND (visibility = 'shared' OR (visibility = 'private' AND agent_key = ?))
		 ORDER BY created_at, id`), sessionID, agentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var turnID, agentKey, sourceKey sql.NullString
	if err := rows.Scan(&m.ID, &m.SessionID, &turnID, &m.Role, &m.Visibility,
		&agentKey, &sourceKey, &m.Content, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.TurnID = strPtr(turnID)
	m.AgentKey = strPtr(agentKey)
	m.SourceAgentKey = strPtr(sourceKey)
	return &m, nil
}

// LatestSummary returns the most recent summary for a session, nil when none
// exists.
func (s *Store) LatestSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var sum SessionSummary
	var facts, decisions, questions, items string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, session_id, from_message_id, to_message_id, summary_text,
		        key_facts_json, decisions_json, open_questions_json, action_items_json, created_at
		 FROM session_summaries WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`), sessionID).
		Scan(&sum.ID, &sum.SessionID, &sum.FromMessageID, &sum.ToMessageID, &sum.SummaryText,
			&facts, &decisions, &questions, &items, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	sum.KeyFacts = unmarshalStrings(facts)
	sum.Decisions = unmarshalStrings(decisions)
	sum.OpenQuestions = unmarshalStrings(questions)
	sum.ActionItems = unmarshalStrings(items)
	return &sum, nil
}

// MaxTurnIndex returns the highest turn_index in a session, 0 when empty.
func (s *Store) MaxTurnIndex(ctx context.Context, sessionID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT MAX(turn_index) FROM turns WHERE session_id = ?`), sessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max turn index: %w", err)
	}
	return int(max.Int64), nil
}

// CountTurnsAfter counts turns created strictly after the given time; used to
// derive turn_count_since_last_summary.
func (s *Store) CountTurnsAfter(ctx context.Context, sessionID string, after time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM turns WHERE session_id = ? AND created_at > ?`),
		sessionID, after).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}

func (s *Store) CountTurns(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`), sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}

// GetTurn is used by tests and read surfaces.
func (s *Store) GetTurn(ctx context.Context, turnID string) (*Turn, error) {
	var t Turn
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, session_id, turn_index, mode, user_input, assistant_output, status, created_at
		 FROM turns WHERE id = ?`), turnID).
		Scan(&t.ID, &t.SessionID, &t.TurnIndex, &t.Mode, &t.UserInput, &t.AssistantOutput, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan turn: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTurnMessages(ctx context.Context, turnID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, turn_id, role, visibility, agent_key, source_agent_key, content, created_at
		 FROM messages WHERE turn_id = ? ORDER BY created_at, id`), turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) ListLlmCallEvents(ctx context.Context, turnID string) ([]*LlmCallEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, room_id, session_id, turn_id, agent_id, provider, model_alias, provider_model,
		        fresh_tokens, cached_tokens, output_tokens, total_tokens, oe_tokens, credits_burned,
		        pricing_version, status, created_at
		 FROM llm_call_events WHERE turn_id = ? ORDER BY created_at, id`), turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm call events: %w", err)
	}
	defer rows.Close()

	var events []*LlmCallEvent
	for rows.Next() {
		var e LlmCallEvent
		var roomID, sessionID, evtTurnID, agentID sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &roomID, &sessionID, &evtTurnID, &agentID,
			&e.Provider, &e.ModelAlias, &e.ProviderModel,
			&e.FreshTokens, &e.CachedTokens, &e.OutputTokens, &e.TotalTokens,
			&e.OETokens, &e.CreditsBurned, &e.PricingVersion, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan llm call event: %w", err)
		}
		e.RoomID = strPtr(roomID)
		e.SessionID = strPtr(sessionID)
		e.TurnID = strPtr(evtTurnID)
		e.AgentID = strPtr(agentID)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *Store) ListToolCallEvents(ctx context.Context, turnID string) ([]*ToolCallEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, room_id, session_id, turn_id, agent_key, tool_name, tool_input_json,
		        tool_output_json, status, latency_ms, credits_charged, created_at
		 FROM tool_call_events WHERE turn_id = ? ORDER BY created_at, id`), turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool call events: %w", err)
	}
	defer rows.Close()

	var events []*ToolCallEvent
	for rows.Next() {
		var e ToolCallEvent
		var roomID, agentKey sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &roomID, &e.SessionID, &e.TurnID, &agentKey,
			&e.ToolName, &e.ToolInputJSON, &e.ToolOutputJSON, &e.Status, &e.LatencyMS,
			&e.CreditsCharged, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call event: %w", err)
		}
		e.RoomID = strPtr(roomID)
		e.AgentKey = strPtr(agentKey)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *Store) GetAudit(ctx context.Context, turnID string) (*TurnContextAudit, error) {
	var a TurnContextAudit
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, turn_id, model_context_limit, input_budget, estimated_before, estimated_after_summary,
		        estimated_after_prune, summary_triggered, prune_triggered, overflow_rejected,
		        output_reserve, overhead_reserve, model_alias_used, created_at
		 FROM turn_context_audits WHERE turn_id = ?`), turnID).
		Scan(&a.ID, &a.TurnID, &a.ModelContextLimit, &a.InputBudget, &a.EstimatedBefore,
			&a.EstimatedAfterSummary, &a.EstimatedAfterPrune, &a.SummaryTriggered, &a.PruneTriggered,
			&a.OverflowRejected, &a.OutputReserve, &a.OverheadReserve, &a.ModelAliasUsed, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit: %w", err)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Wallet reads
// ---------------------------------------------------------------------------

func (s *Store) GetWalletByUser(ctx context.Context, userID string) (*CreditWallet, error) {
	var w CreditWallet
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, user_id, balance, created_at, updated_at FROM credit_wallets WHERE user_id = ?`),
		userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

func (s *Store) ListWalletTransactions(ctx context.Context, walletID string) ([]*CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, wallet_id, user_id, amount, kind, reference_id, initiated_by, note, created_at
		 FROM credit_transactions WHERE wallet_id = ? ORDER BY created_at, id`), walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txns []*CreditTransaction
	for rows.Next() {
		var ct CreditTransaction
		var ref, initiatedBy, note sql.NullString
		if err := rows.Scan(&ct.ID, &ct.WalletID, &ct.UserID, &ct.Amount, &ct.Kind,
			&ref, &initiatedBy, &note, &ct.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		ct.ReferenceID = strPtr(ref)
		ct.InitiatedBy = strPtr(initiatedBy)
		ct.Note = strPtr(note)
		txns = append(txns, &ct)
	}
	return txns, rows.Err()
}

// ---------------------------------------------------------------------------
// Uploaded files / pricing
// ---------------------------------------------------------------------------

func (s *Store) InsertUploadedFile(ctx context.Context, f *UploadedFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO uploaded_files (id, owner_id, room_id, session_id, filename, parse_status, parsed_text, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.OwnerID, nullStr(f.RoomID), nullStr(f.SessionID), f.Filename,
		f.ParseStatus, nullStr(f.ParsedText), nullStr(f.ErrorMessage), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert uploaded file: %w", err)
	}
	return nil
}

func (s *Store) GetUploadedFile(ctx context.Context, fileID string) (*UploadedFile, error) {
	var f UploadedFile
	var roomID, sessionID, parsed, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner_id, room_id, session_id, filename, parse_status, parsed_text, error_message, created_at
		 FROM uploaded_files WHERE id = ?`), fileID).
		Scan(&f.ID, &f.OwnerID, &roomID, &sessionID, &f.Filename, &f.ParseStatus, &parsed, &errMsg, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan uploaded file: %w", err)
	}
	f.RoomID = strPtr(roomID)
	f.SessionID = strPtr(sessionID)
	f.ParsedText = strPtr(parsed)
	f.ErrorMessage = strPtr(errMsg)
	return &f, nil
}

// ActivePricing implements pricing.Source: the single active version's rows.
func (s *Store) ActivePricing(ctx context.Context) (string, map[string]float64, error) {
	var versionID, label string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label FROM pricing_versions WHERE is_active = TRUE ORDER BY effective_date DESC LIMIT 1`).
		Scan(&versionID, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", map[string]float64{}, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to query active pricing version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT model_alias, multiplier FROM model_pricing WHERE version_id = ?`), versionID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query model pricing: %w", err)
	}
	defer rows.Close()

	multipliers := make(map[string]float64)
	for rows.Next() {
		var alias string
		var mult float64
		if err := rows.Scan(&alias, &mult); err != nil {
			return "", nil, fmt.Errorf("failed to scan model pricing: %w", err)
		}
		multipliers[alias] = mult
	}
	return label, multipliers, rows.Err()
}

func (s *Store) InsertPricingVersion(ctx context.Context, v *PricingVersion, rows []ModelPricing) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		if v.IsActive {
			if _, err := tx.tx.ExecContext(ctx, `UPDATE pricing_versions SET is_active = FALSE`); err != nil {
				return fmt.Errorf("failed to deactivate pricing versions: %w", err)
			}
		}
		_, err := tx.tx.ExecContext(ctx, s.rebind(
			`INSERT INTO pricing_versions (id, label, effective_date, is_active) VALUES (?, ?, ?, ?)`),
			v.ID, v.Label, v.EffectiveDate, v.IsActive)
		if err != nil {
			return fmt.Errorf("failed to insert pricing version: %w", err)
		}
		for _, r := range rows {
			_, err := tx.tx.ExecContext(ctx, s.rebind(
				`INSERT INTO model_pricing (version_id, model_alias, multiplier) VALUES (?, ?, ?)`),
				v.ID, r.ModelAlias, r.Multiplier)
			if err != nil {
				return fmt.Errorf("failed to insert model pricing: %w", err)
			}
		}
		return nil
	})
}
