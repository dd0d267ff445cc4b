package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DDL is written portably: identical statements run on sqlite, postgres and
// mysql. Uniqueness that the pipeline relies on is declared inline so every
// dialect enforces it the same way.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (email)
);

CREATE TABLE IF NOT EXISTS agents (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    agent_key VARCHAR(128) NOT NULL,
    name VARCHAR(255) NOT NULL,
    model_alias VARCHAR(128) NOT NULL,
    role_prompt TEXT NOT NULL,
    tool_permissions_json TEXT NOT NULL,
    deleted_at TIMESTAMP NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (owner_id, agent_key)
);

CREATE TABLE IF NOT EXISTS rooms (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    current_mode VARCHAR(32) NOT NULL,
    goal TEXT NOT NULL,
    deleted_at TIMESTAMP NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_agents (
    room_id VARCHAR(64) NOT NULL,
    agent_id VARCHAR(64) NOT NULL,
    position INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (room_id, agent_id)
);

CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    room_id VARCHAR(64) NULL,
    agent_id VARCHAR(64) NULL,
    started_by VARCHAR(64) NOT NULL,
    deleted_at TIMESTAMP NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    turn_index INTEGER NOT NULL,
    mode VARCHAR(32) NOT NULL,
    user_input TEXT NOT NULL,
    assistant_output TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (session_id, turn_index)
);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    turn_id VARCHAR(64) NULL,
    role VARCHAR(16) NOT NULL,
    visibility VARCHAR(16) NOT NULL,
    agent_key VARCHAR(128) NULL,
    source_agent_key VARCHAR(128) NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS session_summaries (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    from_message_id VARCHAR(64) NOT NULL,
    to_message_id VARCHAR(64) NOT NULL,
    summary_text TEXT NOT NULL,
    key_facts_json TEXT NOT NULL,
    decisions_json TEXT NOT NULL,
    open_questions_json TEXT NOT NULL,
    action_items_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turn_context_audits (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    turn_id VARCHAR(64) NOT NULL,
    model_context_limit INTEGER NOT NULL,
    input_budget INTEGER NOT NULL,
    estimated_before INTEGER NOT NULL,
    estimated_after_summary INTEGER NOT NULL,
    estimated_after_prune INTEGER NOT NULL,
    summary_triggered BOOLEAN NOT NULL,
    prune_triggered BOOLEAN NOT NULL,
    overflow_rejected BOOLEAN NOT NULL,
    output_reserve INTEGER NOT NULL,
    overhead_reserve INTEGER NOT NULL,
    model_alias_used VARCHAR(128) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (turn_id)
);

CREATE TABLE IF NOT EXISTS llm_call_events (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    room_id VARCHAR(64) NULL,
    session_id VARCHAR(64) NULL,
    turn_id VARCHAR(64) NULL,
    agent_id VARCHAR(64) NULL,
    provider VARCHAR(64) NOT NULL,
    model_alias VARCHAR(128) NOT NULL,
    provider_model VARCHAR(128) NOT NULL,
    fresh_tokens INTEGER NOT NULL,
    cached_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    oe_tokens DOUBLE PRECISION NOT NULL,
    credits_burned VARCHAR(40) NOT NULL,
    pricing_version VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_call_events (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    room_id VARCHAR(64) NULL,
    session_id VARCHAR(64) NOT NULL,
    turn_id VARCHAR(64) NOT NULL,
    agent_key VARCHAR(128) NULL,
    tool_name VARCHAR(64) NOT NULL,
    tool_input_json TEXT NOT NULL,
    tool_output_json TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    latency_ms BIGINT NOT NULL,
    credits_charged VARCHAR(40) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_wallets (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    balance VARCHAR(40) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (user_id)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    wallet_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    amount VARCHAR(40) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    reference_id VARCHAR(64) NULL,
    initiated_by VARCHAR(64) NULL,
    note TEXT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_versions (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    label VARCHAR(128) NOT NULL,
    effective_date TIMESTAMP NOT NULL,
    is_active BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS model_pricing (
    version_id VARCHAR(64) NOT NULL,
    model_alias VARCHAR(128) NOT NULL,
    multiplier DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (version_id, model_alias)
);

CREATE TABLE IF NOT EXISTS uploaded_files (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    room_id VARCHAR(64) NULL,
    session_id VARCHAR(64) NULL,
    filename VARCHAR(255) NOT NULL,
    parse_status VARCHAR(16) NOT NULL,
    parsed_text TEXT NULL,
    error_message TEXT NULL,
    created_at TIMESTAMP NOT NULL
)
`

var schemaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(session_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_llm_events_turn ON llm_call_events(turn_id)",
	"CREATE INDEX IF NOT EXISTS idx_tool_events_turn ON tool_call_events(turn_id)",
	"CREATE INDEX IF NOT EXISTS idx_transactions_reference ON credit_transactions(reference_id)",
}

func (s *Store) initSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// MySQL predates CREATE INDEX IF NOT EXISTS; duplicate-index errors there
	// mean the index already exists and are safe to skip.
	for _, stmt := range schemaIndexes {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			if s.dialect == "mysql" {
				continue
			}
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
