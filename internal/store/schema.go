package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements is applied in order at startup. Every statement is
// idempotent so repeated boots are safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS heuristic_rules (
		id BIGSERIAL PRIMARY KEY,
		community_id TEXT,
		rule_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		pattern_kind TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		severity TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ,
		use_count INTEGER NOT NULL DEFAULT 0,
		false_positive_count INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		requires_review BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS heuristic_rules_identity
		ON heuristic_rules (COALESCE(community_id, ''), pattern, pattern_kind)`,

	`CREATE TABLE IF NOT EXISTS conversation_threads (
		id BIGSERIAL PRIMARY KEY,
		community_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		thread_id TEXT,
		starter_user_id TEXT NOT NULL,
		starter_message_id TEXT NOT NULL,
		participants TEXT[] NOT NULL DEFAULT '{}',
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS conversation_threads_lookup
		ON conversation_threads (community_id, channel_id, active)`,

	`CREATE TABLE IF NOT EXISTS conversation_messages (
		message_id TEXT PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversation_threads(id),
		author_id TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS channel_activity (
		community_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		last_message_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (community_id, channel_id, author_id)
	)`,

	`CREATE TABLE IF NOT EXISTS automations (
		community_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		trigger_summary TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		justification TEXT NOT NULL DEFAULT '',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (community_id, channel_id)
	)`,

	`CREATE TABLE IF NOT EXISTS moderation_actions (
		id BIGSERIAL PRIMARY KEY,
		community_id TEXT NOT NULL,
		channel_id TEXT,
		action_type TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		target_user_id TEXT,
		target_username TEXT,
		reason TEXT,
		message_id TEXT,
		metadata JSONB,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS moderation_actions_community
		ON moderation_actions (community_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS community_settings (
		community_id TEXT PRIMARY KEY,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		proactive_moderation BOOLEAN NOT NULL DEFAULT TRUE,
		log_channel_id TEXT,
		persona JSONB
	)`,

	`CREATE TABLE IF NOT EXISTS operator_notes (
		id BIGSERIAL PRIMARY KEY,
		community_id TEXT NOT NULL,
		content TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS reference_channels (
		community_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		recent_messages TEXT NOT NULL DEFAULT '',
		last_fetched TIMESTAMPTZ,
		PRIMARY KEY (community_id, channel_id)
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
