package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// PostgresStore is the production Store backed by database/sql + lib/pq.
type PostgresStore struct {
	db       *sql.DB
	defaults SettingsDefaults
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, defaults: SettingsDefaults{ProactiveModeration: true}}
}

// Open connects to Postgres, verifies the connection, and applies the schema.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// SetDefaults replaces the snapshot values used for communities that have
// no settings row yet. Call it before serving traffic.
func (s *PostgresStore) SetDefaults(d SettingsDefaults) { s.defaults = d }

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the handle for components that need their own pool view.
func (s *PostgresStore) DB() *sql.DB { return s.db }

const heuristicColumns = `id, community_id, rule_type, pattern, pattern_kind, confidence, severity,
	reason, created_by, created_at, last_used_at, use_count, false_positive_count,
	active, requires_review, version`

func (s *PostgresStore) ActiveHeuristics(ctx context.Context, communityID string) ([]models.HeuristicRule, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+heuristicColumns+`
        FROM heuristic_rules
        WHERE active AND NOT requires_review
          AND (community_id IS NULL OR community_id = $1)
        ORDER BY confidence DESC, use_count DESC
    `, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.HeuristicRule, 0)
	for rows.Next() {
		r, err := scanHeuristic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HeuristicByID(ctx context.Context, id int64) (*models.HeuristicRule, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+heuristicColumns+` FROM heuristic_rules WHERE id = $1
    `, id)
	r, err := scanHeuristic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) UpsertHeuristic(ctx context.Context, rule models.HeuristicRule) (models.HeuristicRule, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.HeuristicRule{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
        SELECT `+heuristicColumns+`
        FROM heuristic_rules
        WHERE COALESCE(community_id, '') = COALESCE($1, '')
          AND pattern = $2 AND pattern_kind = $3
        FOR UPDATE
    `, rule.CommunityID, rule.Pattern, string(rule.PatternKind))

	existing, err := scanHeuristic(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		inserted := rule
		err = tx.QueryRowContext(ctx, `
            INSERT INTO heuristic_rules
                (community_id, rule_type, pattern, pattern_kind, confidence, severity, reason, created_by, active)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
            RETURNING id, created_at, version
        `, rule.CommunityID, rule.RuleType, rule.Pattern, string(rule.PatternKind),
			rule.Confidence, string(rule.Severity), rule.Reason, rule.CreatedBy,
		).Scan(&inserted.ID, &inserted.CreatedAt, &inserted.Version)
		if err != nil {
			return models.HeuristicRule{}, false, err
		}
		inserted.Active = true
		return inserted, true, tx.Commit()

	case err != nil:
		return models.HeuristicRule{}, false, err
	}

	// Re-suggesting a known pattern strengthens it instead of duplicating it.
	merged := *existing
	if rule.Confidence > merged.Confidence {
		merged.Confidence = rule.Confidence
	}
	merged.Severity = models.MaxSeverity(merged.Severity, rule.Severity)
	merged.Version++
	merged.Active = true

	_, err = tx.ExecContext(ctx, `
        UPDATE heuristic_rules
        SET confidence = $1, severity = $2, version = $3, active = TRUE
        WHERE id = $4
    `, merged.Confidence, string(merged.Severity), merged.Version, merged.ID)
	if err != nil {
		return models.HeuristicRule{}, false, err
	}
	return merged, false, tx.Commit()
}

func (s *PostgresStore) RecordHeuristicUse(ctx context.Context, ruleID int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE heuristic_rules
        SET use_count = use_count + 1, last_used_at = now()
        WHERE id = $1
    `, ruleID)
	return err
}

func (s *PostgresStore) RecordFalsePositive(ctx context.Context, ruleID int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE heuristic_rules
        SET false_positive_count = false_positive_count + 1,
            requires_review = (false_positive_count + 1 >= $2),
            active = active AND (false_positive_count + 1 < $2)
        WHERE id = $1
    `, ruleID, reviewThreshold)
	return err
}

func (s *PostgresStore) SetHeuristicActive(ctx context.Context, ruleID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE heuristic_rules SET active = $2, requires_review = FALSE WHERE id = $1
    `, ruleID, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const conversationColumns = `id, community_id, channel_id, thread_id, starter_user_id,
	starter_message_id, participants, last_activity_at, active, created_at`

func (s *PostgresStore) ActiveConversation(ctx context.Context, communityID, channelID string, threadID *string, userID string, window time.Duration) (*models.ConversationThread, error) {
	var row *sql.Row
	if threadID != nil {
		row = s.db.QueryRowContext(ctx, `
            SELECT `+conversationColumns+`
            FROM conversation_threads
            WHERE community_id = $1 AND channel_id = $2 AND thread_id = $3 AND active
            ORDER BY last_activity_at DESC LIMIT 1
        `, communityID, channelID, *threadID)
	} else {
		cutoff := time.Now().UTC().Add(-window)
		row = s.db.QueryRowContext(ctx, `
            SELECT `+conversationColumns+`
            FROM conversation_threads
            WHERE community_id = $1 AND channel_id = $2 AND thread_id IS NULL AND active
              AND $3 = ANY(participants) AND last_activity_at >= $4
            ORDER BY last_activity_at DESC LIMIT 1
        `, communityID, channelID, userID, cutoff)
	}

	t, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) StartConversation(ctx context.Context, t models.ConversationThread) (models.ConversationThread, error) {
	if t.Participants == nil {
		t.Participants = []string{t.StarterUserID}
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO conversation_threads
            (community_id, channel_id, thread_id, starter_user_id, starter_message_id, participants, last_activity_at, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
        RETURNING id, created_at
    `, t.CommunityID, t.ChannelID, t.ThreadID, t.StarterUserID, t.StarterMessageID,
		pq.Array(t.Participants), t.LastActivityAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return models.ConversationThread{}, err
	}
	t.Active = true
	return t, nil
}

func (s *PostgresStore) AppendConversationMessage(ctx context.Context, msg models.ConversationMessage) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversation_messages
            (message_id, conversation_id, author_id, author_name, content, is_bot, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (message_id) DO NOTHING
    `, msg.MessageID, msg.ConversationID, msg.AuthorID, msg.AuthorName, msg.Content, msg.IsBot, msg.CreatedAt)
	return err
}

func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID int64, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE conversation_threads
        SET last_activity_at = $2,
            participants = CASE WHEN $3 = ANY(participants)
                THEN participants ELSE array_append(participants, $3) END
        WHERE id = $1
    `, conversationID, at, userID)
	return err
}

func (s *PostgresStore) ConversationHistory(ctx context.Context, conversationID int64, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT message_id, conversation_id, author_id, author_name, content, is_bot, created_at
        FROM (
            SELECT message_id, conversation_id, author_id, author_name, content, is_bot, created_at
            FROM conversation_messages
            WHERE conversation_id = $1
            ORDER BY created_at DESC LIMIT $2
        ) recent
        ORDER BY created_at ASC
    `, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ConversationMessage, 0)
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.AuthorID, &m.AuthorName, &m.Content, &m.IsBot, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ConversationMessage(ctx context.Context, messageID string) (*models.ConversationMessage, error) {
	var m models.ConversationMessage
	err := s.db.QueryRowContext(ctx, `
        SELECT message_id, conversation_id, author_id, author_name, content, is_bot, created_at
        FROM conversation_messages WHERE message_id = $1
    `, messageID).Scan(&m.MessageID, &m.ConversationID, &m.AuthorID, &m.AuthorName, &m.Content, &m.IsBot, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE conversation_threads SET active = FALSE WHERE id = $1
    `, conversationID)
	return err
}

func (s *PostgresStore) SweepStaleConversations(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversation_threads SET active = FALSE
        WHERE active AND last_activity_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) RecordChannelActivity(ctx context.Context, communityID, channelID, authorID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO channel_activity (community_id, channel_id, author_id, last_message_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (community_id, channel_id, author_id)
        DO UPDATE SET last_message_at = EXCLUDED.last_message_at
    `, communityID, channelID, authorID, at)
	return err
}

func (s *PostgresStore) RecentChannelAuthors(ctx context.Context, communityID, channelID string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT author_id FROM channel_activity
        WHERE community_id = $1 AND channel_id = $2 AND last_message_at >= $3
    `, communityID, channelID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAutomation(ctx context.Context, communityID string, rule models.AutomationRule) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO automations (community_id, channel_id, trigger_summary, action, justification, keywords, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (community_id, channel_id) DO UPDATE SET
            trigger_summary = EXCLUDED.trigger_summary,
            action = EXCLUDED.action,
            justification = EXCLUDED.justification,
            keywords = EXCLUDED.keywords,
            active = EXCLUDED.active
    `, communityID, rule.ChannelID, rule.TriggerSummary, string(rule.Action),
		rule.Justification, pq.Array(ensureNotNil(rule.Keywords)), rule.Active)
	return err
}

func (s *PostgresStore) DeactivateAutomation(ctx context.Context, communityID, channelID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE automations SET active = FALSE WHERE community_id = $1 AND channel_id = $2
    `, communityID, channelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertModerationRecord(ctx context.Context, rec models.ModerationRecord) (int64, error) {
	var metaJSON []byte
	var err error
	if rec.Metadata != nil {
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return 0, err
		}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO moderation_actions
            (community_id, channel_id, action_type, summary, target_user_id, target_username, reason, message_id, metadata, dry_run, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id
    `, rec.CommunityID, rec.ChannelID, rec.ActionType, rec.Summary,
		rec.TargetUserID, rec.TargetUsername, rec.Reason, rec.MessageID,
		metaJSON, rec.DryRun, createdAt,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) ListModerationRecords(ctx context.Context, communityID string, limit int) ([]models.ModerationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, community_id, channel_id, action_type, summary, target_user_id,
               target_username, reason, message_id, metadata, dry_run, created_at
        FROM moderation_actions
        WHERE community_id = $1
        ORDER BY created_at DESC LIMIT $2
    `, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ModerationRecord, 0)
	for rows.Next() {
		var rec models.ModerationRecord
		var metaJSON []byte
		if err := rows.Scan(&rec.ID, &rec.CommunityID, &rec.ChannelID, &rec.ActionType,
			&rec.Summary, &rec.TargetUserID, &rec.TargetUsername, &rec.Reason,
			&rec.MessageID, &metaJSON, &rec.DryRun, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Communities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT community_id FROM community_settings
        UNION
        SELECT DISTINCT community_id FROM channel_activity
        UNION
        SELECT DISTINCT community_id FROM conversation_threads
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Snapshot(ctx context.Context, communityID string) (*models.CommunitySnapshot, error) {
	snap := &models.CommunitySnapshot{
		CommunityID:         communityID,
		DryRun:              s.defaults.DryRun,
		ProactiveModeration: s.defaults.ProactiveModeration,
		Persona:             models.DefaultPersona(),
		Automations:         make(map[string]models.AutomationRule),
		FetchedAt:           time.Now().UTC(),
	}

	var personaJSON []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT dry_run, proactive_moderation, log_channel_id, persona
        FROM community_settings WHERE community_id = $1
    `, communityID).Scan(&snap.DryRun, &snap.ProactiveModeration, &snap.LogChannelID, &personaJSON)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if len(personaJSON) > 0 {
		if err := json.Unmarshal(personaJSON, &snap.Persona); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT channel_id, trigger_summary, action, justification, keywords, active
        FROM automations WHERE community_id = $1
    `, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rule models.AutomationRule
		var action string
		if err := rows.Scan(&rule.ChannelID, &rule.TriggerSummary, &action,
			&rule.Justification, pq.Array(&rule.Keywords), &rule.Active); err != nil {
			return nil, err
		}
		rule.Action = models.ModAction(action)
		snap.Automations[rule.ChannelID] = rule
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refRows, err := s.db.QueryContext(ctx, `
        SELECT channel_id, label, notes, recent_messages, last_fetched
        FROM reference_channels WHERE community_id = $1
    `, communityID)
	if err != nil {
		return nil, err
	}
	defer refRows.Close()
	for refRows.Next() {
		var rc models.ReferenceChannel
		if err := refRows.Scan(&rc.ChannelID, &rc.Label, &rc.Notes, &rc.RecentMessages, &rc.LastFetched); err != nil {
			return nil, err
		}
		snap.ReferenceChannels = append(snap.ReferenceChannels, rc)
	}
	if err := refRows.Err(); err != nil {
		return nil, err
	}

	noteRows, err := s.db.QueryContext(ctx, `
        SELECT id, community_id, content, author, created_at
        FROM operator_notes WHERE community_id = $1 ORDER BY created_at ASC
    `, communityID)
	if err != nil {
		return nil, err
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n models.OperatorNote
		if err := noteRows.Scan(&n.ID, &n.CommunityID, &n.Content, &n.Author, &n.CreatedAt); err != nil {
			return nil, err
		}
		snap.Notes = append(snap.Notes, n)
	}
	return snap, noteRows.Err()
}

func (s *PostgresStore) SetDryRun(ctx context.Context, communityID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO community_settings (community_id, dry_run) VALUES ($1, $2)
        ON CONFLICT (community_id) DO UPDATE SET dry_run = EXCLUDED.dry_run
    `, communityID, enabled)
	return err
}

func (s *PostgresStore) SetProactive(ctx context.Context, communityID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO community_settings (community_id, proactive_moderation) VALUES ($1, $2)
        ON CONFLICT (community_id) DO UPDATE SET proactive_moderation = EXCLUDED.proactive_moderation
    `, communityID, enabled)
	return err
}

func (s *PostgresStore) SetLogChannel(ctx context.Context, communityID string, channelID *string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO community_settings (community_id, log_channel_id) VALUES ($1, $2)
        ON CONFLICT (community_id) DO UPDATE SET log_channel_id = EXCLUDED.log_channel_id
    `, communityID, channelID)
	return err
}

func (s *PostgresStore) SetPersona(ctx context.Context, communityID string, p models.PersonaProfile) error {
	personaJSON, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO community_settings (community_id, persona) VALUES ($1, $2)
        ON CONFLICT (community_id) DO UPDATE SET persona = EXCLUDED.persona
    `, communityID, personaJSON)
	return err
}

func (s *PostgresStore) AddNote(ctx context.Context, note models.OperatorNote) (models.OperatorNote, error) {
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO operator_notes (community_id, content, author)
        VALUES ($1,$2,$3)
        RETURNING id, created_at
    `, note.CommunityID, note.Content, note.Author).Scan(&note.ID, &note.CreatedAt)
	return note, err
}

func (s *PostgresStore) DeleteNote(ctx context.Context, communityID string, noteID int64) error {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM operator_notes WHERE community_id = $1 AND id = $2
    `, communityID, noteID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetReferenceChannel(ctx context.Context, communityID string, rc models.ReferenceChannel) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO reference_channels (community_id, channel_id, label, notes, recent_messages, last_fetched)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (community_id, channel_id) DO UPDATE SET
            label = EXCLUDED.label,
            notes = EXCLUDED.notes,
            recent_messages = EXCLUDED.recent_messages,
            last_fetched = EXCLUDED.last_fetched
    `, communityID, rc.ChannelID, rc.Label, rc.Notes, rc.RecentMessages, rc.LastFetched)
	return err
}

func (s *PostgresStore) RemoveReferenceChannel(ctx context.Context, communityID, channelID string) error {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM reference_channels WHERE community_id = $1 AND channel_id = $2
    `, communityID, channelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHeuristic(scanner interface{ Scan(dest ...any) error }) (*models.HeuristicRule, error) {
	var r models.HeuristicRule
	var kind, severity string
	err := scanner.Scan(&r.ID, &r.CommunityID, &r.RuleType, &r.Pattern, &kind,
		&r.Confidence, &severity, &r.Reason, &r.CreatedBy, &r.CreatedAt,
		&r.LastUsedAt, &r.UseCount, &r.FalsePositiveCount, &r.Active,
		&r.RequiresReview, &r.Version)
	if err != nil {
		return nil, err
	}
	r.PatternKind = models.PatternKind(kind)
	r.Severity = models.Severity(severity)
	return &r, nil
}

func scanConversation(scanner interface{ Scan(dest ...any) error }) (*models.ConversationThread, error) {
	var t models.ConversationThread
	err := scanner.Scan(&t.ID, &t.CommunityID, &t.ChannelID, &t.ThreadID,
		&t.StarterUserID, &t.StarterMessageID, pq.Array(&t.Participants),
		&t.LastActivityAt, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Always store a non-nil array so Postgres gets '{}' instead of NULL
func ensureNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
