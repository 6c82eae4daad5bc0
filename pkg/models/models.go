package models

import (
	"time"
)

// Moderation domain models

// PatternKind determines how a heuristic pattern is evaluated against text
type PatternKind string

const (
	PatternExact    PatternKind = "exact"    // case-insensitive word-boundary match
	PatternRegex    PatternKind = "regex"    // case-insensitive regular expression
	PatternFuzzy    PatternKind = "fuzzy"    // similarity ratio against the whole message
	PatternContains PatternKind = "contains" // case-insensitive substring
)

// Valid reports whether the kind is one of the supported matching modes
func (k PatternKind) Valid() bool {
	switch k {
	case PatternExact, PatternRegex, PatternFuzzy, PatternContains:
		return true
	}
	return false
}

// Severity classifies how serious a detected violation is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns a comparable ordering value; unknown severities rank lowest
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the more severe of two values
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// HeuristicRule is a stored detection pattern. CommunityID is nil for global
// rules that apply to every community. Uniqueness is enforced on
// (community_id, pattern, pattern_kind); re-inserting an existing pattern
// raises confidence and severity to the max of old and new instead of
// duplicating the row. Rules are deactivated, never deleted.
type HeuristicRule struct {
	ID                 int64       `json:"id" db:"id"`
	CommunityID        *string     `json:"community_id,omitempty" db:"community_id"`
	RuleType           string      `json:"rule_type" db:"rule_type"`
	Pattern            string      `json:"pattern" db:"pattern"`
	PatternKind        PatternKind `json:"pattern_kind" db:"pattern_kind"`
	Confidence         float64     `json:"confidence" db:"confidence"`
	Severity           Severity    `json:"severity" db:"severity"`
	Reason             string      `json:"reason" db:"reason"`
	CreatedBy          string      `json:"created_by" db:"created_by"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	LastUsedAt         *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
	UseCount           int         `json:"use_count" db:"use_count"`
	FalsePositiveCount int         `json:"false_positive_count" db:"false_positive_count"`
	Active             bool        `json:"active" db:"active"`
	RequiresReview     bool        `json:"requires_review" db:"requires_review"`
	Version            int         `json:"version" db:"version"`
}

// Global reports whether the rule applies to all communities
func (r *HeuristicRule) Global() bool {
	return r.CommunityID == nil
}

// HeuristicMatch is the result of a pattern-matcher hit
type HeuristicMatch struct {
	Rule    HeuristicRule `json:"rule"`
	Snippet string        `json:"snippet"`
}

// ConversationThread tracks one continuous human-bot exchange. At most one
// active thread exists per (community, channel, platform thread) when the
// exchange is scoped to a thread, otherwise per (community, channel, starter)
// within the continuation window.
type ConversationThread struct {
	ID               int64     `json:"id" db:"id"`
	CommunityID      string    `json:"community_id" db:"community_id"`
	ChannelID        string    `json:"channel_id" db:"channel_id"`
	ThreadID         *string   `json:"thread_id,omitempty" db:"thread_id"`
	StarterUserID    string    `json:"starter_user_id" db:"starter_user_id"`
	StarterMessageID string    `json:"starter_message_id" db:"starter_message_id"`
	Participants     []string  `json:"participants" db:"participants"`
	LastActivityAt   time.Time `json:"last_activity_at" db:"last_activity_at"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ConversationMessage is an append-only record of one message inside a
// conversation. Inserts are idempotent on MessageID.
type ConversationMessage struct {
	MessageID      string    `json:"message_id" db:"message_id"`
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	AuthorID       string    `json:"author_id" db:"author_id"`
	AuthorName     string    `json:"author_name" db:"author_name"`
	Content        string    `json:"content" db:"content"`
	IsBot          bool      `json:"is_bot" db:"is_bot"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ModAction is the closed set of platform interventions
type ModAction string

const (
	ActionDeleteMessage ModAction = "delete_message"
	ActionWarn          ModAction = "warn"
	ActionTimeout       ModAction = "timeout"
	ActionKick          ModAction = "kick"
	ActionBan           ModAction = "ban"
	ActionFlag          ModAction = "flag"
)

// Valid reports whether the action is a known intervention
func (a ModAction) Valid() bool {
	switch a {
	case ActionDeleteMessage, ActionWarn, ActionTimeout, ActionKick, ActionBan, ActionFlag:
		return true
	}
	return false
}

// AutomationRule is a deterministic keyword policy bound to one channel.
// Empty Keywords means the rule matches every message in the channel.
type AutomationRule struct {
	ChannelID      string    `json:"channel_id" db:"channel_id"`
	TriggerSummary string    `json:"trigger_summary" db:"trigger_summary"`
	Action         ModAction `json:"action" db:"action"`
	Justification  string    `json:"justification" db:"justification"`
	Keywords       []string  `json:"keywords" db:"keywords"`
	Active         bool      `json:"active" db:"active"`
}

// ModerationRecord is one row of the append-only audit trail. Simulated
// actions are recorded with DryRun set instead of being skipped.
type ModerationRecord struct {
	ID             int64          `json:"id" db:"id"`
	CommunityID    string         `json:"community_id" db:"community_id"`
	ChannelID      *string        `json:"channel_id,omitempty" db:"channel_id"`
	ActionType     string         `json:"action_type" db:"action_type"`
	Summary        string         `json:"summary" db:"summary"`
	TargetUserID   *string        `json:"target_user_id,omitempty" db:"target_user_id"`
	TargetUsername *string        `json:"target_username,omitempty" db:"target_username"`
	Reason         *string        `json:"reason,omitempty" db:"reason"`
	MessageID      *string        `json:"message_id,omitempty" db:"message_id"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	DryRun         bool           `json:"dry_run" db:"dry_run"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// PersonaProfile configures how the bot presents itself in replies
type PersonaProfile struct {
	Name              string   `json:"name" db:"name"`
	Description       string   `json:"description" db:"description"`
	Interests         []string `json:"interests" db:"interests"`
	ConversationStyle string   `json:"conversation_style" db:"conversation_style"`
}

// DefaultPersona returns the persona used until an operator configures one
func DefaultPersona() PersonaProfile {
	return PersonaProfile{
		Name:              "ModGPT",
		Description:       "A diligent, fair moderator who values context.",
		ConversationStyle: "Friendly, concise, proactive when needed, otherwise quietly attentive.",
	}
}

// ReferenceChannel points at a channel whose content (rules, guidelines)
// feeds the reasoning system prompt
type ReferenceChannel struct {
	ChannelID      string     `json:"channel_id" db:"channel_id"`
	Label          string     `json:"label" db:"label"`
	Notes          string     `json:"notes" db:"notes"`
	RecentMessages string     `json:"recent_messages,omitempty" db:"recent_messages"`
	LastFetched    *time.Time `json:"last_fetched,omitempty" db:"last_fetched"`
}

// OperatorNote is a persistent instruction recorded by an administrator
type OperatorNote struct {
	ID          int64     `json:"id" db:"id"`
	CommunityID string    `json:"community_id" db:"community_id"`
	Content     string    `json:"content" db:"content"`
	Author      string    `json:"author" db:"author"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CommunitySnapshot is the immutable per-event view of a community's
// configuration. It is fetched once at the start of event handling and
// passed down the pipeline; nothing mutates it mid-event.
type CommunitySnapshot struct {
	CommunityID         string                    `json:"community_id"`
	DryRun              bool                      `json:"dry_run"`
	ProactiveModeration bool                      `json:"proactive_moderation"`
	Persona             PersonaProfile            `json:"persona"`
	ReferenceChannels   []ReferenceChannel        `json:"reference_channels"`
	Notes               []OperatorNote            `json:"notes"`
	Automations         map[string]AutomationRule `json:"automations"`
	LogChannelID        *string                   `json:"log_channel_id,omitempty"`
	FetchedAt           time.Time                 `json:"fetched_at"`
}

// AutomationFor returns the active rule bound to the channel, if any
func (s *CommunitySnapshot) AutomationFor(channelID string) *AutomationRule {
	rule, ok := s.Automations[channelID]
	if !ok || !rule.Active {
		return nil
	}
	return &rule
}
