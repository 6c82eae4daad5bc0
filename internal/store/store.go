package store

import (
	"context"
	"errors"
	"time"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface for the moderation pipeline. All writes
// that shape future decisions (heuristics, automations, settings) are
// idempotent upserts; the moderation record table is append-only.
type Store interface {
	// Heuristic rules. ActiveHeuristics returns global rules plus the
	// community's own, ordered by confidence desc then use_count desc so a
	// scan tries the strongest signals first.
	ActiveHeuristics(ctx context.Context, communityID string) ([]models.HeuristicRule, error)
	HeuristicByID(ctx context.Context, id int64) (*models.HeuristicRule, error)
	// UpsertHeuristic inserts the rule or, when (community, pattern, kind)
	// already exists, raises confidence and severity to the max of old and
	// new and bumps the version. The bool result reports whether a new row
	// was created.
	UpsertHeuristic(ctx context.Context, rule models.HeuristicRule) (models.HeuristicRule, bool, error)
	RecordHeuristicUse(ctx context.Context, ruleID int64) error
	// RecordFalsePositive increments the counter and flags the rule for
	// review once false positives reach reviewThreshold.
	RecordFalsePositive(ctx context.Context, ruleID int64) error
	SetHeuristicActive(ctx context.Context, ruleID int64, active bool) error

	// Conversation tracking.
	ActiveConversation(ctx context.Context, communityID, channelID string, threadID *string, userID string, window time.Duration) (*models.ConversationThread, error)
	StartConversation(ctx context.Context, t models.ConversationThread) (models.ConversationThread, error)
	AppendConversationMessage(ctx context.Context, msg models.ConversationMessage) error
	TouchConversation(ctx context.Context, conversationID int64, userID string, at time.Time) error
	ConversationHistory(ctx context.Context, conversationID int64, limit int) ([]models.ConversationMessage, error)
	// ConversationMessage resolves a platform message ID to its stored
	// record, or ErrNotFound when the message was never tracked.
	ConversationMessage(ctx context.Context, messageID string) (*models.ConversationMessage, error)
	EndConversation(ctx context.Context, conversationID int64) error
	SweepStaleConversations(ctx context.Context, olderThan time.Duration) (int, error)

	// Channel activity feeds the reply-vs-thread decision.
	RecordChannelActivity(ctx context.Context, communityID, channelID, authorID string, at time.Time) error
	RecentChannelAuthors(ctx context.Context, communityID, channelID string, since time.Time) ([]string, error)

	// Channel automations.
	UpsertAutomation(ctx context.Context, communityID string, rule models.AutomationRule) error
	DeactivateAutomation(ctx context.Context, communityID, channelID string) error

	// Append-only audit trail.
	InsertModerationRecord(ctx context.Context, rec models.ModerationRecord) (int64, error)
	ListModerationRecords(ctx context.Context, communityID string, limit int) ([]models.ModerationRecord, error)

	// Community configuration.
	// Communities lists every community the pipeline has seen, for the
	// periodic fan-out jobs.
	Communities(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, communityID string) (*models.CommunitySnapshot, error)
	SetDryRun(ctx context.Context, communityID string, enabled bool) error
	SetProactive(ctx context.Context, communityID string, enabled bool) error
	SetLogChannel(ctx context.Context, communityID string, channelID *string) error
	SetPersona(ctx context.Context, communityID string, p models.PersonaProfile) error
	AddNote(ctx context.Context, note models.OperatorNote) (models.OperatorNote, error)
	DeleteNote(ctx context.Context, communityID string, noteID int64) error
	SetReferenceChannel(ctx context.Context, communityID string, rc models.ReferenceChannel) error
	RemoveReferenceChannel(ctx context.Context, communityID, channelID string) error
}

// reviewThreshold is the false-positive count at which a rule is pulled out
// of matching and queued for operator review.
const reviewThreshold = 3

// SettingsDefaults is what a community's snapshot reports before any
// operator has written a settings row for it. The service seeds these from
// its config at startup; per-community operator changes take precedence.
type SettingsDefaults struct {
	DryRun              bool
	ProactiveModeration bool
}
