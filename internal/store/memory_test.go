package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

func TestUpsertHeuristicIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, created, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		RuleType:    "fraud_scam",
		Pattern:     "free nitro",
		PatternKind: models.PatternContains,
		Confidence:  0.8,
		Severity:    models.SeverityMedium,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, first.Version)

	// Same identity with weaker confidence: no duplicate, confidence keeps
	// the higher value, version bumps.
	second, created, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		RuleType:    "fraud_scam",
		Pattern:     "free nitro",
		PatternKind: models.PatternContains,
		Confidence:  0.6,
		Severity:    models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.8, second.Confidence)
	assert.Equal(t, models.SeverityHigh, second.Severity)
	assert.Equal(t, 2, second.Version)

	rules, err := s.ActiveHeuristics(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestActiveHeuristicsScopeAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	community := "guild-1"
	other := "guild-2"

	global, _, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		RuleType: "fraud_scam", Pattern: "a", PatternKind: models.PatternContains,
		Confidence: 0.7, Severity: models.SeverityLow,
	})
	require.NoError(t, err)
	local, _, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		CommunityID: &community,
		RuleType:    "fraud_scam", Pattern: "b", PatternKind: models.PatternContains,
		Confidence: 0.9, Severity: models.SeverityLow,
	})
	require.NoError(t, err)
	_, _, err = s.UpsertHeuristic(ctx, models.HeuristicRule{
		CommunityID: &other,
		RuleType:    "fraud_scam", Pattern: "c", PatternKind: models.PatternContains,
		Confidence: 0.99, Severity: models.SeverityLow,
	})
	require.NoError(t, err)

	rules, err := s.ActiveHeuristics(ctx, community)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	// Strongest first; the other community's rule is invisible.
	assert.Equal(t, local.ID, rules[0].ID)
	assert.Equal(t, global.ID, rules[1].ID)
}

func TestFalsePositivesTriggerReview(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rule, _, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		RuleType: "fraud_scam", Pattern: "click here", PatternKind: models.PatternContains,
		Confidence: 0.75, Severity: models.SeverityMedium,
	})
	require.NoError(t, err)

	for i := 0; i < reviewThreshold; i++ {
		require.NoError(t, s.RecordFalsePositive(ctx, rule.ID))
	}

	got, err := s.HeuristicByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, got.RequiresReview)
	assert.False(t, got.Active)

	rules, err := s.ActiveHeuristics(ctx, "guild-1")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestConversationLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.StartConversation(ctx, models.ConversationThread{
		CommunityID:      "guild-1",
		ChannelID:        "chan-1",
		StarterUserID:    "user-1",
		StarterMessageID: "msg-1",
		LastActivityAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotZero(t, conv.ID)

	found, err := s.ActiveConversation(ctx, "guild-1", "chan-1", nil, "user-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, conv.ID, found.ID)

	// A different user in the same channel is not in this conversation.
	none, err := s.ActiveConversation(ctx, "guild-1", "chan-1", nil, "user-2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.EndConversation(ctx, conv.ID))
	gone, err := s.ActiveConversation(ctx, "guild-1", "chan-1", nil, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestConversationMessageIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.StartConversation(ctx, models.ConversationThread{
		CommunityID: "guild-1", ChannelID: "chan-1",
		StarterUserID: "user-1", StarterMessageID: "msg-1",
		LastActivityAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	msg := models.ConversationMessage{
		MessageID: "msg-1", ConversationID: conv.ID,
		AuthorID: "user-1", Content: "hello", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendConversationMessage(ctx, msg))
	require.NoError(t, s.AppendConversationMessage(ctx, msg))

	history, err := s.ConversationHistory(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSweepStaleConversations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	stale, err := s.StartConversation(ctx, models.ConversationThread{
		CommunityID: "guild-1", ChannelID: "chan-1",
		StarterUserID: "user-1", StarterMessageID: "msg-1",
		LastActivityAt: time.Now().UTC().Add(-25 * time.Hour),
	})
	require.NoError(t, err)
	fresh, err := s.StartConversation(ctx, models.ConversationThread{
		CommunityID: "guild-1", ChannelID: "chan-2",
		StarterUserID: "user-2", StarterMessageID: "msg-2",
		LastActivityAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	swept, err := s.SweepStaleConversations(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	gone, err := s.ActiveConversation(ctx, "guild-1", "chan-1", nil, "user-1", 26*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, gone)
	_ = stale

	kept, err := s.ActiveConversation(ctx, "guild-1", "chan-2", nil, "user-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, fresh.ID, kept.ID)
}

func TestSnapshotDefaultsAndSettings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	snap, err := s.Snapshot(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, snap.DryRun)
	assert.True(t, snap.ProactiveModeration)
	assert.Equal(t, models.DefaultPersona().Name, snap.Persona.Name)

	require.NoError(t, s.SetDryRun(ctx, "guild-1", true))
	require.NoError(t, s.UpsertAutomation(ctx, "guild-1", models.AutomationRule{
		ChannelID: "chan-42", Action: models.ActionDeleteMessage, Active: true,
	}))

	snap, err = s.Snapshot(ctx, "guild-1")
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
	require.NotNil(t, snap.AutomationFor("chan-42"))
	assert.Nil(t, snap.AutomationFor("chan-1"))
}

func TestConfiguredDefaultsSeedNewCommunities(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetDefaults(SettingsDefaults{DryRun: true, ProactiveModeration: false})

	snap, err := s.Snapshot(ctx, "guild-1")
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
	assert.False(t, snap.ProactiveModeration)

	// An operator write creates the settings row seeded from the defaults,
	// then holds its own values.
	require.NoError(t, s.SetProactive(ctx, "guild-2", true))
	snap, err = s.Snapshot(ctx, "guild-2")
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
	assert.True(t, snap.ProactiveModeration)

	s.SetDefaults(SettingsDefaults{})
	snap, err = s.Snapshot(ctx, "guild-2")
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
	assert.True(t, snap.ProactiveModeration)
}

func TestRecentChannelAuthors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordChannelActivity(ctx, "g", "c", "a1", now))
	require.NoError(t, s.RecordChannelActivity(ctx, "g", "c", "a2", now.Add(-time.Minute)))
	require.NoError(t, s.RecordChannelActivity(ctx, "g", "c", "old", now.Add(-time.Hour)))

	authors, err := s.RecentChannelAuthors(ctx, "g", "c", now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, authors)
}
