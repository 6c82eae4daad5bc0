package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/executor"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/reasoning"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

type fakeLLM struct {
	mu        sync.Mutex
	calls     int
	toolCalls []llms.ToolCall
	err       error
}

func (f *fakeLLM) Run(_ context.Context, _ []llms.MessageContent, _ []llms.Tool) (*reasoning.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &reasoning.Response{ToolCalls: f.toolCalls}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPlatform struct {
	mu      sync.Mutex
	deleted []string
	banned  []string
	sent    []string
	dms     []string
	history map[string][]platform.Message
}

func (p *recordingPlatform) DeleteMessage(_ context.Context, _, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *recordingPlatform) TimeoutMember(_ context.Context, _, _ string, _ time.Duration, _ string) error {
	return nil
}

func (p *recordingPlatform) KickMember(_ context.Context, _, _, _ string) error { return nil }

func (p *recordingPlatform) BanMember(_ context.Context, _, userID, _ string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banned = append(p.banned, userID)
	return nil
}

func (p *recordingPlatform) SendMessage(_ context.Context, channelID, content string, _ *string) (*platform.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, content)
	return &platform.MessageRef{MessageID: "sent-1", ChannelID: channelID}, nil
}

func (p *recordingPlatform) CreateThread(_ context.Context, _, _, name string) (*platform.ThreadRef, error) {
	return &platform.ThreadRef{ThreadID: "thread-1", Name: name}, nil
}

func (p *recordingPlatform) SendDirectMessage(_ context.Context, _, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dms = append(p.dms, content)
	return nil
}

func (p *recordingPlatform) FetchRecentHistory(_ context.Context, channelID string, _ int) ([]platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history[channelID], nil
}

func (p *recordingPlatform) snapshotDeleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func newEngine(t *testing.T, llm *fakeLLM) (*Engine, *recordingPlatform, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	p := &recordingPlatform{}
	tracker := conversation.NewTracker(s, "bot-1", 60*time.Second, 24*time.Hour)
	exec := executor.New(p, s, tracker, "ModGPT")

	var dispatcher *reasoning.Dispatcher
	if llm != nil {
		dispatcher = reasoning.NewDispatcher(llm)
	}
	eng := New(Options{
		Store:      s,
		Matcher:    heuristics.NewMatcher(),
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Executor:   exec,
		Platform:   p,
	})
	return eng, p, s
}

func message(channelID, content string, mentionsBot bool) models.MessageEvent {
	return models.MessageEvent{
		CommunityID: "guild-1",
		ChannelID:   channelID,
		MessageID:   "m1",
		AuthorID:    "user-1",
		AuthorName:  "user-1",
		Content:     content,
		MentionsBot: mentionsBot,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestAutomationShortCircuitsReasoning(t *testing.T) {
	llm := &fakeLLM{}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	require.NoError(t, s.UpsertAutomation(ctx, "guild-1", models.AutomationRule{
		ChannelID: "chan-42", Action: models.ActionDeleteMessage, Active: true,
	}))

	// Even a message addressed to the bot gets deleted by the automation.
	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-42", "hey bot, question", true)))
	eng.Wait()

	assert.Equal(t, []string{"m1"}, p.snapshotDeleted())
	assert.Zero(t, llm.callCount(), "automation verdicts never reach reasoning")
}

func TestHeuristicViolationDeletesThenReasons(t *testing.T) {
	llm := &fakeLLM{toolCalls: []llms.ToolCall{{
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "take_action",
			Arguments: `{"action":"ban","target_user_id":"user-1","reason":"scam bot"}`,
		},
	}}}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	_, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)

	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "click here to claim FREE NITRO", false)))
	eng.Wait()

	assert.Equal(t, []string{"m1"}, p.snapshotDeleted(), "deletion happens before reasoning returns")
	assert.Equal(t, 1, llm.callCount())
	p.mu.Lock()
	banned := append([]string(nil), p.banned...)
	p.mu.Unlock()
	assert.Equal(t, []string{"user-1"}, banned)

	// Matched rule's use count was bumped.
	rules, err := s.ActiveHeuristics(ctx, "guild-1")
	require.NoError(t, err)
	used := false
	for _, r := range rules {
		if r.UseCount > 0 {
			used = true
		}
	}
	assert.True(t, used)
}

func TestReasoningUnavailableSkipsEventNotViolationDelete(t *testing.T) {
	llm := &fakeLLM{err: reasoning.ErrUnavailable}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	_, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)

	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "free nitro giveaway", false)))
	eng.Wait()

	// The deterministic deletion still happened; only the follow-up verdict
	// was skipped.
	assert.Equal(t, []string{"m1"}, p.snapshotDeleted())
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.banned)
	assert.Empty(t, p.sent)
}

func TestMentionFlowsToReply(t *testing.T) {
	llm := &fakeLLM{toolCalls: []llms.ToolCall{{
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "send_message",
			Arguments: `{"message":"rule 3 covers self-promotion"}`,
		},
	}}}
	eng, p, _ := newEngine(t, llm)
	ctx := context.Background()

	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "bot, what does rule 3 say?", true)))
	eng.Wait()

	assert.Equal(t, 1, llm.callCount())
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.sent, 1)
	assert.Equal(t, "rule 3 covers self-promotion", p.sent[0])
}

func TestProactiveOffSkipsScan(t *testing.T) {
	llm := &fakeLLM{}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	_, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)
	require.NoError(t, s.SetProactive(ctx, "guild-1", false))

	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "free nitro for all", false)))
	eng.Wait()

	assert.Empty(t, p.snapshotDeleted())
	assert.Zero(t, llm.callCount())
}

func TestLowConfidenceMatchIgnored(t *testing.T) {
	llm := &fakeLLM{}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	community := "guild-1"
	_, _, err := s.UpsertHeuristic(ctx, models.HeuristicRule{
		CommunityID: &community,
		RuleType:    "fraud_urgency",
		Pattern:     "limited time offer",
		PatternKind: models.PatternContains,
		Confidence:  0.5,
		Severity:    models.SeverityLow,
	})
	require.NoError(t, err)

	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "limited time offer on my stream", false)))
	eng.Wait()

	assert.Empty(t, p.snapshotDeleted())
}

func TestEditRescan(t *testing.T) {
	llm := &fakeLLM{}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	_, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)

	ev := models.MessageEditEvent{
		MessageEvent: message("chan-1", "dm me for free nitro", false),
		Before:       "dm me for good deals",
		EditedAt:     time.Now().UTC(),
	}
	require.NoError(t, eng.HandleMessageEdited(ctx, ev))
	eng.Wait()

	assert.Equal(t, []string{"m1"}, p.snapshotDeleted())
}

func TestDegradedModeWithoutDispatcher(t *testing.T) {
	eng, p, s := newEngine(t, nil)
	ctx := context.Background()

	_, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)

	// Heuristic deletions still work without reasoning credentials.
	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-1", "free nitro here", false)))
	// Mentions are acknowledged but no reply can be produced.
	require.NoError(t, eng.HandleMessageCreated(ctx, message("chan-2", "bot, hello?", true)))
	eng.Wait()

	assert.Equal(t, []string{"m1"}, p.snapshotDeleted())
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.sent)
}

func TestInstallSeedRulesIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	first, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)
	assert.Greater(t, first, 0)

	second, err := InstallSeedRules(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestLearnHeuristicFromFeedback(t *testing.T) {
	llm := &fakeLLM{toolCalls: []llms.ToolCall{{
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "suggest_heuristic",
			Arguments: `{"rule_type":"fraud_scam","pattern":"cheap gift cards","pattern_kind":"contains","confidence":0.85,"severity":"high","reason":"gift card resale scam"}`,
		},
	}}}
	eng, _, s := newEngine(t, llm)
	ctx := context.Background()

	rule, err := eng.LearnHeuristicFromFeedback(ctx, "guild-1", "DM me for cheap gift cards!!", "known scam format", "admin")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "cheap gift cards", rule.Pattern)
	assert.Equal(t, "admin", rule.CreatedBy)
	require.NotNil(t, rule.CommunityID)
	assert.Equal(t, "guild-1", *rule.CommunityID)

	rules, err := s.ActiveHeuristics(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestLearnHeuristicFromFeedbackDeclined(t *testing.T) {
	// Free text and no tool calls means the model found nothing to generalize
	llm := &fakeLLM{}
	eng, _, s := newEngine(t, llm)
	ctx := context.Background()

	rule, err := eng.LearnHeuristicFromFeedback(ctx, "guild-1", "you are all wrong about this", "seemed rude", "admin")
	require.NoError(t, err)
	assert.Nil(t, rule)

	rules, err := s.ActiveHeuristics(ctx, "guild-1")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLearnHeuristicFromFeedbackUnavailable(t *testing.T) {
	eng, _, _ := newEngine(t, nil)

	_, err := eng.LearnHeuristicFromFeedback(context.Background(), "guild-1", "spam", "spam", "admin")
	assert.ErrorIs(t, err, reasoning.ErrUnavailable)
}

func TestTickRefreshesReferenceChannels(t *testing.T) {
	llm := &fakeLLM{}
	eng, p, s := newEngine(t, llm)
	ctx := context.Background()

	require.NoError(t, s.SetReferenceChannel(ctx, "guild-1", models.ReferenceChannel{
		ChannelID: "rules-chan",
		Label:     "rules",
	}))
	p.mu.Lock()
	p.history = map[string][]platform.Message{
		"rules-chan": {
			{ID: "r1", AuthorName: "admin", Content: "No scams. No spam."},
			{ID: "r2", AuthorName: "admin", Content: "Be kind."},
		},
	}
	p.mu.Unlock()

	require.NoError(t, eng.HandleScheduledTick(ctx, models.TickEvent{
		CommunityID: "guild-1",
		At:          time.Now().UTC(),
	}))
	eng.Wait()

	snap, err := s.Snapshot(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, snap.ReferenceChannels, 1)
	rc := snap.ReferenceChannels[0]
	assert.Contains(t, rc.RecentMessages, "No scams. No spam.")
	assert.Contains(t, rc.RecentMessages, "admin: Be kind.")
	require.NotNil(t, rc.LastFetched)
	assert.Equal(t, 1, llm.callCount())
}
