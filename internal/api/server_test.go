package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/executor"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

type nullPlatform struct {
	deleted []string
}

func (p *nullPlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *nullPlatform) TimeoutMember(ctx context.Context, communityID, userID string, duration time.Duration, reason string) error {
	return nil
}

func (p *nullPlatform) KickMember(ctx context.Context, communityID, userID, reason string) error {
	return nil
}

func (p *nullPlatform) BanMember(ctx context.Context, communityID, userID, reason string, pruneDays int) error {
	return nil
}

func (p *nullPlatform) SendMessage(ctx context.Context, channelID, content string, replyToMessageID *string) (*platform.MessageRef, error) {
	return &platform.MessageRef{MessageID: "sent", ChannelID: channelID}, nil
}

func (p *nullPlatform) CreateThread(ctx context.Context, channelID, messageID, name string) (*platform.ThreadRef, error) {
	return &platform.ThreadRef{ThreadID: "thread", Name: name}, nil
}

func (p *nullPlatform) SendDirectMessage(ctx context.Context, userID, content string) error {
	return nil
}

func (p *nullPlatform) FetchRecentHistory(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *nullPlatform) {
	t.Helper()

	s := store.NewMemoryStore()
	plat := &nullPlatform{}
	tracker := conversation.NewTracker(s, "bot-1", 0, 0)
	exec := executor.New(plat, s, tracker, "ModGPT")
	eng := engine.New(engine.Options{
		Store:    s,
		Matcher:  heuristics.NewMatcher(),
		Tracker:  tracker,
		Executor: exec,
	})

	return NewServer(0, eng, s, "test-secret"), s, plat
}

func authHeader(t *testing.T, srv *Server) string {
	t.Helper()
	token, _, err := srv.TokenService().IssueToken("admin")
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(srv *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestEventIntakeValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/events/message-created", "", `{"channel_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "community_id is required")

	rec = doJSON(srv, http.MethodPost, "/events/member-joined", "", `{"community_id":"g1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventIntakeRunsPipeline(t *testing.T) {
	srv, s, plat := newTestServer(t)

	// A keywordless automation deletes everything posted in its channel
	err := s.UpsertAutomation(context.Background(), "g1", models.AutomationRule{
		ChannelID:      "c1",
		TriggerSummary: "no posting here",
		Action:         models.ActionDeleteMessage,
		Active:         true,
	})
	require.NoError(t, err)

	rec := doJSON(srv, http.MethodPost, "/events/message-created", "", `{
		"community_id": "g1",
		"channel_id": "c1",
		"message_id": "m1",
		"author_id": "u1",
		"author_name": "alice",
		"content": "hello"
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"m1"}, plat.deleted)

	records, err := s.ListModerationRecords(context.Background(), "g1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestOperatorAPIRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodGet, "/api/v1/communities/g1/snapshot", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/v1/communities/g1/snapshot", "Bearer not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/v1/communities/g1/snapshot", "Basic abc", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDryRunToggle(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPut, "/api/v1/communities/g1/dry-run", token, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
}

func TestHeuristicLifecycleOverAPI(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics", token, `{
		"rule_type": "fraud_scam",
		"pattern": "free money",
		"pattern_kind": "contains",
		"confidence": 0.9,
		"severity": "high",
		"reason": "classic bait"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.HeuristicRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "admin", created.CreatedBy)
	require.NotNil(t, created.CommunityID)
	assert.Equal(t, "g1", *created.CommunityID)

	// Re-posting the same pattern upserts instead of duplicating
	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics", token, `{
		"rule_type": "fraud_scam",
		"pattern": "free money",
		"pattern_kind": "contains",
		"confidence": 0.5,
		"severity": "low"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.HeuristicRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 0.9, updated.Confidence)

	rec = doJSON(srv, http.MethodGet, "/api/v1/communities/g1/heuristics", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []models.HeuristicRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)

	rec = doJSON(srv, http.MethodPut, "/api/v1/heuristics/1/active", token, `{"active":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/v1/communities/g1/heuristics", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Empty(t, rules)
}

func TestCreateHeuristicRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics", token, `{
		"pattern": "x", "pattern_kind": "vibes", "confidence": 0.5
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics", token, `{
		"pattern": "x", "pattern_kind": "exact", "confidence": 1.5
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics", token, `{
		"pattern_kind": "exact", "confidence": 0.5
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFalsePositiveEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	community := "g1"
	rule, _, err := s.UpsertHeuristic(context.Background(), models.HeuristicRule{
		CommunityID: &community,
		RuleType:    "fraud_scam",
		Pattern:     "free nitro",
		PatternKind: models.PatternContains,
		Confidence:  0.9,
		Severity:    models.SeverityHigh,
		CreatedBy:   "admin",
		Active:      true,
	})
	require.NoError(t, err)

	var last models.HeuristicRule
	for i := 0; i < 3; i++ {
		rec := doJSON(srv, http.MethodPost, "/api/v1/heuristics/1/false-positive", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	}
	assert.Equal(t, rule.ID, last.ID)
	assert.Equal(t, 3, last.FalsePositiveCount)
	assert.True(t, last.RequiresReview)
	assert.False(t, last.Active)

	rec := doJSON(srv, http.MethodPost, "/api/v1/heuristics/999/false-positive", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutomationEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPut, "/api/v1/communities/g1/automations", token, `{
		"channel_id": "c9",
		"trigger_summary": "links only",
		"action": "delete_message",
		"keywords": ["http"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	rule := snap.AutomationFor("c9")
	require.NotNil(t, rule)
	assert.True(t, rule.Active)

	rec = doJSON(srv, http.MethodPut, "/api/v1/communities/g1/automations", token, `{
		"channel_id": "c9", "action": "obliterate"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodDelete, "/api/v1/communities/g1/automations/c9", token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	snap, err = s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Nil(t, snap.AutomationFor("c9"))

	rec = doJSON(srv, http.MethodDelete, "/api/v1/communities/g1/automations/nope", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotesEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/communities/g1/notes", token, `{"content":"never timeout mods"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var note models.OperatorNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	assert.Equal(t, "admin", note.Author)

	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/notes", token, `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodDelete, "/api/v1/communities/g1/notes/1", token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	snap, err := s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Empty(t, snap.Notes)
}

func TestPersonaAndLogChannel(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPut, "/api/v1/communities/g1/persona", token, `{
		"name": "Marvin",
		"description": "gloomy but fair",
		"conversation_style": "dry"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(srv, http.MethodPut, "/api/v1/communities/g1/log-channel", token, `{"channel_id":"log-1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	snap, err := s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Marvin", snap.Persona.Name)
	require.NotNil(t, snap.LogChannelID)
	assert.Equal(t, "log-1", *snap.LogChannelID)

	// Empty channel_id clears the log channel
	rec = doJSON(srv, http.MethodPut, "/api/v1/communities/g1/log-channel", token, `{"channel_id":""}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	snap, err = s.Snapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Nil(t, snap.LogChannelID)
}

func TestRecordsEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	token := authHeader(t, srv)

	for i := 0; i < 3; i++ {
		_, err := s.InsertModerationRecord(context.Background(), models.ModerationRecord{
			CommunityID: "g1",
			ActionType:  "escalation",
			Summary:     "raid suspected",
		})
		require.NoError(t, err)
	}

	rec := doJSON(srv, http.MethodGet, "/api/v1/communities/g1/records?limit=2", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.ModerationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = doJSON(srv, http.MethodGet, "/api/v1/communities/g1/records?limit=0", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackEndpointWithoutReasoning(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics/from-feedback", token, `{
		"content": "DM me for cheap gift cards",
		"reason": "known scam format"
	}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics/from-feedback", token, `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorOnlyServerRejectsEvents(t *testing.T) {
	// A server started without an engine serves configuration only
	srv := NewServer(0, nil, store.NewMemoryStore(), "test-secret")
	token := authHeader(t, srv)

	rec := doJSON(srv, http.MethodPost, "/events/message-created", "", `{
		"community_id": "g1", "channel_id": "c1", "message_id": "m1", "author_id": "u1"
	}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/events/member-joined", "", `{"community_id":"g1","user_id":"u1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(srv, http.MethodPut, "/api/v1/communities/g1/dry-run", token, `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/v1/communities/g1/heuristics/from-feedback", token, `{
		"content": "spam", "reason": "spam"
	}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
