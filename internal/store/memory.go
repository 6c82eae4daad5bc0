package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and the
// degraded mode used when Postgres is unreachable at startup; nothing
// persisted here survives a restart, which the degraded path accepts in
// exchange for the pipeline staying up.
type MemoryStore struct {
	mu sync.RWMutex

	defaults SettingsDefaults

	nextRuleID int64
	rules      []*models.HeuristicRule

	nextConvID    int64
	conversations []*models.ConversationThread
	messages      map[string]*models.ConversationMessage // by message ID
	activity      map[string]map[string]time.Time        // community/channel -> author -> last message

	automations map[string]map[string]models.AutomationRule // community -> channel -> rule

	nextRecordID int64
	records      []models.ModerationRecord

	settings map[string]*communitySettings
	nextNote int64
	notes    []models.OperatorNote
	refs     map[string]map[string]models.ReferenceChannel // community -> channel -> ref
}

type communitySettings struct {
	dryRun       bool
	proactive    bool
	logChannelID *string
	persona      *models.PersonaProfile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		defaults:    SettingsDefaults{ProactiveModeration: true},
		messages:    make(map[string]*models.ConversationMessage),
		activity:    make(map[string]map[string]time.Time),
		automations: make(map[string]map[string]models.AutomationRule),
		settings:    make(map[string]*communitySettings),
		refs:        make(map[string]map[string]models.ReferenceChannel),
	}
}

// SetDefaults replaces the snapshot values used for communities that have
// no settings row yet.
func (s *MemoryStore) SetDefaults(d SettingsDefaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = d
}

func (s *MemoryStore) ActiveHeuristics(_ context.Context, communityID string) ([]models.HeuristicRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HeuristicRule, 0)
	for _, r := range s.rules {
		if !r.Active || r.RequiresReview {
			continue
		}
		if r.CommunityID != nil && *r.CommunityID != communityID {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UseCount > out[j].UseCount
	})
	return out, nil
}

func (s *MemoryStore) HeuristicByID(_ context.Context, id int64) (*models.HeuristicRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.findRule(id); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertHeuristic(_ context.Context, rule models.HeuristicRule) (models.HeuristicRule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if !sameScope(r.CommunityID, rule.CommunityID) || r.Pattern != rule.Pattern || r.PatternKind != rule.PatternKind {
			continue
		}
		if rule.Confidence > r.Confidence {
			r.Confidence = rule.Confidence
		}
		r.Severity = models.MaxSeverity(r.Severity, rule.Severity)
		r.Version++
		r.Active = true
		return *r, false, nil
	}

	s.nextRuleID++
	rule.ID = s.nextRuleID
	rule.Active = true
	rule.Version = 1
	rule.CreatedAt = time.Now().UTC()
	cp := rule
	s.rules = append(s.rules, &cp)
	return rule, true, nil
}

func (s *MemoryStore) RecordHeuristicUse(_ context.Context, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findRule(ruleID); r != nil {
		r.UseCount++
		now := time.Now().UTC()
		r.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) RecordFalsePositive(_ context.Context, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findRule(ruleID); r != nil {
		r.FalsePositiveCount++
		if r.FalsePositiveCount >= reviewThreshold {
			r.RequiresReview = true
			r.Active = false
		}
	}
	return nil
}

func (s *MemoryStore) SetHeuristicActive(_ context.Context, ruleID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findRule(ruleID)
	if r == nil {
		return ErrNotFound
	}
	r.Active = active
	r.RequiresReview = false
	return nil
}

func (s *MemoryStore) ActiveConversation(_ context.Context, communityID, channelID string, threadID *string, userID string, window time.Duration) (*models.ConversationThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	var best *models.ConversationThread
	for _, t := range s.conversations {
		if !t.Active || t.CommunityID != communityID || t.ChannelID != channelID {
			continue
		}
		if threadID != nil {
			if t.ThreadID == nil || *t.ThreadID != *threadID {
				continue
			}
		} else {
			if t.ThreadID != nil || !contains(t.Participants, userID) || t.LastActivityAt.Before(cutoff) {
				continue
			}
		}
		if best == nil || t.LastActivityAt.After(best.LastActivityAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) StartConversation(_ context.Context, t models.ConversationThread) (models.ConversationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConvID++
	t.ID = s.nextConvID
	t.Active = true
	t.CreatedAt = time.Now().UTC()
	if t.Participants == nil {
		t.Participants = []string{t.StarterUserID}
	}
	cp := t
	s.conversations = append(s.conversations, &cp)
	return t, nil
}

func (s *MemoryStore) AppendConversationMessage(_ context.Context, msg models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.MessageID]; exists {
		return nil
	}
	cp := msg
	s.messages[msg.MessageID] = &cp
	return nil
}

func (s *MemoryStore) TouchConversation(_ context.Context, conversationID int64, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.conversations {
		if t.ID != conversationID {
			continue
		}
		t.LastActivityAt = at
		if !contains(t.Participants, userID) {
			t.Participants = append(t.Participants, userID)
		}
		return nil
	}
	return nil
}

func (s *MemoryStore) ConversationHistory(_ context.Context, conversationID int64, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]models.ConversationMessage, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) ConversationMessage(_ context.Context, messageID string) (*models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[messageID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EndConversation(_ context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.conversations {
		if t.ID == conversationID {
			t.Active = false
		}
	}
	return nil
}

func (s *MemoryStore) SweepStaleConversations(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	swept := 0
	for _, t := range s.conversations {
		if t.Active && t.LastActivityAt.Before(cutoff) {
			t.Active = false
			swept++
		}
	}
	return swept, nil
}

func (s *MemoryStore) RecordChannelActivity(_ context.Context, communityID, channelID, authorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := communityID + "/" + channelID
	if s.activity[key] == nil {
		s.activity[key] = make(map[string]time.Time)
	}
	s.activity[key][authorID] = at
	return nil
}

func (s *MemoryStore) RecentChannelAuthors(_ context.Context, communityID, channelID string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for author, at := range s.activity[communityID+"/"+channelID] {
		if !at.Before(since) {
			out = append(out, author)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertAutomation(_ context.Context, communityID string, rule models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.automations[communityID] == nil {
		s.automations[communityID] = make(map[string]models.AutomationRule)
	}
	s.automations[communityID][rule.ChannelID] = rule
	return nil
}

func (s *MemoryStore) DeactivateAutomation(_ context.Context, communityID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.automations[communityID][channelID]
	if !ok {
		return ErrNotFound
	}
	rule.Active = false
	s.automations[communityID][channelID] = rule
	return nil
}

func (s *MemoryStore) InsertModerationRecord(_ context.Context, rec models.ModerationRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecordID++
	rec.ID = s.nextRecordID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *MemoryStore) ListModerationRecords(_ context.Context, communityID string, limit int) ([]models.ModerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := make([]models.ModerationRecord, 0)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].CommunityID == communityID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Communities(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range s.settings {
		seen[id] = struct{}{}
	}
	for key := range s.activity {
		if i := strings.Index(key, "/"); i > 0 {
			seen[key[:i]] = struct{}{}
		}
	}
	for _, t := range s.conversations {
		seen[t.CommunityID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, communityID string) (*models.CommunitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &models.CommunitySnapshot{
		CommunityID:         communityID,
		DryRun:              s.defaults.DryRun,
		ProactiveModeration: s.defaults.ProactiveModeration,
		Persona:             models.DefaultPersona(),
		Automations:         make(map[string]models.AutomationRule),
		FetchedAt:           time.Now().UTC(),
	}
	if cfg, ok := s.settings[communityID]; ok {
		snap.DryRun = cfg.dryRun
		snap.ProactiveModeration = cfg.proactive
		snap.LogChannelID = cfg.logChannelID
		if cfg.persona != nil {
			snap.Persona = *cfg.persona
		}
	}
	for channelID, rule := range s.automations[communityID] {
		snap.Automations[channelID] = rule
	}
	for _, rc := range s.refs[communityID] {
		snap.ReferenceChannels = append(snap.ReferenceChannels, rc)
	}
	for _, n := range s.notes {
		if n.CommunityID == communityID {
			snap.Notes = append(snap.Notes, n)
		}
	}
	return snap, nil
}

func (s *MemoryStore) SetDryRun(_ context.Context, communityID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSettings(communityID).dryRun = enabled
	return nil
}

func (s *MemoryStore) SetProactive(_ context.Context, communityID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSettings(communityID).proactive = enabled
	return nil
}

func (s *MemoryStore) SetLogChannel(_ context.Context, communityID string, channelID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSettings(communityID).logChannelID = channelID
	return nil
}

func (s *MemoryStore) SetPersona(_ context.Context, communityID string, p models.PersonaProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSettings(communityID).persona = &p
	return nil
}

func (s *MemoryStore) AddNote(_ context.Context, note models.OperatorNote) (models.OperatorNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNote++
	note.ID = s.nextNote
	note.CreatedAt = time.Now().UTC()
	s.notes = append(s.notes, note)
	return note, nil
}

func (s *MemoryStore) DeleteNote(_ context.Context, communityID string, noteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notes {
		if n.ID == noteID && n.CommunityID == communityID {
			s.notes = append(s.notes[:i], s.notes[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SetReferenceChannel(_ context.Context, communityID string, rc models.ReferenceChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[communityID] == nil {
		s.refs[communityID] = make(map[string]models.ReferenceChannel)
	}
	s.refs[communityID][rc.ChannelID] = rc
	return nil
}

func (s *MemoryStore) RemoveReferenceChannel(_ context.Context, communityID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[communityID][channelID]; !ok {
		return ErrNotFound
	}
	delete(s.refs[communityID], channelID)
	return nil
}

func (s *MemoryStore) ensureSettings(communityID string) *communitySettings {
	cfg, ok := s.settings[communityID]
	if !ok {
		cfg = &communitySettings{
			dryRun:    s.defaults.DryRun,
			proactive: s.defaults.ProactiveModeration,
		}
		s.settings[communityID] = cfg
	}
	return cfg
}

func (s *MemoryStore) findRule(id int64) *models.HeuristicRule {
	for _, r := range s.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
