package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/internal/automation"
	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/executor"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/reasoning"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// reasoningTimeout bounds one background verdict, covering the model call
// and the execution of its tool calls.
const reasoningTimeout = 2 * time.Minute

// Engine routes platform events through the decision pipeline: automations
// first, then conversation tracking, then the heuristic scan, and only then
// reasoning. The deterministic front half runs under a per-channel lock so
// two messages in one channel cannot race conversation state; reasoning and
// execution run in the background, off the event path.
type Engine struct {
	store      store.Store
	matcher    *heuristics.Matcher
	tracker    *conversation.Tracker
	dispatcher *reasoning.Dispatcher
	executor   *executor.Executor
	platform   platform.Platform

	// minConfidence gates the proactive scan: matches below it are ignored
	// rather than acted on.
	minConfidence float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	wg sync.WaitGroup
}

// Options assembles an engine. Dispatcher may be nil when no reasoning
// credentials are configured; the engine then runs automations and
// heuristic deletions only.
type Options struct {
	Store      store.Store
	Matcher    *heuristics.Matcher
	Tracker    *conversation.Tracker
	Dispatcher *reasoning.Dispatcher
	Executor   *executor.Executor
	// Platform is used to refresh reference-channel content on the
	// scheduled tick; nil disables the refresh.
	Platform      platform.Platform
	MinConfidence float64
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.7
	}
	return &Engine{
		store:         opts.Store,
		matcher:       opts.Matcher,
		tracker:       opts.Tracker,
		dispatcher:    opts.Dispatcher,
		executor:      opts.Executor,
		platform:      opts.Platform,
		minConfidence: opts.MinConfidence,
		locks:         make(map[string]*sync.Mutex),
	}
}

// HandleMessageCreated processes a new message.
func (e *Engine) HandleMessageCreated(ctx context.Context, ev models.MessageEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("message_id", ev.MessageID).
				Msg("message handling panicked")
			err = fmt.Errorf("message handling panicked: %v", r)
		}
	}()

	snap, err := e.store.Snapshot(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("fetch community snapshot: %w", err)
	}

	lock := e.lockFor(ev.CommunityID, ev.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	if !ev.AuthorIsBot {
		if err := e.store.RecordChannelActivity(ctx, ev.CommunityID, ev.ChannelID, ev.AuthorID, ev.CreatedAt); err != nil {
			log.Warn().Err(err).Msg("channel activity write failed")
		}
	}

	// Automations outrank everything, including conversations: a no-posting
	// channel deletes even a message addressed to the bot.
	if rule := automation.Evaluate(snap, ev); rule != nil {
		log.Info().Str("channel_id", ev.ChannelID).Str("action", string(rule.Action)).
			Str("message_id", ev.MessageID).Msg("automation fired")
		e.executor.Execute(ctx, snap, e.eventContext(ev, 0), []models.ToolCall{
			models.TakeActionCall{
				Action:       rule.Action,
				TargetUserID: ev.AuthorID,
				Reason:       automationReason(rule),
				MessageID:    ev.MessageID,
			},
		})
		return nil
	}

	if ev.AuthorIsBot {
		return nil
	}

	decision, err := e.tracker.Assess(ctx, ev)
	if err != nil {
		return fmt.Errorf("conversation assessment: %w", err)
	}

	if snap.ProactiveModeration {
		if handled := e.scanForViolation(ctx, snap, ev); handled {
			return nil
		}
	}

	if !decision.Respond {
		return nil
	}

	convID := decision.Conversation.ID
	history, err := e.tracker.History(ctx, convID, 20)
	if err != nil {
		log.Warn().Err(err).Int64("conversation_id", convID).Msg("history fetch failed")
	}

	if e.dispatcher == nil {
		log.Warn().Str("message_id", ev.MessageID).Msg("reasoning unconfigured, reply skipped")
		return nil
	}
	e.background(func(bgctx context.Context) {
		outcome, err := e.dispatcher.DispatchMessage(bgctx, snap, ev, history)
		if err != nil {
			log.Warn().Err(err).Str("message_id", ev.MessageID).Msg("reasoning unavailable, event skipped")
			return
		}
		e.executor.Execute(bgctx, snap, e.eventContext(ev, convID), outcome.Calls)
	})
	return nil
}

// scanForViolation runs the heuristic scan and, on a confident hit, deletes
// the message and hands the follow-up decision to reasoning. Returns true
// when the message was handled as a violation.
func (e *Engine) scanForViolation(ctx context.Context, snap *models.CommunitySnapshot, ev models.MessageEvent) bool {
	rules, err := e.store.ActiveHeuristics(ctx, ev.CommunityID)
	if err != nil {
		log.Warn().Err(err).Msg("heuristic fetch failed, scan skipped")
		return false
	}

	match := e.matcher.Match(ev.Content, rules)
	if match == nil || match.Rule.Confidence < e.minConfidence {
		return false
	}

	log.Info().Int64("rule_id", match.Rule.ID).Str("pattern", match.Rule.Pattern).
		Str("message_id", ev.MessageID).Float64("confidence", match.Rule.Confidence).
		Msg("heuristic violation detected")

	if err := e.store.RecordHeuristicUse(ctx, match.Rule.ID); err != nil {
		log.Warn().Err(err).Int64("rule_id", match.Rule.ID).Msg("use count update failed")
	}

	// Delete first, reason later. The executor honors dry-run and writes
	// the audit record either way.
	e.executor.Execute(ctx, snap, e.eventContext(ev, 0), []models.ToolCall{
		models.TakeActionCall{
			Action:       models.ActionDeleteMessage,
			TargetUserID: ev.AuthorID,
			Reason:       fmt.Sprintf("matched %s pattern %q", match.Rule.RuleType, match.Rule.Pattern),
			MessageID:    ev.MessageID,
		},
	})

	if e.dispatcher == nil {
		return true
	}
	deleted := !snap.DryRun
	e.background(func(bgctx context.Context) {
		outcome, err := e.dispatcher.DispatchViolation(bgctx, snap, ev, match, deleted)
		if err != nil {
			log.Warn().Err(err).Str("message_id", ev.MessageID).
				Msg("reasoning unavailable, follow-up skipped")
			return
		}
		e.executor.Execute(bgctx, snap, e.eventContext(ev, 0), outcome.Calls)
	})
	return true
}

// HandleMessageEdited re-scans edited content; an edit that introduces a
// violation is treated like a new message containing it.
func (e *Engine) HandleMessageEdited(ctx context.Context, ev models.MessageEditEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("message_id", ev.MessageID).
				Msg("edit handling panicked")
			err = fmt.Errorf("edit handling panicked: %v", r)
		}
	}()

	if ev.AuthorIsBot {
		return nil
	}
	snap, err := e.store.Snapshot(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("fetch community snapshot: %w", err)
	}

	lock := e.lockFor(ev.CommunityID, ev.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	if rule := automation.Evaluate(snap, ev.MessageEvent); rule != nil {
		e.executor.Execute(ctx, snap, e.eventContext(ev.MessageEvent, 0), []models.ToolCall{
			models.TakeActionCall{
				Action:       rule.Action,
				TargetUserID: ev.AuthorID,
				Reason:       automationReason(rule),
				MessageID:    ev.MessageID,
			},
		})
		return nil
	}

	if snap.ProactiveModeration {
		if handled := e.scanForViolation(ctx, snap, ev.MessageEvent); handled {
			return nil
		}
	}

	// Below-threshold edits still get a look when the edit materially
	// changed the content, since editing is a common evasion move.
	if e.dispatcher == nil || ev.Before == ev.Content {
		return nil
	}
	e.background(func(bgctx context.Context) {
		outcome, err := e.dispatcher.DispatchEdit(bgctx, snap, ev)
		if err != nil {
			log.Warn().Err(err).Str("message_id", ev.MessageID).Msg("reasoning unavailable, edit skipped")
			return
		}
		e.executor.Execute(bgctx, snap, e.eventContext(ev.MessageEvent, 0), outcome.Calls)
	})
	return nil
}

// HandleMemberJoined evaluates a new arrival.
func (e *Engine) HandleMemberJoined(ctx context.Context, ev models.MemberEvent) error {
	return e.handleMemberEvent(ctx, ev, true)
}

// HandleMemberLeft notes a departure.
func (e *Engine) HandleMemberLeft(ctx context.Context, ev models.MemberEvent) error {
	return e.handleMemberEvent(ctx, ev, false)
}

func (e *Engine) handleMemberEvent(ctx context.Context, ev models.MemberEvent, joined bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("user_id", ev.UserID).Msg("member event handling panicked")
			err = fmt.Errorf("member event handling panicked: %v", r)
		}
	}()

	if e.dispatcher == nil {
		return nil
	}
	snap, err := e.store.Snapshot(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("fetch community snapshot: %w", err)
	}

	e.background(func(bgctx context.Context) {
		var outcome *reasoning.Outcome
		var derr error
		if joined {
			outcome, derr = e.dispatcher.DispatchMemberJoined(bgctx, snap, ev)
		} else {
			outcome, derr = e.dispatcher.DispatchMemberLeft(bgctx, snap, ev)
		}
		if derr != nil {
			log.Warn().Err(derr).Str("user_id", ev.UserID).Msg("reasoning unavailable, member event skipped")
			return
		}
		e.executor.Execute(bgctx, snap, executor.EventContext{
			CommunityID: ev.CommunityID,
			AuthorID:    ev.UserID,
			AuthorName:  ev.Username,
			EventAt:     time.Now().UTC(),
		}, outcome.Calls)
	})
	return nil
}

// HandleScheduledTick runs the periodic community review.
func (e *Engine) HandleScheduledTick(ctx context.Context, ev models.TickEvent) error {
	if e.dispatcher == nil {
		return nil
	}
	snap, err := e.store.Snapshot(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("fetch community snapshot: %w", err)
	}
	if e.refreshReferenceChannels(ctx, snap) {
		// Re-read so the system prompt carries the fresh channel content.
		if fresh, serr := e.store.Snapshot(ctx, ev.CommunityID); serr == nil {
			snap = fresh
		}
	}
	recent, err := e.store.ListModerationRecords(ctx, ev.CommunityID, 20)
	if err != nil {
		log.Warn().Err(err).Msg("recent records fetch failed")
	}

	e.background(func(bgctx context.Context) {
		outcome, derr := e.dispatcher.DispatchTick(bgctx, snap, ev, recent)
		if derr != nil {
			log.Warn().Err(derr).Str("community_id", ev.CommunityID).Msg("reasoning unavailable, tick skipped")
			return
		}
		e.executor.Execute(bgctx, snap, executor.EventContext{
			CommunityID: ev.CommunityID,
			EventAt:     ev.At,
		}, outcome.Calls)
	})
	return nil
}

// referenceHistoryLimit caps how much reference-channel content is pulled
// into the system prompt per refresh.
const referenceHistoryLimit = 15

// refreshReferenceChannels re-fetches the live content of every configured
// reference channel (rules, guidelines) and stores it for the system prompt.
// Returns true when at least one channel was updated.
func (e *Engine) refreshReferenceChannels(ctx context.Context, snap *models.CommunitySnapshot) bool {
	if e.platform == nil || len(snap.ReferenceChannels) == 0 {
		return false
	}

	refreshed := false
	for _, rc := range snap.ReferenceChannels {
		msgs, err := e.platform.FetchRecentHistory(ctx, rc.ChannelID, referenceHistoryLimit)
		if err != nil {
			log.Warn().Err(err).Str("channel_id", rc.ChannelID).Msg("reference channel fetch failed")
			continue
		}
		var b strings.Builder
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.AuthorName, m.Content)
		}
		now := time.Now().UTC()
		rc.RecentMessages = b.String()
		rc.LastFetched = &now
		if err := e.store.SetReferenceChannel(ctx, snap.CommunityID, rc); err != nil {
			log.Warn().Err(err).Str("channel_id", rc.ChannelID).Msg("reference channel save failed")
			continue
		}
		refreshed = true
	}
	return refreshed
}

// Wait blocks until all background reasoning work has drained. Used on
// shutdown and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) background(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Any("panic", r).Msg("background reasoning panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), reasoningTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) lockFor(communityID, channelID string) *sync.Mutex {
	key := communityID + "/" + channelID
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

func (e *Engine) eventContext(ev models.MessageEvent, conversationID int64) executor.EventContext {
	return executor.EventContext{
		CommunityID:    ev.CommunityID,
		ChannelID:      ev.ChannelID,
		MessageID:      ev.MessageID,
		AuthorID:       ev.AuthorID,
		AuthorName:     ev.AuthorName,
		EventAt:        ev.CreatedAt,
		ConversationID: conversationID,
	}
}

func automationReason(rule *models.AutomationRule) string {
	if rule.Justification != "" {
		return rule.Justification
	}
	if rule.TriggerSummary != "" {
		return rule.TriggerSummary
	}
	return "channel automation"
}

// LearnHeuristicFromFeedback runs a focused reasoning call over a message the
// matchers missed and upserts whatever pattern it suggests. Returns nil when
// the model declined to generalize.
func (e *Engine) LearnHeuristicFromFeedback(ctx context.Context, communityID, content, reason, operator string) (*models.HeuristicRule, error) {
	if e.dispatcher == nil {
		return nil, reasoning.ErrUnavailable
	}

	snap, err := e.store.Snapshot(ctx, communityID)
	if err != nil {
		return nil, err
	}

	outcome, err := e.dispatcher.DispatchFeedback(ctx, snap, content, reason)
	if err != nil {
		return nil, err
	}

	for _, call := range outcome.Calls {
		suggest, ok := call.(models.SuggestHeuristicCall)
		if !ok {
			continue
		}
		rule := models.HeuristicRule{
			CommunityID: &communityID,
			RuleType:    suggest.RuleType,
			Pattern:     suggest.Pattern,
			PatternKind: suggest.PatternKind,
			Confidence:  suggest.Confidence,
			Severity:    suggest.Severity,
			Reason:      suggest.Reason,
			CreatedBy:   operator,
			Active:      true,
		}
		saved, _, err := e.store.UpsertHeuristic(ctx, rule)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("community", communityID).
			Str("pattern", saved.Pattern).
			Str("operator", operator).
			Msg("learned heuristic from feedback")
		return &saved, nil
	}
	return nil, nil
}

// InstallSeedRules upserts the global seed heuristics, returning how many
// were newly created. Safe to run on every boot.
func InstallSeedRules(ctx context.Context, s store.Store) (int, error) {
	created := 0
	for _, rule := range heuristics.SeedRules() {
		_, isNew, err := s.UpsertHeuristic(ctx, rule)
		if err != nil {
			return created, fmt.Errorf("seed rule %q: %w", rule.Pattern, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
