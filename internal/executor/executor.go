package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/retry"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// defaultTimeout applies when a timeout action arrives without a duration.
const defaultTimeout = 10 * time.Minute

// banPruneDays is how much of a banned user's recent history is removed.
const banPruneDays = 1

// maxThreadNameLen is the platform's thread name limit.
const maxThreadNameLen = 100

// oldReplyThreshold pushes replies to messages older than this into a
// thread, so a late answer does not bump an hours-old exchange back into
// the channel.
const oldReplyThreshold = time.Hour

// EventContext carries the triggering event's identity through execution.
type EventContext struct {
	CommunityID    string
	ChannelID      string
	MessageID      string
	AuthorID       string
	AuthorName     string
	EventAt        time.Time
	ConversationID int64 // zero when no conversation is active
}

// Executor applies reasoning verdicts to the platform and writes the audit
// trail. Platform calls are single-shot; audit writes retry briefly because
// a lost audit row is worse than a duplicated one. In dry-run mode every
// decision is recorded and no platform mutation happens.
type Executor struct {
	platform platform.Platform
	store    store.Store
	tracker  *conversation.Tracker
	botName  string
}

// New creates an executor.
func New(p platform.Platform, s store.Store, tracker *conversation.Tracker, botName string) *Executor {
	if botName == "" {
		botName = models.DefaultPersona().Name
	}
	return &Executor{platform: p, store: s, tracker: tracker, botName: botName}
}

// Execute applies every call from one verdict in order. A failed call is
// logged and recorded; later calls still run, since a failed timeout must
// not swallow the audit of an escalation in the same verdict.
func (e *Executor) Execute(ctx context.Context, snap *models.CommunitySnapshot, evctx EventContext, calls []models.ToolCall) {
	for _, call := range calls {
		var err error
		switch c := call.(type) {
		case models.TakeActionCall:
			err = e.takeAction(ctx, snap, evctx, c)
		case models.SendMessageCall:
			err = e.sendMessage(ctx, snap, evctx, c)
		case models.EscalateCall:
			err = e.escalate(ctx, snap, evctx, c)
		case models.SuggestHeuristicCall:
			err = e.suggestHeuristic(ctx, snap, evctx, c)
		default:
			log.Error().Str("tool", string(call.ToolName())).Msg("unhandled tool call type")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("tool", string(call.ToolName())).
				Str("community_id", evctx.CommunityID).Msg("tool call execution failed")
		}
	}
}

func (e *Executor) takeAction(ctx context.Context, snap *models.CommunitySnapshot, evctx EventContext, call models.TakeActionCall) error {
	summary := fmt.Sprintf("%s %s: %s", call.Action, call.TargetUserID, call.Reason)

	var execErr error
	if snap.DryRun {
		summary = "[DRY-RUN] " + summary
	} else {
		execErr = e.applyAction(ctx, evctx, call)
	}

	rec := models.ModerationRecord{
		CommunityID:  evctx.CommunityID,
		ChannelID:    strPtr(evctx.ChannelID),
		ActionType:   string(call.Action),
		Summary:      summary,
		TargetUserID: strPtr(call.TargetUserID),
		Reason:       strPtr(call.Reason),
		DryRun:       snap.DryRun,
	}
	if call.MessageID != "" {
		rec.MessageID = strPtr(call.MessageID)
	}
	if execErr != nil {
		rec.Metadata = map[string]any{"error": execErr.Error()}
	}
	e.audit(ctx, rec)
	e.mirrorToLogChannel(ctx, snap, summary)

	if execErr != nil {
		return fmt.Errorf("apply %s: %w", call.Action, execErr)
	}
	return nil
}

// applyAction performs the platform side of a moderation action. Never
// called in dry-run mode.
func (e *Executor) applyAction(ctx context.Context, evctx EventContext, call models.TakeActionCall) error {
	reason := fmt.Sprintf("%s: %s", e.botName, call.Reason)

	switch call.Action {
	case models.ActionDeleteMessage:
		messageID := call.MessageID
		if messageID == "" {
			messageID = evctx.MessageID
		}
		return e.platform.DeleteMessage(ctx, evctx.ChannelID, messageID)

	case models.ActionWarn:
		warning := fmt.Sprintf("You have received a warning in this community: %s", call.Reason)
		return e.platform.SendDirectMessage(ctx, call.TargetUserID, warning)

	case models.ActionTimeout:
		duration := time.Duration(call.DurationMinutes) * time.Minute
		if duration <= 0 {
			duration = defaultTimeout
		}
		return e.platform.TimeoutMember(ctx, evctx.CommunityID, call.TargetUserID, duration, reason)

	case models.ActionKick:
		notice := fmt.Sprintf("You have been removed from the community: %s. You may rejoin if you follow the rules.", call.Reason)
		if err := e.platform.SendDirectMessage(ctx, call.TargetUserID, notice); err != nil {
			// The kick proceeds even when the notice cannot be delivered.
			log.Warn().Err(err).Str("user_id", call.TargetUserID).Msg("kick notice undeliverable")
		}
		return e.platform.KickMember(ctx, evctx.CommunityID, call.TargetUserID, reason)

	case models.ActionBan:
		return e.platform.BanMember(ctx, evctx.CommunityID, call.TargetUserID, reason, banPruneDays)

	case models.ActionFlag:
		// Flag is audit-only; the record written by takeAction is the action.
		return nil
	}
	return fmt.Errorf("unknown action %q", call.Action)
}

func (e *Executor) sendMessage(ctx context.Context, snap *models.CommunitySnapshot, evctx EventContext, call models.SendMessageCall) error {
	channelID := call.ChannelID
	if channelID == "" {
		channelID = evctx.ChannelID
	}

	summary := fmt.Sprintf("message in %s: %s", channelID, truncate(call.Message, 140))
	if snap.DryRun {
		e.audit(ctx, models.ModerationRecord{
			CommunityID: evctx.CommunityID,
			ChannelID:   strPtr(channelID),
			ActionType:  "send_message",
			Summary:     "[DRY-RUN] " + summary,
			DryRun:      true,
			Metadata:    map[string]any{"context_tag": call.ContextTag},
		})
		return nil
	}

	ref, err := e.deliver(ctx, evctx, call, channelID)

	rec := models.ModerationRecord{
		CommunityID: evctx.CommunityID,
		ChannelID:   strPtr(channelID),
		ActionType:  "send_message",
		Summary:     summary,
		Metadata:    map[string]any{"context_tag": call.ContextTag},
	}
	if err != nil {
		rec.Metadata["error"] = err.Error()
	} else if ref != nil {
		rec.MessageID = strPtr(ref.MessageID)
	}
	e.audit(ctx, rec)

	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if evctx.ConversationID != 0 && e.tracker != nil {
		if err := e.tracker.RecordBotReply(ctx, evctx.ConversationID, ref, call.Message, e.botName); err != nil {
			log.Warn().Err(err).Int64("conversation_id", evctx.ConversationID).
				Msg("failed to record bot reply")
		}
	}
	return nil
}

// deliver picks between a plain message, an anchored reply, and a thread.
func (e *Executor) deliver(ctx context.Context, evctx EventContext, call models.SendMessageCall, channelID string) (*platform.MessageRef, error) {
	replyTo := call.ReplyToMessageID
	if replyTo == "" && channelID == evctx.ChannelID {
		replyTo = evctx.MessageID
	}

	if replyTo != "" && e.shouldUseThread(ctx, evctx, call) {
		name := call.ThreadName
		if name == "" {
			name = fmt.Sprintf("Conversation with %s", evctx.AuthorName)
		}
		if len(name) > maxThreadNameLen {
			name = name[:maxThreadNameLen]
		}
		thread, err := e.platform.CreateThread(ctx, channelID, replyTo, name)
		if err == nil {
			return e.platform.SendMessage(ctx, thread.ThreadID, call.Message, nil)
		}
		// Thread creation can fail on permissions or message type; fall back
		// to an anchored reply rather than dropping the message.
		log.Warn().Err(err).Str("channel_id", channelID).Msg("thread creation failed, replying in channel")
	}

	if replyTo != "" {
		return e.platform.SendMessage(ctx, channelID, call.Message, &replyTo)
	}
	return e.platform.SendMessage(ctx, channelID, call.Message, nil)
}

func (e *Executor) shouldUseThread(ctx context.Context, evctx EventContext, call models.SendMessageCall) bool {
	if call.ReplyInThread != nil {
		return *call.ReplyInThread
	}
	if at := e.replyAnchorTime(ctx, evctx, call); !at.IsZero() && time.Since(at) > oldReplyThreshold {
		return true
	}
	if e.tracker == nil {
		return false
	}
	busy, err := e.tracker.ShouldUseThread(ctx, evctx.CommunityID, evctx.ChannelID)
	if err != nil {
		log.Warn().Err(err).Msg("thread decision lookup failed")
		return false
	}
	return busy
}

// replyAnchorTime resolves the timestamp of the message the reply anchors
// to. When the call targets a message other than the triggering event, the
// stored record carries the real age; an untracked target falls back to
// the event time.
func (e *Executor) replyAnchorTime(ctx context.Context, evctx EventContext, call models.SendMessageCall) time.Time {
	if call.ReplyToMessageID != "" && call.ReplyToMessageID != evctx.MessageID {
		if msg, err := e.store.ConversationMessage(ctx, call.ReplyToMessageID); err == nil {
			return msg.CreatedAt
		}
	}
	return evctx.EventAt
}

func (e *Executor) escalate(ctx context.Context, snap *models.CommunitySnapshot, evctx EventContext, call models.EscalateCall) error {
	summary := fmt.Sprintf("[%s] %s", call.Priority, call.Summary)
	if snap.DryRun {
		summary = "[DRY-RUN] " + summary
	}
	e.audit(ctx, models.ModerationRecord{
		CommunityID: evctx.CommunityID,
		ChannelID:   strPtr(evctx.ChannelID),
		ActionType:  "escalate",
		Summary:     summary,
		DryRun:      snap.DryRun,
		Metadata:    map[string]any{"priority": string(call.Priority)},
	})
	e.mirrorToLogChannel(ctx, snap, "Escalation "+summary)
	return nil
}

func (e *Executor) suggestHeuristic(ctx context.Context, snap *models.CommunitySnapshot, evctx EventContext, call models.SuggestHeuristicCall) error {
	rule := models.HeuristicRule{
		CommunityID: strPtr(evctx.CommunityID),
		RuleType:    call.RuleType,
		Pattern:     call.Pattern,
		PatternKind: call.PatternKind,
		Confidence:  call.Confidence,
		Severity:    call.Severity,
		Reason:      call.Reason,
		CreatedBy:   e.botName,
	}

	stored, created, err := e.store.UpsertHeuristic(ctx, rule)
	if err != nil {
		return fmt.Errorf("upsert heuristic: %w", err)
	}
	if !created {
		log.Debug().Int64("rule_id", stored.ID).Int("version", stored.Version).
			Msg("existing heuristic strengthened")
		return nil
	}

	e.audit(ctx, models.ModerationRecord{
		CommunityID: evctx.CommunityID,
		ActionType:  "suggest_heuristic",
		Summary:     fmt.Sprintf("new %s heuristic %q (%s, confidence %.2f)", call.RuleType, call.Pattern, call.PatternKind, call.Confidence),
		DryRun:      snap.DryRun,
		Metadata:    map[string]any{"rule_id": stored.ID},
	})
	return nil
}

// audit persists one trail record with the short audit retry policy. The
// failure path only logs; an unreachable store must not break execution of
// the remaining calls.
func (e *Executor) audit(ctx context.Context, rec models.ModerationRecord) {
	result := retry.WithBackoff(ctx, retry.AuditConfig(), func() error {
		_, err := e.store.InsertModerationRecord(ctx, rec)
		return err
	})
	if !result.Success {
		log.Error().Err(result.LastError).Str("action_type", rec.ActionType).
			Str("community_id", rec.CommunityID).Msg("audit record lost")
	}
}

// mirrorToLogChannel posts a copy of a moderation summary to the community's
// log channel, when one is configured. Mirroring happens in dry-run too;
// the [DRY-RUN] prefix in the summary carries the distinction.
func (e *Executor) mirrorToLogChannel(ctx context.Context, snap *models.CommunitySnapshot, summary string) {
	if snap.LogChannelID == nil || *snap.LogChannelID == "" {
		return
	}
	if _, err := e.platform.SendMessage(ctx, *snap.LogChannelID, summary, nil); err != nil {
		log.Warn().Err(err).Str("log_channel_id", *snap.LogChannelID).
			Msg("log channel mirror failed")
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
