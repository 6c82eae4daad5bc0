package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// exitPhrases close an active conversation without a reply. Matched against
// the normalized full message, not as substrings, so "stop spamming please"
// does not end anything.
var exitPhrases = map[string]struct{}{
	"nevermind":             {},
	"never mind":            {},
	"stop":                  {},
	"quit":                  {},
	"cancel":                {},
	"forget it":             {},
	"ignore that":           {},
	"not you":               {},
	"wasn't talking to you": {},
}

// threadLookback is how far back channel activity counts toward the
// busy-channel threshold when deciding reply versus thread.
const threadLookback = 10 * time.Minute

// threadAuthorThreshold is the distinct-author count at or above which a
// busy channel pushes the reply into a thread.
const threadAuthorThreshold = 3

// Decision is the tracker's verdict for one inbound message.
type Decision struct {
	Respond      bool
	Conversation *models.ConversationThread
	Reason       string
}

// Tracker decides whether a message is part of an ongoing human-bot exchange
// and maintains the conversation state around it. It never calls the
// reasoning layer; it only answers "is this directed at us".
type Tracker struct {
	store     store.Store
	botUserID string
	window    time.Duration
	staleAge  time.Duration
}

// NewTracker creates a tracker. window is how long after the last activity a
// non-mention message still continues a conversation; staleAge is the cutoff
// used by the periodic sweep.
func NewTracker(s store.Store, botUserID string, window, staleAge time.Duration) *Tracker {
	if window <= 0 {
		window = 60 * time.Second
	}
	if staleAge <= 0 {
		staleAge = 24 * time.Hour
	}
	return &Tracker{store: s, botUserID: botUserID, window: window, staleAge: staleAge}
}

// Assess decides whether the bot should respond to ev and, when responding,
// starts or continues the conversation and records the inbound message.
func (t *Tracker) Assess(ctx context.Context, ev models.MessageEvent) (Decision, error) {
	if ev.AuthorIsBot {
		return Decision{Reason: "author is a bot"}, nil
	}

	conv, err := t.store.ActiveConversation(ctx, ev.CommunityID, ev.ChannelID, ev.ThreadID, ev.AuthorID, t.window)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup conversation: %w", err)
	}

	if conv != nil {
		if isExitPhrase(ev.Content) {
			if err := t.store.EndConversation(ctx, conv.ID); err != nil {
				return Decision{}, fmt.Errorf("end conversation: %w", err)
			}
			log.Debug().Int64("conversation_id", conv.ID).Str("author", ev.AuthorID).
				Msg("conversation closed by exit phrase")
			return Decision{Reason: "exit phrase"}, nil
		}
		if t.mentionsSomeoneElse(ev) {
			// Mid-conversation message aimed at another user. Leave the
			// conversation open; the mentioned user joins the participant
			// set so their next message can continue the exchange.
			if err := t.TrackMentions(ctx, conv.ID, ev); err != nil {
				return Decision{}, err
			}
			return Decision{Reason: "directed at another user"}, nil
		}
		if err := t.recordInbound(ctx, conv.ID, ev); err != nil {
			return Decision{}, err
		}
		if err := t.TrackMentions(ctx, conv.ID, ev); err != nil {
			return Decision{}, err
		}
		return Decision{Respond: true, Conversation: conv, Reason: "continuing conversation"}, nil
	}

	if !ev.MentionsBot && !t.repliesToBot(ctx, ev) {
		return Decision{Reason: "not directed at the bot"}, nil
	}

	started, err := t.store.StartConversation(ctx, models.ConversationThread{
		CommunityID:      ev.CommunityID,
		ChannelID:        ev.ChannelID,
		ThreadID:         ev.ThreadID,
		StarterUserID:    ev.AuthorID,
		StarterMessageID: ev.MessageID,
		Participants:     []string{ev.AuthorID},
		LastActivityAt:   ev.CreatedAt,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("start conversation: %w", err)
	}
	if err := t.recordInbound(ctx, started.ID, ev); err != nil {
		return Decision{}, err
	}
	if err := t.TrackMentions(ctx, started.ID, ev); err != nil {
		return Decision{}, err
	}
	log.Debug().Int64("conversation_id", started.ID).Str("starter", ev.AuthorID).
		Str("channel_id", ev.ChannelID).Msg("conversation started")
	return Decision{Respond: true, Conversation: &started, Reason: "new conversation"}, nil
}

// TrackMentions adds every human the message mentions to the conversation's
// participant set, so a user pulled into the exchange by ping can continue
// it within the activity window without mentioning the bot themselves.
func (t *Tracker) TrackMentions(ctx context.Context, conversationID int64, ev models.MessageEvent) error {
	for _, id := range ev.MentionedUserIDs {
		if id == t.botUserID || id == ev.AuthorID {
			continue
		}
		if err := t.store.TouchConversation(ctx, conversationID, id, ev.CreatedAt); err != nil {
			return fmt.Errorf("track mention: %w", err)
		}
	}
	return nil
}

// RecordBotReply appends the bot's own message so later turns see it in
// history, and refreshes the activity window.
func (t *Tracker) RecordBotReply(ctx context.Context, conversationID int64, ref *platform.MessageRef, content string, botName string) error {
	if ref == nil {
		return nil
	}
	now := time.Now().UTC()
	if err := t.store.AppendConversationMessage(ctx, models.ConversationMessage{
		MessageID:      ref.MessageID,
		ConversationID: conversationID,
		AuthorID:       t.botUserID,
		AuthorName:     botName,
		Content:        content,
		IsBot:          true,
		CreatedAt:      now,
	}); err != nil {
		return fmt.Errorf("record bot reply: %w", err)
	}
	return t.store.TouchConversation(ctx, conversationID, t.botUserID, now)
}

// History returns the conversation transcript, oldest first.
func (t *Tracker) History(ctx context.Context, conversationID int64, limit int) ([]models.ConversationMessage, error) {
	return t.store.ConversationHistory(ctx, conversationID, limit)
}

// SweepStale deactivates conversations idle past the stale cutoff.
func (t *Tracker) SweepStale(ctx context.Context) (int, error) {
	n, err := t.store.SweepStaleConversations(ctx, t.staleAge)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int("swept", n).Dur("older_than", t.staleAge).Msg("stale conversations closed")
	}
	return n, nil
}

// ShouldUseThread reports whether a reply in the channel should move to a
// thread because the channel is busy with several other participants.
func (t *Tracker) ShouldUseThread(ctx context.Context, communityID, channelID string) (bool, error) {
	authors, err := t.store.RecentChannelAuthors(ctx, communityID, channelID, time.Now().UTC().Add(-threadLookback))
	if err != nil {
		return false, err
	}
	distinct := 0
	for _, a := range authors {
		if a != t.botUserID {
			distinct++
		}
	}
	return distinct >= threadAuthorThreshold, nil
}

func (t *Tracker) recordInbound(ctx context.Context, conversationID int64, ev models.MessageEvent) error {
	if err := t.store.AppendConversationMessage(ctx, models.ConversationMessage{
		MessageID:      ev.MessageID,
		ConversationID: conversationID,
		AuthorID:       ev.AuthorID,
		AuthorName:     ev.AuthorName,
		Content:        ev.Content,
		IsBot:          false,
		CreatedAt:      ev.CreatedAt,
	}); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return t.store.TouchConversation(ctx, conversationID, ev.AuthorID, ev.CreatedAt)
}

// mentionsSomeoneElse is true when the message pings other users but not
// the bot.
func (t *Tracker) mentionsSomeoneElse(ev models.MessageEvent) bool {
	if ev.MentionsBot {
		return false
	}
	for _, id := range ev.MentionedUserIDs {
		if id != t.botUserID {
			return true
		}
	}
	return false
}

// repliesToBot resolves the reply target and reports whether it was one of
// the bot's own messages. A reply to a bot message opens a fresh exchange
// even after the continuation window lapsed.
func (t *Tracker) repliesToBot(ctx context.Context, ev models.MessageEvent) bool {
	if ev.ReplyToMessageID == nil {
		return false
	}
	target, err := t.store.ConversationMessage(ctx, *ev.ReplyToMessageID)
	if err != nil {
		return false
	}
	return target.IsBot
}

func isExitPhrase(content string) bool {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = strings.TrimRight(normalized, ".!?,")
	normalized = strings.Join(strings.Fields(normalized), " ")
	_, ok := exitPhrases[normalized]
	return ok
}
