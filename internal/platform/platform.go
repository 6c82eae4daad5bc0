package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by platform clients. Callers branch on these to
// distinguish a revoked permission from a message that was already gone.
var (
	ErrForbidden = errors.New("platform: missing permission")
	ErrNotFound  = errors.New("platform: resource not found")
)

// Message is one chat message as returned by history fetches.
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	AuthorBot  bool      `json:"author_bot"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageRef identifies a message the client just sent.
type MessageRef struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// ThreadRef identifies a thread the client just created.
type ThreadRef struct {
	ThreadID string `json:"thread_id"`
	Name     string `json:"name"`
}

// Platform is the outbound surface for chat-platform interventions. Every
// call is a single attempt; a failed intervention is recorded and surfaced,
// never retried, because most interventions are not idempotent.
type Platform interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TimeoutMember(ctx context.Context, communityID, userID string, duration time.Duration, reason string) error
	KickMember(ctx context.Context, communityID, userID, reason string) error
	BanMember(ctx context.Context, communityID, userID, reason string, pruneDays int) error
	SendMessage(ctx context.Context, channelID, content string, replyToMessageID *string) (*MessageRef, error)
	CreateThread(ctx context.Context, channelID, messageID, name string) (*ThreadRef, error)
	SendDirectMessage(ctx context.Context, userID, content string) error
	FetchRecentHistory(ctx context.Context, channelID string, limit int) ([]Message, error)
}
