package models

import "time"

// Platform event payloads. One explicit struct per event kind; these are the
// only shapes the router accepts and the only shapes serialized into
// reasoning prompts.

// MessageEvent is a newly created message
type MessageEvent struct {
	CommunityID      string    `json:"community_id"`
	CommunityName    string    `json:"community_name"`
	ChannelID        string    `json:"channel_id"`
	ChannelName      string    `json:"channel_name"`
	ChannelTopic     string    `json:"channel_topic,omitempty"`
	ThreadID         *string   `json:"thread_id,omitempty"`
	MessageID        string    `json:"message_id"`
	AuthorID         string    `json:"author_id"`
	AuthorName       string    `json:"author_name"`
	AuthorIsBot      bool      `json:"author_is_bot"`
	Content          string    `json:"content"`
	MentionsBot      bool      `json:"mentions_bot"`
	MentionedUserIDs []string  `json:"mentioned_user_ids,omitempty"`
	ReplyToMessageID *string   `json:"reply_to_message_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// InThread reports whether the message was posted inside a platform thread
func (e *MessageEvent) InThread() bool {
	return e.ThreadID != nil
}

// MessageEditEvent carries both versions of an edited message
type MessageEditEvent struct {
	MessageEvent
	Before   string    `json:"before"`
	EditedAt time.Time `json:"edited_at"`
}

// MemberEvent is a member joining or leaving a community
type MemberEvent struct {
	CommunityID      string     `json:"community_id"`
	CommunityName    string     `json:"community_name"`
	UserID           string     `json:"user_id"`
	Username         string     `json:"username"`
	Roles            []string   `json:"roles,omitempty"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
	JoinedAt         *time.Time `json:"joined_at,omitempty"`
}

// TickEvent is the periodic scheduled evaluation for one community
type TickEvent struct {
	CommunityID   string    `json:"community_id"`
	CommunityName string    `json:"community_name"`
	At            time.Time `json:"at"`
}
