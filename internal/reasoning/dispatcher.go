package reasoning

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// Outcome is one reasoning verdict. Zero Calls with a nil error is a valid
// "do nothing" verdict; an error means no verdict was reached and the event
// must be skipped, not treated as a no-op.
type Outcome struct {
	Content string
	Calls   []models.ToolCall
}

// Dispatcher turns pipeline events into reasoning calls and typed verdicts.
type Dispatcher struct {
	client Client
}

// NewDispatcher wraps a reasoning client.
func NewDispatcher(c Client) *Dispatcher {
	return &Dispatcher{client: c}
}

// DispatchMessage asks for a verdict on a message the bot should engage with.
func (d *Dispatcher) DispatchMessage(ctx context.Context, snap *models.CommunitySnapshot, ev models.MessageEvent, history []models.ConversationMessage) (*Outcome, error) {
	return d.run(ctx, snap, MessagePrompt(ev, history))
}

// DispatchViolation asks for a verdict on a heuristic-flagged message.
func (d *Dispatcher) DispatchViolation(ctx context.Context, snap *models.CommunitySnapshot, ev models.MessageEvent, match *models.HeuristicMatch, deleted bool) (*Outcome, error) {
	return d.run(ctx, snap, ViolationPrompt(ev, match, deleted))
}

// DispatchEdit asks for a verdict on an edited message.
func (d *Dispatcher) DispatchEdit(ctx context.Context, snap *models.CommunitySnapshot, ev models.MessageEditEvent) (*Outcome, error) {
	return d.run(ctx, snap, EditPrompt(ev))
}

// DispatchMemberJoined asks for a verdict on a new arrival.
func (d *Dispatcher) DispatchMemberJoined(ctx context.Context, snap *models.CommunitySnapshot, ev models.MemberEvent) (*Outcome, error) {
	return d.run(ctx, snap, MemberJoinedPrompt(ev))
}

// DispatchMemberLeft asks for a verdict on a departure.
func (d *Dispatcher) DispatchMemberLeft(ctx context.Context, snap *models.CommunitySnapshot, ev models.MemberEvent) (*Outcome, error) {
	return d.run(ctx, snap, MemberLeftPrompt(ev))
}

// DispatchFeedback asks for a heuristic covering a message the matchers
// missed. Callers should ignore anything but suggest_heuristic calls.
func (d *Dispatcher) DispatchFeedback(ctx context.Context, snap *models.CommunitySnapshot, content, reason string) (*Outcome, error) {
	return d.run(ctx, snap, FeedbackPrompt(content, reason))
}

// DispatchTick asks for the periodic community review.
func (d *Dispatcher) DispatchTick(ctx context.Context, snap *models.CommunitySnapshot, ev models.TickEvent, recent []models.ModerationRecord) (*Outcome, error) {
	return d.run(ctx, snap, TickPrompt(ev, recent))
}

func (d *Dispatcher) run(ctx context.Context, snap *models.CommunitySnapshot, prompt string) (*Outcome, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt(snap)),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := d.client.Run(ctx, messages, Tools())
	if err != nil {
		return nil, err
	}

	calls := DecodeToolCalls(resp.ToolCalls)
	if len(calls) == 0 && resp.Content != "" {
		// Free text with no tool calls is a no-op verdict; keep the text in
		// the log for operators reviewing why nothing happened.
		log.Debug().Str("content", truncateArgs(resp.Content)).Msg("reasoning returned no tool calls")
	}
	return &Outcome{Content: resp.Content, Calls: calls}, nil
}
