package models

// Tool calls returned by the reasoning service, decoded into a closed union
// at the dispatcher boundary. Each variant carries its own typed arguments;
// nothing downstream re-parses JSON.

// ToolName identifies one of the supported tools
type ToolName string

const (
	ToolTakeAction       ToolName = "take_action"
	ToolSendMessage      ToolName = "send_message"
	ToolEscalate         ToolName = "escalate"
	ToolSuggestHeuristic ToolName = "suggest_heuristic"
)

// ToolCall is the decoded unit the Action Executor consumes
type ToolCall interface {
	ToolName() ToolName
}

// TakeActionCall requests a platform intervention against one user
type TakeActionCall struct {
	Action          ModAction `json:"action"`
	TargetUserID    string    `json:"target_user_id"`
	Reason          string    `json:"reason"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
}

func (TakeActionCall) ToolName() ToolName { return ToolTakeAction }

// SendMessageCall requests a single reply. ReplyInThread nil means "decide
// from channel activity"; true/false is an explicit override.
type SendMessageCall struct {
	ChannelID        string `json:"channel_id,omitempty"`
	Message          string `json:"message"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	ReplyInThread    *bool  `json:"reply_in_thread,omitempty"`
	ThreadName       string `json:"thread_name,omitempty"`
	ContextTag       string `json:"context_tag,omitempty"`
}

func (SendMessageCall) ToolName() ToolName { return ToolSendMessage }

// EscalatePriority orders escalations for human review
type EscalatePriority string

const (
	PriorityLow    EscalatePriority = "low"
	PriorityMedium EscalatePriority = "medium"
	PriorityHigh   EscalatePriority = "high"
)

// EscalateCall hands a situation to human moderators
type EscalateCall struct {
	Summary  string           `json:"summary"`
	Priority EscalatePriority `json:"priority,omitempty"`
}

func (EscalateCall) ToolName() ToolName { return ToolEscalate }

// SuggestHeuristicCall teaches the pipeline a new detection pattern
type SuggestHeuristicCall struct {
	RuleType    string      `json:"rule_type"`
	Pattern     string      `json:"pattern"`
	PatternKind PatternKind `json:"pattern_kind"`
	Confidence  float64     `json:"confidence"`
	Severity    Severity    `json:"severity"`
	Reason      string      `json:"reason"`
}

func (SuggestHeuristicCall) ToolName() ToolName { return ToolSuggestHeuristic }
