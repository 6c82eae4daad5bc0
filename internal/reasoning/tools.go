package reasoning

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// Tools returns the function schemas offered on every reasoning call. The
// model expresses every decision through these; free text outside a tool
// call is logged but never acted on.
func Tools() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name: string(models.ToolTakeAction),
				Description: "Take a moderation action against a user or message. " +
					"Use only when a rule violation is clear from the provided context.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type": "string",
							"enum": []string{"delete_message", "warn", "timeout", "kick", "ban", "flag"},
						},
						"target_user_id": map[string]any{
							"type":        "string",
							"description": "Platform ID of the user the action applies to",
						},
						"reason": map[string]any{
							"type":        "string",
							"description": "Short human-readable justification, shown to moderators",
						},
						"duration_minutes": map[string]any{
							"type":        "integer",
							"description": "Timeout length in minutes; only for the timeout action",
						},
						"message_id": map[string]any{
							"type":        "string",
							"description": "Message to delete; only for the delete_message action",
						},
					},
					"required": []string{"action", "target_user_id", "reason"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name: string(models.ToolSendMessage),
				Description: "Send a chat message. Use for replies in conversations and for " +
					"public moderation notices. At most one per turn.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"channel_id": map[string]any{
							"type":        "string",
							"description": "Channel to post in; defaults to the channel of the current event",
						},
						"message": map[string]any{
							"type": "string",
						},
						"reply_to_message_id": map[string]any{
							"type":        "string",
							"description": "Message to reply to, when the reply should be anchored",
						},
						"reply_in_thread": map[string]any{
							"type":        "boolean",
							"description": "Force the reply into a thread instead of the channel",
						},
						"thread_name": map[string]any{
							"type":        "string",
							"description": "Name for a newly created thread",
						},
						"context_tag": map[string]any{
							"type":        "string",
							"description": "Free-form label describing why this message is being sent",
						},
					},
					"required": []string{"message"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name: string(models.ToolEscalate),
				Description: "Flag a situation for human moderators without acting on it. " +
					"Use when the right response is unclear or exceeds your authority.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"summary": map[string]any{
							"type": "string",
						},
						"priority": map[string]any{
							"type": "string",
							"enum": []string{"low", "medium", "high"},
						},
					},
					"required": []string{"summary", "priority"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name: string(models.ToolSuggestHeuristic),
				Description: "Propose a reusable detection pattern so similar violations are " +
					"caught without another reasoning call.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"rule_type": map[string]any{
							"type":        "string",
							"description": "Category such as fraud_scam, fraud_phishing, harassment",
						},
						"pattern": map[string]any{
							"type": "string",
						},
						"pattern_kind": map[string]any{
							"type": "string",
							"enum": []string{"exact", "regex", "fuzzy", "contains"},
						},
						"confidence": map[string]any{
							"type":    "number",
							"minimum": 0,
							"maximum": 1,
						},
						"severity": map[string]any{
							"type": "string",
							"enum": []string{"low", "medium", "high", "critical"},
						},
						"reason": map[string]any{
							"type": "string",
						},
					},
					"required": []string{"rule_type", "pattern", "pattern_kind", "confidence", "severity"},
				},
			},
		},
	}
}

// DecodeToolCalls converts raw model tool calls into typed calls. Malformed
// arguments go through jsonrepair before being dropped; a dropped call is
// logged, never fatal. Duplicate send_message calls collapse to the first.
func DecodeToolCalls(raw []llms.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(raw))
	seenSend := false

	for _, tc := range raw {
		if tc.FunctionCall == nil {
			continue
		}
		call, err := decodeCall(tc.FunctionCall.Name, tc.FunctionCall.Arguments)
		if err != nil {
			log.Warn().Err(err).Str("tool", tc.FunctionCall.Name).
				Str("arguments", truncateArgs(tc.FunctionCall.Arguments)).
				Msg("dropping malformed tool call")
			continue
		}
		if call.ToolName() == models.ToolSendMessage {
			if seenSend {
				log.Warn().Msg("dropping duplicate send_message tool call")
				continue
			}
			seenSend = true
		}
		out = append(out, call)
	}
	return out
}

func decodeCall(name, arguments string) (models.ToolCall, error) {
	decode := func(v any) error {
		if err := json.Unmarshal([]byte(arguments), v); err == nil {
			return nil
		}
		repaired, err := jsonrepair.JSONRepair(arguments)
		if err != nil {
			return fmt.Errorf("arguments are not JSON: %w", err)
		}
		return json.Unmarshal([]byte(repaired), v)
	}

	switch models.ToolName(name) {
	case models.ToolTakeAction:
		var call models.TakeActionCall
		if err := decode(&call); err != nil {
			return nil, err
		}
		if !call.Action.Valid() {
			return nil, fmt.Errorf("unknown action %q", call.Action)
		}
		if call.TargetUserID == "" {
			return nil, fmt.Errorf("take_action without target_user_id")
		}
		return call, nil

	case models.ToolSendMessage:
		var call models.SendMessageCall
		if err := decode(&call); err != nil {
			return nil, err
		}
		if call.Message == "" {
			return nil, fmt.Errorf("send_message without message")
		}
		return call, nil

	case models.ToolEscalate:
		var call models.EscalateCall
		if err := decode(&call); err != nil {
			return nil, err
		}
		if call.Summary == "" {
			return nil, fmt.Errorf("escalate without summary")
		}
		switch call.Priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			call.Priority = models.PriorityMedium
		}
		return call, nil

	case models.ToolSuggestHeuristic:
		var call models.SuggestHeuristicCall
		if err := decode(&call); err != nil {
			return nil, err
		}
		if !call.PatternKind.Valid() {
			return nil, fmt.Errorf("unknown pattern kind %q", call.PatternKind)
		}
		if call.Pattern == "" {
			return nil, fmt.Errorf("suggest_heuristic without pattern")
		}
		if call.Confidence < 0 || call.Confidence > 1 {
			return nil, fmt.Errorf("confidence %v out of range", call.Confidence)
		}
		return call, nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

func truncateArgs(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
