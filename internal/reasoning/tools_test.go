package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

func toolCall(name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           "call-1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func TestDecodeTakeAction(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("take_action", `{"action":"timeout","target_user_id":"u1","reason":"spam","duration_minutes":30}`),
	})
	require.Len(t, calls, 1)

	action, ok := calls[0].(models.TakeActionCall)
	require.True(t, ok)
	assert.Equal(t, models.ActionTimeout, action.Action)
	assert.Equal(t, "u1", action.TargetUserID)
	assert.Equal(t, 30, action.DurationMinutes)
}

func TestDecodeRepairsMalformedJSON(t *testing.T) {
	// Trailing comma plus single quotes: typical sloppy model output.
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("escalate", `{'summary': 'possible raid', 'priority': 'high',}`),
	})
	require.Len(t, calls, 1)

	esc, ok := calls[0].(models.EscalateCall)
	require.True(t, ok)
	assert.Equal(t, "possible raid", esc.Summary)
	assert.Equal(t, models.PriorityHigh, esc.Priority)
}

func TestDecodeDropsMalformedCall(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("take_action", `{"action":"obliterate","target_user_id":"u1","reason":"x"}`),
		toolCall("take_action", `{"action":"warn","reason":"missing target"}`),
		toolCall("send_message", `{"message":"still works"}`),
	})
	require.Len(t, calls, 1)
	assert.Equal(t, models.ToolSendMessage, calls[0].ToolName())
}

func TestDecodeDropsUnknownTool(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("self_destruct", `{}`),
	})
	assert.Empty(t, calls)
}

func TestDecodeDedupesSendMessage(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("send_message", `{"message":"first"}`),
		toolCall("send_message", `{"message":"second"}`),
		toolCall("escalate", `{"summary":"s","priority":"low"}`),
	})
	require.Len(t, calls, 2)

	send, ok := calls[0].(models.SendMessageCall)
	require.True(t, ok)
	assert.Equal(t, "first", send.Message)
	assert.Equal(t, models.ToolEscalate, calls[1].ToolName())
}

func TestDecodeSuggestHeuristicBounds(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("suggest_heuristic", `{"rule_type":"fraud_scam","pattern":"free nitro","pattern_kind":"contains","confidence":0.9,"severity":"high","reason":"scam"}`),
		toolCall("suggest_heuristic", `{"rule_type":"fraud_scam","pattern":"x","pattern_kind":"contains","confidence":1.5,"severity":"high"}`),
		toolCall("suggest_heuristic", `{"rule_type":"fraud_scam","pattern":"y","pattern_kind":"vibes","confidence":0.5,"severity":"high"}`),
	})
	require.Len(t, calls, 1)

	sug, ok := calls[0].(models.SuggestHeuristicCall)
	require.True(t, ok)
	assert.Equal(t, models.PatternContains, sug.PatternKind)
}

func TestDecodeDefaultsEscalatePriority(t *testing.T) {
	calls := DecodeToolCalls([]llms.ToolCall{
		toolCall("escalate", `{"summary":"odd behavior"}`),
	})
	require.Len(t, calls, 1)
	assert.Equal(t, models.PriorityMedium, calls[0].(models.EscalateCall).Priority)
}

func TestToolsSchemaComplete(t *testing.T) {
	names := make(map[string]bool)
	for _, tool := range Tools() {
		require.NotNil(t, tool.Function)
		names[tool.Function.Name] = true
	}
	for _, want := range []models.ToolName{
		models.ToolTakeAction, models.ToolSendMessage,
		models.ToolEscalate, models.ToolSuggestHeuristic,
	} {
		assert.True(t, names[string(want)], "missing tool %s", want)
	}
}
