package automation

import (
	"strings"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// Evaluate checks a message against the channel's automation rule and
// returns the rule when it fires. Automations run before any reasoning:
// an inactive rule never fires, a rule with no keywords fires on every
// message in its channel, and otherwise one case-insensitive keyword
// substring is enough.
func Evaluate(snap *models.CommunitySnapshot, ev models.MessageEvent) *models.AutomationRule {
	if snap == nil {
		return nil
	}
	rule := snap.AutomationFor(ev.ChannelID)
	if rule == nil {
		return nil
	}
	if len(rule.Keywords) == 0 {
		return rule
	}

	content := strings.ToLower(ev.Content)
	for _, kw := range rule.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(kw)) {
			return rule
		}
	}
	return nil
}
