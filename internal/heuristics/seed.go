package heuristics

import (
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// SeedCreatedBy marks rules installed by the system rather than suggested by
// the reasoning service.
const SeedCreatedBy = "system"

// SeedRules returns the global detection patterns installed at startup.
// They apply to every community (nil CommunityID) and go through the same
// upsert invariant as reasoning-authored rules, so repeated startups never
// duplicate them.
func SeedRules() []models.HeuristicRule {
	rules := []models.HeuristicRule{
		{
			RuleType:    "fraud_scam",
			Pattern:     `free[\s_\-]*(discord[\s_\-]*)?nitro`,
			PatternKind: models.PatternRegex,
			Confidence:  0.95,
			Severity:    models.SeverityHigh,
			Reason:      "Common Nitro scam pattern - 'free nitro' is almost always fraudulent",
		},
		{
			RuleType:    "fraud_scam",
			Pattern:     `free[\s_\-]*(steam|robux|vbucks|v-bucks)`,
			PatternKind: models.PatternRegex,
			Confidence:  0.92,
			Severity:    models.SeverityHigh,
			Reason:      "Common gaming scam offering free virtual currency",
		},
		{
			RuleType:    "fraud_scam",
			Pattern:     `free[\s_\-]*(crypto|bitcoin|btc|eth|ethereum)`,
			PatternKind: models.PatternRegex,
			Confidence:  0.90,
			Severity:    models.SeverityHigh,
			Reason:      "Cryptocurrency giveaway scam pattern",
		},
		{
			RuleType:    "fraud_scam",
			Pattern:     `(claim|get|win)[\s_\-]*free`,
			PatternKind: models.PatternRegex,
			Confidence:  0.85,
			Severity:    models.SeverityMedium,
			Reason:      "Urgency-based scam language encouraging immediate action",
		},
		{
			RuleType:    "fraud_scam",
			Pattern:     `double[\s_\-]*your[\s_\-]*(money|crypto|bitcoin)`,
			PatternKind: models.PatternRegex,
			Confidence:  0.95,
			Severity:    models.SeverityCritical,
			Reason:      "Classic investment scam promise - 'double your money' is always fraudulent",
		},
		{
			RuleType:    "fraud_link",
			Pattern:     `(?:https?://)?(?:www\.)?(bit\.ly|tinyurl\.com|is\.gd|goo\.gl|ow\.ly|buff\.ly)`,
			PatternKind: models.PatternRegex,
			Confidence:  0.70,
			Severity:    models.SeverityMedium,
			Reason:      "URL shortener - often used to hide malicious links (may be legitimate, needs reasoning context)",
		},
		{
			RuleType:    "fraud_phishing",
			Pattern:     "click this link",
			PatternKind: models.PatternContains,
			Confidence:  0.80,
			Severity:    models.SeverityMedium,
			Reason:      "Common phishing tactic - suspicious call to action",
		},
		{
			RuleType:    "fraud_phishing",
			Pattern:     "click here",
			PatternKind: models.PatternContains,
			Confidence:  0.75,
			Severity:    models.SeverityMedium,
			Reason:      "Generic phishing language (may be legitimate, needs context)",
		},
		{
			RuleType:    "fraud_phishing",
			Pattern:     "claim your free",
			PatternKind: models.PatternContains,
			Confidence:  0.88,
			Severity:    models.SeverityHigh,
			Reason:      "Phishing/scam language offering free items",
		},
		{
			RuleType:    "fraud_urgency",
			Pattern:     "limited time offer",
			PatternKind: models.PatternContains,
			Confidence:  0.70,
			Severity:    models.SeverityLow,
			Reason:      "Urgency tactic common in scams (may be legitimate marketing)",
		},
		{
			RuleType:    "fraud_urgency",
			Pattern:     "act now",
			PatternKind: models.PatternContains,
			Confidence:  0.72,
			Severity:    models.SeverityLow,
			Reason:      "Urgency tactic to prevent critical thinking",
		},
		{
			RuleType:    "fraud_phishing",
			Pattern:     "verify your account",
			PatternKind: models.PatternContains,
			Confidence:  0.85,
			Severity:    models.SeverityHigh,
			Reason:      "Account verification phishing attempt",
		},
	}

	for i := range rules {
		rules[i].CreatedBy = SeedCreatedBy
		rules[i].Active = true
	}
	return rules
}
