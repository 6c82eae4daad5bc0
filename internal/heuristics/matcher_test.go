package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

func rule(id int64, kind models.PatternKind, pattern string, confidence float64) models.HeuristicRule {
	return models.HeuristicRule{
		ID:          id,
		RuleType:    "fraud_scam",
		Pattern:     pattern,
		PatternKind: kind,
		Confidence:  confidence,
		Severity:    models.SeverityHigh,
		Active:      true,
	}
}

func TestMatchExactWordBoundary(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{rule(1, models.PatternExact, "scam", 0.9)}

	match := m.Match("this is a SCAM, report it", rules)
	require.NotNil(t, match)
	assert.Equal(t, int64(1), match.Rule.ID)
	assert.Equal(t, "scam", match.Snippet)

	// "scam" embedded in a longer word must not hit
	assert.Nil(t, m.Match("scampering away", rules))
	assert.Nil(t, m.Match("telescamper", rules))
}

func TestMatchContains(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{rule(2, models.PatternContains, "free nitro", 0.95)}

	match := m.Match("CLICK HERE FOR FREE NITRO!!!", rules)
	require.NotNil(t, match)
	assert.Equal(t, "free nitro", match.Snippet)

	assert.Nil(t, m.Match("nitro is free of charge elsewhere", rules))
}

func TestMatchRegexCaseInsensitive(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{rule(3, models.PatternRegex, `free[\s_\-]*nitro`, 0.95)}

	require.NotNil(t, m.Match("who wants FREE_NITRO today", rules))
	require.NotNil(t, m.Match("free-nitro giveaway", rules))
	assert.Nil(t, m.Match("nitro costs money", rules))
}

func TestMatchFuzzy(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{rule(4, models.PatternFuzzy, "double your money", 0.9)}

	// One character off the pattern stays above the similarity threshold.
	match := m.Match("double your money", rules)
	require.NotNil(t, match)
	assert.Equal(t, "double your money", match.Snippet)

	assert.Nil(t, m.Match("completely unrelated text here", rules))
}

func TestMatchInvalidRegexSkipped(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{
		rule(5, models.PatternRegex, `free[(nitro`, 0.99),
		rule(6, models.PatternContains, "free nitro", 0.9),
	}

	// The broken pattern is skipped without aborting the scan; the next rule
	// still gets a chance. Repeating the call exercises the bad-pattern cache.
	for i := 0; i < 2; i++ {
		match := m.Match("free nitro here", rules)
		require.NotNil(t, match)
		assert.Equal(t, int64(6), match.Rule.ID)
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{
		rule(10, models.PatternContains, "free nitro", 0.95),
		rule(11, models.PatternContains, "nitro", 0.6),
	}

	match := m.Match("free nitro for everyone", rules)
	require.NotNil(t, match)
	assert.Equal(t, int64(10), match.Rule.ID)
}

func TestMatchEmptyContent(t *testing.T) {
	m := NewMatcher()
	rules := []models.HeuristicRule{rule(12, models.PatternContains, "anything", 0.9)}

	assert.Nil(t, m.Match("", rules))
	assert.Nil(t, m.Match("   \n\t", rules))
}

func TestSeedRulesWellFormed(t *testing.T) {
	m := NewMatcher()
	rules := SeedRules()
	require.NotEmpty(t, rules)

	for _, r := range rules {
		assert.True(t, r.PatternKind.Valid(), "rule %q has invalid kind", r.Pattern)
		assert.Equal(t, SeedCreatedBy, r.CreatedBy)
		assert.True(t, r.Active)
		assert.Nil(t, r.CommunityID, "seed rules are global")
	}

	// Every seed regex must actually compile.
	match := m.Match("get your FREE NITRO by clicking this link, act now", rules)
	require.NotNil(t, match)
	assert.Equal(t, "fraud_scam", match.Rule.RuleType)
}
