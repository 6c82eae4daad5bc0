package heuristics

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// fuzzyThreshold is the similarity ratio above which a fuzzy pattern counts
// as a hit.
const fuzzyThreshold = 0.85

// Matcher evaluates message text against a set of heuristic rules. It is
// stateless given a rule set; compiled regular expressions are cached across
// calls. The matcher never executes actions and never mutates rules; the
// caller records use counts through the store.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
	bad   map[string]struct{} // patterns that failed to compile; skip without re-logging
}

// NewMatcher creates a matcher with an empty compilation cache
func NewMatcher() *Matcher {
	return &Matcher{
		cache: make(map[string]*regexp.Regexp),
		bad:   make(map[string]struct{}),
	}
}

// Match evaluates content against rules in order and returns the first hit.
// Rules are expected pre-sorted by confidence desc, use_count desc (the
// store's fetch order). Only one match is surfaced per message to bound the
// reasoning payload.
func (m *Matcher) Match(content string, rules []models.HeuristicRule) *models.HeuristicMatch {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lower := strings.ToLower(content)

	for i := range rules {
		rule := &rules[i]
		snippet, ok := m.matchRule(lower, rule)
		if !ok {
			continue
		}
		return &models.HeuristicMatch{Rule: *rule, Snippet: snippet}
	}
	return nil
}

func (m *Matcher) matchRule(lower string, rule *models.HeuristicRule) (string, bool) {
	switch rule.PatternKind {
	case models.PatternExact:
		re, err := m.compile(rule, `\b`+regexp.QuoteMeta(strings.ToLower(rule.Pattern))+`\b`)
		if err != nil {
			return "", false
		}
		return found(re.FindString(lower))

	case models.PatternRegex:
		re, err := m.compile(rule, `(?i)`+rule.Pattern)
		if err != nil {
			return "", false
		}
		return found(re.FindString(lower))

	case models.PatternFuzzy:
		ratio := similarity(strings.ToLower(rule.Pattern), lower)
		if ratio > fuzzyThreshold {
			return rule.Pattern, true
		}
		return "", false

	case models.PatternContains:
		needle := strings.ToLower(rule.Pattern)
		if idx := strings.Index(lower, needle); idx >= 0 {
			return lower[idx : idx+len(needle)], true
		}
		return "", false
	}

	log.Warn().Int64("rule_id", rule.ID).Str("kind", string(rule.PatternKind)).
		Msg("unknown pattern kind, skipping rule")
	return "", false
}

// compile returns the cached regexp for the rule, compiling on first use.
// A pattern that fails to compile is remembered and the rule is skipped on
// every subsequent call; a bad rule is never fatal to the scan.
func (m *Matcher) compile(rule *models.HeuristicRule, expr string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, hit := m.cache[expr]
	_, known := m.bad[expr]
	m.mu.RUnlock()
	if hit {
		return re, nil
	}
	if known {
		return nil, errBadPattern
	}

	re, err := regexp.Compile(expr)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.bad[expr] = struct{}{}
		log.Warn().Err(err).Int64("rule_id", rule.ID).Str("pattern", rule.Pattern).
			Msg("invalid heuristic pattern, rule skipped")
		return nil, err
	}
	m.cache[expr] = re
	return re, nil
}

var errBadPattern = errors.New("invalid heuristic pattern")

// similarity computes a character-level SequenceMatcher ratio, the same
// measure the fuzzy kind was tuned against.
func similarity(a, b string) float64 {
	sm := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return sm.Ratio()
}

func found(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	return s, true
}
