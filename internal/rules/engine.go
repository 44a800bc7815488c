package rules

import (
	"regexp"
	"sort"
)

// maxScanLength caps the text fed to each regex run. The RE2 engine is
// already linear in input size, so this bounds absolute work per match
// rather than guarding against backtracking.
const maxScanLength = 10000

// Evaluate runs the rule set against one content event and returns the
// first triggering rule in priority order, or nil. Rules are filtered by
// enabled flag, target and channel/role scope, then ordered by priority
// descending with input order preserved on ties. The function is pure:
// no I/O, no mutation of its inputs.
func Evaluate(ruleSet []CompiledRule, event ContentEvent) *Match {
	for _, rule := range applicable(ruleSet, event) {
		if match := evaluateRule(rule, event); match != nil {
			return match
		}
	}
	return nil
}

// EvaluateAll returns every triggering rule in priority order. Used by
// preview and reporting surfaces; enforcement uses Evaluate.
func EvaluateAll(ruleSet []CompiledRule, event ContentEvent) []Match {
	var matches []Match
	for _, rule := range applicable(ruleSet, event) {
		if match := evaluateRule(rule, event); match != nil {
			matches = append(matches, *match)
		}
	}
	return matches
}

func applicable(ruleSet []CompiledRule, event ContentEvent) []CompiledRule {
	filtered := make([]CompiledRule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		if !rule.Enabled || rule.Target != event.Type || len(rule.Regexps) == 0 {
			continue
		}
		if !channelInScope(rule.Rule, event.ChannelID) {
			continue
		}
		if !rolesInScope(rule.Rule, event.AuthorRoles) {
			continue
		}
		filtered = append(filtered, rule)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Priority > filtered[j].Priority
	})
	return filtered
}

func channelInScope(rule Rule, channelID string) bool {
	if channelID == "" {
		return true
	}
	if containsString(rule.ChannelExclude, channelID) {
		return false
	}
	if len(rule.ChannelInclude) > 0 && !containsString(rule.ChannelInclude, channelID) {
		return false
	}
	return true
}

func rolesInScope(rule Rule, roles []string) bool {
	for _, role := range roles {
		if containsString(rule.RoleExclude, role) {
			return false
		}
	}
	if len(rule.RoleInclude) > 0 && !intersects(rule.RoleInclude, roles) {
		return false
	}
	return true
}

func evaluateRule(rule CompiledRule, event ContentEvent) *Match {
	content := candidates(rule.Target, event)
	if len(content) == 0 {
		return nil
	}

	switch rule.MatchMode {
	case MatchAll:
		// Short-circuits on the first failing pattern; the reported
		// match is always keyed off the first pattern in the list.
		var first *patternHit
		for i, re := range rule.Regexps {
			hit := firstHit(re, content)
			if hit == nil {
				return nil
			}
			if i == 0 {
				first = hit
			}
		}
		if first == nil {
			return nil
		}
		return &Match{
			Rule:           &rule,
			Pattern:        rule.Patterns[0],
			MatchedContent: first.text,
			Index:          first.index,
		}
	default: // MatchAny
		for i, re := range rule.Regexps {
			if hit := firstHit(re, content); hit != nil {
				return &Match{
					Rule:           &rule,
					Pattern:        rule.Patterns[i],
					MatchedContent: hit.text,
					Index:          hit.index,
				}
			}
		}
		return nil
	}
}

type patternHit struct {
	text  string
	index int
}

func firstHit(re *regexp.Regexp, content []string) *patternHit {
	for _, text := range content {
		if len(text) > maxScanLength {
			text = text[:maxScanLength]
		}
		if loc := re.FindStringIndex(text); loc != nil {
			return &patternHit{text: text[loc[0]:loc[1]], index: loc[0]}
		}
	}
	return nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range b {
		if containsString(a, v) {
			return true
		}
	}
	return false
}
