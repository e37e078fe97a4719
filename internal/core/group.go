package core

import (
	"cmp"
	"slices"
)

// EvaluateGroup combines the group's enabled rules, in priority order, with
// the group's logical operator. A group with nothing to evaluate never
// matches.
func EvaluateGroup(group RuleGroup, evalCtx EvaluationContext) bool {
	if !group.Enabled || len(group.Rules) == 0 {
		return false
	}

	rules := enabledRules(group.Rules)
	if len(rules) == 0 {
		return false
	}

	logical, ok := ParseLogicalOperator(string(group.LogicalOperator))
	if !ok {
		return false
	}

	switch logical {
	case LogicalAnd:
		for _, rule := range rules {
			if !EvaluateRule(rule, evalCtx) {
				return false
			}
		}
		return true
	case LogicalOr:
		for _, rule := range rules {
			if EvaluateRule(rule, evalCtx) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func enabledRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	slices.SortStableFunc(out, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}

func enabledGroups(groups []RuleGroup) []RuleGroup {
	out := make([]RuleGroup, 0, len(groups))
	for _, group := range groups {
		if group.Enabled {
			out = append(out, group)
		}
	}
	slices.SortStableFunc(out, func(a, b RuleGroup) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}
