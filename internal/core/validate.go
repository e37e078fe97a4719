package core

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateFlag checks a flag definition before it is stored.
func ValidateFlag(flag Flag) error {
	var errs []error
	if strings.TrimSpace(flag.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		errs = append(errs, fmt.Errorf("rollout_percentage must be between 0 and 100, got %d", flag.RolloutPercentage))
	}
	if flag.TimeZone != "" && !IsValidTimeZone(flag.TimeZone) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTimeZone, flag.TimeZone))
	}
	if flag.Duration != nil && *flag.Duration < 0 {
		errs = append(errs, fmt.Errorf("%w: negative duration", ErrInvalidSchedule))
	}
	if flag.StartTime != nil {
		if end, ok := EffectiveEnd(flag); ok && end.Before(*flag.StartTime) {
			errs = append(errs, fmt.Errorf("%w: window ends before it starts", ErrInvalidSchedule))
		}
	}

	for i, group := range flag.RuleGroups {
		if group.RolloutPercentage < 0 || group.RolloutPercentage > 100 {
			errs = append(errs, fmt.Errorf("rule_groups[%d]: rollout_percentage must be between 0 and 100, got %d", i, group.RolloutPercentage))
		}
		if _, ok := ParseLogicalOperator(string(group.LogicalOperator)); !ok {
			errs = append(errs, fmt.Errorf("rule_groups[%d]: unknown logical operator %q", i, group.LogicalOperator))
		}
		for j, rule := range group.Rules {
			if strings.TrimSpace(rule.Attribute) == "" {
				errs = append(errs, fmt.Errorf("rule_groups[%d].rules[%d]: attribute is required", i, j))
			}
			if _, ok := ParseOperator(string(rule.Operator)); !ok {
				errs = append(errs, fmt.Errorf("rule_groups[%d].rules[%d]: unknown operator %q", i, j, rule.Operator))
			}
		}
	}
	return errors.Join(errs...)
}
