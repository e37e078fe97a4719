package core

import "time"

type Reason string

const (
	ReasonDisabled        Reason = "disabled"
	ReasonOutsideSchedule Reason = "outside_schedule"
	ReasonRuleGroup       Reason = "rule_group"
	ReasonRollout         Reason = "rollout"
	ReasonFallbackRollout Reason = "fallback_rollout"
	ReasonNotRolledOut    Reason = "not_rolled_out"
)

// Decision is the outcome of one evaluation and the step that decided it.
type Decision struct {
	Enabled bool
	Reason  Reason
}

// Decide runs the kill switch, the schedule window and targeting, in that
// order, stopping at the first one that turns the flag off.
func Decide(flag Flag, evalCtx EvaluationContext, now time.Time) Decision {
	if !flag.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if !IsActive(flag, now) {
		return Decision{Reason: ReasonOutsideSchedule}
	}

	enabled, reason := target(flag, evalCtx)
	return Decision{Enabled: enabled, Reason: reason}
}

// EvaluateFlag reports whether flag is on for evalCtx at now.
func EvaluateFlag(flag Flag, evalCtx EvaluationContext, now time.Time) bool {
	return Decide(flag, evalCtx, now).Enabled
}

// EvaluateFlags evaluates every flag, keyed by name.
func EvaluateFlags(flags []Flag, evalCtx EvaluationContext, now time.Time) map[string]bool {
	results := make(map[string]bool, len(flags))

	for _, flag := range flags {
		results[flag.Name] = EvaluateFlag(flag, evalCtx, now)
	}

	return results
}
