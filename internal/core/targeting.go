package core

// EvaluateTargeting decides a flag for a user from its rule groups and
// rollout percentages. Scheduling and the kill switch are not consulted.
func EvaluateTargeting(flag Flag, evalCtx EvaluationContext) bool {
	enabled, _ := target(flag, evalCtx)
	return enabled
}

func target(flag Flag, evalCtx EvaluationContext) (bool, Reason) {
	key := RolloutKey(evalCtx.UserID, flag.Name)

	if !flag.UseTargetingRules || len(flag.RuleGroups) == 0 {
		return rollout(key, flag.RolloutPercentage, ReasonRollout)
	}

	for _, group := range enabledGroups(flag.RuleGroups) {
		if EvaluateGroup(group, evalCtx) {
			return rollout(key, group.RolloutPercentage, ReasonRuleGroup)
		}
	}

	// No group matched: the flag-level rollout still applies.
	return rollout(key, flag.RolloutPercentage, ReasonFallbackRollout)
}

func rollout(key string, percentage int, reason Reason) (bool, Reason) {
	if InBucket(key, percentage) {
		return true, reason
	}
	return false, ReasonNotRolledOut
}
