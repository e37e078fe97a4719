package core

import (
	"fmt"
	"testing"
	"time"
)

func BenchmarkDecide_Rollout(b *testing.B) {
	flag := Flag{Name: "feature-rollout", Enabled: true, RolloutPercentage: 50}
	evalCtx := EvaluationContext{UserID: "user-1"}
	now := time.Now()

	for b.Loop() {
		Decide(flag, evalCtx, now)
	}
}

func BenchmarkDecide_ScheduledWithZone(b *testing.B) {
	start := time.Now().Add(-time.Hour)
	flag := Flag{
		Name:                   "feature-scheduled",
		Enabled:                true,
		RolloutPercentage:      100,
		UseTimeBasedActivation: true,
		StartTime:              &start,
		TimeZone:               "Europe/London",
	}
	evalCtx := EvaluationContext{UserID: "user-1"}
	now := time.Now()

	for b.Loop() {
		Decide(flag, evalCtx, now)
	}
}

func BenchmarkDecide_ManyGroups(b *testing.B) {
	groups := make([]RuleGroup, 10)
	for i := range groups {
		groups[i] = RuleGroup{
			LogicalOperator:   LogicalAnd,
			Priority:          i,
			RolloutPercentage: 100,
			Enabled:           true,
			Rules: []Rule{
				{Attribute: fmt.Sprintf("attr-%d", i), Operator: OperatorIn, Value: `["a","b","c"]`, Enabled: true},
				{Attribute: "plan", Operator: OperatorEquals, Value: "pro", Enabled: true},
			},
		}
	}
	flag := Flag{Name: "feature-many-groups", Enabled: true, UseTargetingRules: true, RuleGroups: groups}
	evalCtx := EvaluationContext{
		UserID:     "user-1",
		Attributes: map[string]Value{"attr-9": StringValue("c"), "plan": StringValue("pro")},
	}
	now := time.Now()

	for b.Loop() {
		Decide(flag, evalCtx, now)
	}
}

func BenchmarkEvaluateRule_Regex(b *testing.B) {
	r := Rule{Attribute: "email", Operator: OperatorRegex, Value: `^[a-z0-9.]+@example\.com$`, Enabled: true}
	evalCtx := EvaluationContext{Attributes: map[string]Value{"email": StringValue("first.last@example.com")}}

	for b.Loop() {
		EvaluateRule(r, evalCtx)
	}
}

func BenchmarkEvaluateFlags_Batch(b *testing.B) {
	flags := make([]Flag, 50)
	for i := range flags {
		flags[i] = Flag{Name: fmt.Sprintf("feature-%d", i), Enabled: i%5 != 0, RolloutPercentage: i * 2}
	}
	evalCtx := EvaluationContext{UserID: "user-1"}
	now := time.Now()

	for b.Loop() {
		EvaluateFlags(flags, evalCtx, now)
	}
}
