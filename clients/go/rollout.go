// Package rollout provides client interfaces and domain types for the rollout
// feature flag service.
//
// Use the sub-packages to create transport-specific clients:
//
//	import rollouthttp "github.com/matt-riley/rollout/clients/go/http"
//	import rolloutgrpc "github.com/matt-riley/rollout/clients/go/grpc"
package rollout

import (
	"context"
	"time"
)

// WallClockLayout is the format schedule start times are sent in. The server
// reads it in the request's time zone, or its own when none is given.
const WallClockLayout = "2006-01-02T15:04:05"

// Evaluator decides flags for a user.
type Evaluator interface {
	Evaluate(ctx context.Context, name string, evalCtx EvaluationContext, defaultValue bool) (bool, error)
	EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) ([]EvaluateResult, error)
	EvaluateAll(ctx context.Context, evalCtx EvaluationContext) (map[string]bool, error)
}

// FlagManager covers reading and writing flag definitions.
type FlagManager interface {
	GetFlag(ctx context.Context, name string) (Flag, error)
	ListFlags(ctx context.Context) ([]Flag, error)
	SaveFlag(ctx context.Context, flag Flag) (Flag, error)
	DeleteFlag(ctx context.Context, name string) error
}

// Scheduler changes when a flag is active.
type Scheduler interface {
	ScheduleActivation(ctx context.Context, name string, activation Activation) (Flag, error)
	ScheduleTemporaryActivation(ctx context.Context, name string, duration time.Duration) (Flag, error)
	ScheduleDeactivation(ctx context.Context, name string, end time.Time) (Flag, error)
	RemoveScheduling(ctx context.Context, name string) (Flag, error)
	UpcomingChanges(ctx context.Context, withinHours int) ([]ScheduledChange, error)
}

// UsageTracker reports feature usage.
type UsageTracker interface {
	TrackUsage(ctx context.Context, name, userID string, additionalData map[string]string) error
	UsageCounts(ctx context.Context, name string) (UsageCounts, error)
}

// Flag is the client view of a feature flag in the server's environment.
type Flag struct {
	Name                   string
	Description            string
	Enabled                bool
	RolloutPercentage      int
	UseTargetingRules      bool
	RuleGroups             []RuleGroup
	UseTimeBasedActivation bool
	StartTime              *time.Time
	EndTime                *time.Time
	Duration               *time.Duration
	TimeZone               string
	UpdatedAt              time.Time // zero until saved
}

// RuleGroup combines rules with "AND" or "OR". A matching group still
// applies its own rollout percentage.
type RuleGroup struct {
	Name              string `json:"name,omitempty"`
	LogicalOperator   string `json:"logical_operator"`
	Priority          int    `json:"priority"`
	RolloutPercentage int    `json:"rollout_percentage"`
	Enabled           bool   `json:"enabled"`
	Rules             []Rule `json:"rules,omitempty"`
}

// Rule compares one user attribute against Value.
type Rule struct {
	Name      string `json:"name,omitempty"`
	Attribute string `json:"attribute"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
	Priority  int    `json:"priority"`
	Enabled   bool   `json:"enabled"`
}

// EvaluationContext identifies the user a flag is decided for.
type EvaluationContext struct {
	UserID     string
	Attributes map[string]any
}

// EvaluateRequest is one item of a batch. Usage is recorded unless SkipUsage
// is set.
type EvaluateRequest struct {
	Flag      string
	Context   EvaluationContext
	SkipUsage bool
}

// EvaluateResult is a single decision. Reason names the step that decided it,
// e.g. "disabled", "rollout" or "flag_not_found".
type EvaluateResult struct {
	Flag    string
	Enabled bool
	Reason  string
}

// Activation schedules a flag to turn on at Start, read as a wall clock in
// TimeZone. A zero Duration leaves it on.
type Activation struct {
	Start    time.Time
	Duration time.Duration
	TimeZone string
}

// ScheduledChange is an activation or deactivation due within a window.
type ScheduledChange struct {
	FlagName   string
	ChangeTime time.Time
	ChangeType string // "activation" | "deactivation"
	TimeZone   string
}

type UsageCounts struct {
	Flag        string
	UniqueUsers int64
	Total       int64
}
