package core

import (
	"strings"
	"time"
)

type Operator string

const (
	OperatorEquals             Operator = "Equals"
	OperatorNotEquals          Operator = "NotEquals"
	OperatorEqualsIgnoreCase   Operator = "EqualsIgnoreCase"
	OperatorIn                 Operator = "In"
	OperatorNotIn              Operator = "NotIn"
	OperatorContains           Operator = "Contains"
	OperatorNotContains        Operator = "NotContains"
	OperatorStartsWith         Operator = "StartsWith"
	OperatorEndsWith           Operator = "EndsWith"
	OperatorRegex              Operator = "Regex"
	OperatorGreaterThan        Operator = "GreaterThan"
	OperatorGreaterThanOrEqual Operator = "GreaterThanOrEqual"
	OperatorLessThan           Operator = "LessThan"
	OperatorLessThanOrEqual    Operator = "LessThanOrEqual"
	OperatorBefore             Operator = "Before"
	OperatorAfter              Operator = "After"
	OperatorVersionGreaterThan Operator = "VersionGreaterThan"
	OperatorVersionLessThan    Operator = "VersionLessThan"
)

var knownOperators = []Operator{
	OperatorEquals,
	OperatorNotEquals,
	OperatorEqualsIgnoreCase,
	OperatorIn,
	OperatorNotIn,
	OperatorContains,
	OperatorNotContains,
	OperatorStartsWith,
	OperatorEndsWith,
	OperatorRegex,
	OperatorGreaterThan,
	OperatorGreaterThanOrEqual,
	OperatorLessThan,
	OperatorLessThanOrEqual,
	OperatorBefore,
	OperatorAfter,
	OperatorVersionGreaterThan,
	OperatorVersionLessThan,
}

// ParseOperator resolves an operator name case-insensitively. The boolean is
// false for names the engine does not know.
func ParseOperator(name string) (Operator, bool) {
	name = strings.TrimSpace(name)
	for _, op := range knownOperators {
		if strings.EqualFold(string(op), name) {
			return op, true
		}
	}
	return Operator(name), false
}

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ParseLogicalOperator matches AND or OR, ignoring case and surrounding
// space.
func ParseLogicalOperator(name string) (LogicalOperator, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case string(LogicalAnd):
		return LogicalAnd, true
	case string(LogicalOr):
		return LogicalOr, true
	default:
		return LogicalOperator(name), false
	}
}

type Rule struct {
	Name      string   `json:"name,omitempty"`
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
	Priority  int      `json:"priority"`
	Enabled   bool     `json:"enabled"`
}

type RuleGroup struct {
	Name              string          `json:"name,omitempty"`
	LogicalOperator   LogicalOperator `json:"logical_operator"`
	Priority          int             `json:"priority"`
	RolloutPercentage int             `json:"rollout_percentage"`
	Enabled           bool            `json:"enabled"`
	Rules             []Rule          `json:"rules,omitempty"`
}

// Flag is a fetched flag definition. The engine never mutates a Flag during
// evaluation; only the Schedule* helpers write to one.
type Flag struct {
	Name                   string
	Environment            string
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
	UpdatedAt              time.Time
}

type EvaluationContext struct {
	UserID     string           `json:"user_id"`
	Attributes map[string]Value `json:"attributes,omitempty"`
}

// NewEvaluationContext normalizes loosely typed attributes into Values.
func NewEvaluationContext(userID string, attributes map[string]any) (EvaluationContext, error) {
	evalCtx := EvaluationContext{UserID: userID}
	if len(attributes) == 0 {
		return evalCtx, nil
	}

	evalCtx.Attributes = make(map[string]Value, len(attributes))
	for name, raw := range attributes {
		value, err := NewValue(raw)
		if err != nil {
			return EvaluationContext{}, &AttributeError{Attribute: name, Err: err}
		}
		evalCtx.Attributes[name] = value
	}
	return evalCtx, nil
}

func (c EvaluationContext) Attribute(name string) (Value, bool) {
	if c.Attributes == nil {
		return Value{}, false
	}
	value, ok := c.Attributes[name]
	return value, ok
}

type ChangeType string

const (
	ChangeActivation   ChangeType = "activation"
	ChangeDeactivation ChangeType = "deactivation"
)

type ScheduledChange struct {
	FlagName   string     `json:"flag_name"`
	ChangeTime time.Time  `json:"change_time"`
	ChangeType ChangeType `json:"change_type"`
	TimeZone   string     `json:"time_zone,omitempty"`
}

func (c ScheduledChange) TimeUntil(now time.Time) time.Duration {
	return c.ChangeTime.Sub(now)
}
