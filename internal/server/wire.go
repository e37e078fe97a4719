package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matt-riley/rollout/internal/core"
)

var errInvalidWallClock = errors.New("invalid wall clock time")

// wallClockLayouts are accepted for schedule times. They carry no offset;
// the zone comes from the request or the server.
var wallClockLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseWallClock(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range wallClockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q, want YYYY-MM-DDTHH:MM[:SS]", errInvalidWallClock, value)
}

// flagJSON is the wire form of a flag. Duration travels as a Go duration
// string such as "90m".
type flagJSON struct {
	Name                   string           `json:"name"`
	Description            string           `json:"description,omitempty"`
	Enabled                bool             `json:"enabled"`
	RolloutPercentage      int              `json:"rollout_percentage"`
	UseTargetingRules      bool             `json:"use_targeting_rules"`
	RuleGroups             []core.RuleGroup `json:"rule_groups"`
	UseTimeBasedActivation bool             `json:"use_time_based_activation"`
	StartTime              *time.Time       `json:"start_time,omitempty"`
	EndTime                *time.Time       `json:"end_time,omitempty"`
	Duration               string           `json:"duration,omitempty"`
	TimeZone               string           `json:"time_zone,omitempty"`
	UpdatedAt              *time.Time       `json:"updated_at,omitempty"`
}

func flagToJSON(flag core.Flag) flagJSON {
	out := flagJSON{
		Name:                   flag.Name,
		Description:            flag.Description,
		Enabled:                flag.Enabled,
		RolloutPercentage:      flag.RolloutPercentage,
		UseTargetingRules:      flag.UseTargetingRules,
		RuleGroups:             flag.RuleGroups,
		UseTimeBasedActivation: flag.UseTimeBasedActivation,
		StartTime:              flag.StartTime,
		EndTime:                flag.EndTime,
		TimeZone:               flag.TimeZone,
	}
	if out.RuleGroups == nil {
		out.RuleGroups = []core.RuleGroup{}
	}
	if flag.Duration != nil {
		out.Duration = flag.Duration.String()
	}
	if !flag.UpdatedAt.IsZero() {
		updated := flag.UpdatedAt
		out.UpdatedAt = &updated
	}
	return out
}

func flagsToJSON(flags []core.Flag) []flagJSON {
	out := make([]flagJSON, 0, len(flags))
	for _, flag := range flags {
		out = append(out, flagToJSON(flag))
	}
	return out
}

func (f flagJSON) toCore() (core.Flag, error) {
	flag := core.Flag{
		Name:                   f.Name,
		Description:            f.Description,
		Enabled:                f.Enabled,
		RolloutPercentage:      f.RolloutPercentage,
		UseTargetingRules:      f.UseTargetingRules,
		RuleGroups:             f.RuleGroups,
		UseTimeBasedActivation: f.UseTimeBasedActivation,
		StartTime:              f.StartTime,
		EndTime:                f.EndTime,
		TimeZone:               f.TimeZone,
	}
	if f.Duration != "" {
		d, err := parseDuration(f.Duration)
		if err != nil {
			return core.Flag{}, err
		}
		flag.Duration = &d
	}
	return flag, nil
}

func parseDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}

// evaluationContext builds the engine context from a decoded request. The
// error names the offending attribute.
func evaluationContext(userID string, attributes map[string]any) (core.EvaluationContext, error) {
	evalCtx, err := core.NewEvaluationContext(userID, attributes)
	if err != nil {
		var attrErr *core.AttributeError
		if errors.As(err, &attrErr) {
			return core.EvaluationContext{}, fmt.Errorf("attribute %q: unsupported value", attrErr.Attribute)
		}
		return core.EvaluationContext{}, err
	}
	return evalCtx, nil
}
