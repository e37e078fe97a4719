package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/repository"
)

func repositoryFlagToCore(flag repository.Flag) (core.Flag, error) {
	groups, err := parseRuleGroupsJSON(flag.RuleGroups)
	if err != nil {
		return core.Flag{}, err
	}

	var duration *time.Duration
	if flag.DurationMillis != nil {
		d := time.Duration(*flag.DurationMillis) * time.Millisecond
		duration = &d
	}

	return core.Flag{
		Name:                   flag.Name,
		Environment:            flag.Environment,
		Description:            flag.Description,
		Enabled:                flag.Enabled,
		RolloutPercentage:      flag.RolloutPercentage,
		UseTargetingRules:      flag.UseTargetingRules,
		RuleGroups:             groups,
		UseTimeBasedActivation: flag.UseTimeBasedActivation,
		StartTime:              utcPtr(flag.StartTime),
		EndTime:                utcPtr(flag.EndTime),
		Duration:               duration,
		TimeZone:               flag.TimeZone,
		UpdatedAt:              flag.UpdatedAt,
	}, nil
}

func coreFlagToRepository(flag core.Flag) (repository.Flag, error) {
	groups := flag.RuleGroups
	if groups == nil {
		groups = []core.RuleGroup{}
	}
	payload, err := json.Marshal(groups)
	if err != nil {
		return repository.Flag{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	var millis *int64
	if flag.Duration != nil {
		ms := flag.Duration.Milliseconds()
		millis = &ms
	}

	return repository.Flag{
		Name:                   flag.Name,
		Environment:            flag.Environment,
		Description:            flag.Description,
		Enabled:                flag.Enabled,
		RolloutPercentage:      flag.RolloutPercentage,
		UseTargetingRules:      flag.UseTargetingRules,
		RuleGroups:             payload,
		UseTimeBasedActivation: flag.UseTimeBasedActivation,
		StartTime:              utcPtr(flag.StartTime),
		EndTime:                utcPtr(flag.EndTime),
		DurationMillis:         millis,
		TimeZone:               flag.TimeZone,
	}, nil
}

func parseRuleGroupsJSON(payload json.RawMessage) ([]core.RuleGroup, error) {
	groups := make([]core.RuleGroup, 0)
	if len(payload) == 0 {
		return groups, nil
	}

	if err := json.Unmarshal(payload, &groups); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	return groups, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
