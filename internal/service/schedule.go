package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/rollout/internal/core"
)

const (
	OperationScheduleActivation          = "schedule_activation"
	OperationScheduleTemporaryActivation = "schedule_temporary_activation"
	OperationScheduleDeactivation        = "schedule_deactivation"
	OperationRemoveScheduling            = "remove_scheduling"
)

// maxWithinHours is the longest look-ahead that still fits a time.Duration.
const maxWithinHours = math.MaxInt64 / int64(time.Hour)

// ScheduleActivation activates the flag at start, read as a wall clock time
// in timeZone, or in the service's local zone when timeZone is empty.
func (s *Service) ScheduleActivation(ctx context.Context, name string, start time.Time, duration *time.Duration, timeZone string) (core.Flag, error) {
	return s.mutateSchedule(ctx, name, OperationScheduleActivation, func(flag *core.Flag) error {
		return core.ScheduleActivation(flag, start, duration, timeZone, s.local)
	})
}

// ScheduleTemporaryActivation activates the flag from now for duration.
func (s *Service) ScheduleTemporaryActivation(ctx context.Context, name string, duration time.Duration) (core.Flag, error) {
	return s.mutateSchedule(ctx, name, OperationScheduleTemporaryActivation, func(flag *core.Flag) error {
		return core.ScheduleTemporaryActivation(flag, duration, s.now())
	})
}

// ScheduleDeactivation ends the flag's window at end, read in the service's
// local zone.
func (s *Service) ScheduleDeactivation(ctx context.Context, name string, end time.Time) (core.Flag, error) {
	return s.mutateSchedule(ctx, name, OperationScheduleDeactivation, func(flag *core.Flag) error {
		core.ScheduleDeactivation(flag, end, s.local)
		return nil
	})
}

func (s *Service) RemoveScheduling(ctx context.Context, name string) (core.Flag, error) {
	return s.mutateSchedule(ctx, name, OperationRemoveScheduling, func(flag *core.Flag) error {
		core.RemoveScheduling(flag)
		return nil
	})
}

func (s *Service) mutateSchedule(ctx context.Context, name, operation string, mutate func(*core.Flag) error) (core.Flag, error) {
	ctx, span := s.tracer.Start(ctx, "service."+operation, trace.WithAttributes(
		attribute.String("flag.name", name),
		attribute.String("flag.environment", s.environment),
	))
	defer span.End()

	flag, err := s.GetFlag(ctx, name)
	if err != nil {
		return core.Flag{}, err
	}

	if err := mutate(&flag); err != nil {
		return core.Flag{}, fmt.Errorf("%s %q: %w", operation, name, err)
	}

	saved, err := s.SaveFlag(ctx, flag)
	if err != nil {
		return core.Flag{}, err
	}

	s.onSchedule(operation)
	return saved, nil
}

// UpcomingChanges lists scheduled activations and deactivations in the next
// withinHours hours, earliest first.
func (s *Service) UpcomingChanges(ctx context.Context, withinHours int) ([]core.ScheduledChange, error) {
	if withinHours < 0 {
		return nil, fmt.Errorf("%w: within hours must be >= 0", ErrInvalidArgument)
	}
	if int64(withinHours) > maxWithinHours {
		return nil, fmt.Errorf("%w: within hours must be at most %d", ErrInvalidArgument, maxWithinHours)
	}

	ctx, span := s.tracer.Start(ctx, "service.UpcomingChanges", trace.WithAttributes(
		attribute.Int("schedule.within_hours", withinHours),
	))
	defer span.End()

	flags, err := s.ListFlags(ctx)
	if err != nil {
		return nil, err
	}

	return core.UpcomingChanges(flags, s.now(), time.Duration(withinHours)*time.Hour), nil
}

// CurrentTimeIn reports the service clock in the given zone, or UTC when
// the zone is unknown.
func (s *Service) CurrentTimeIn(timeZone string) time.Time {
	return core.CurrentTimeIn(s.now(), timeZone)
}
