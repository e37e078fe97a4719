package server

import (
	"context"
	"time"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/service"
	"github.com/matt-riley/rollout/internal/usage"
)

type fakeService struct {
	evaluateBatchFunc      func(context.Context, []service.EvaluateRequest) ([]service.EvaluateResult, error)
	evaluateAllFunc        func(context.Context, core.EvaluationContext) (map[string]bool, error)
	trackUsageFunc         func(context.Context, string, string, map[string]string) error
	getFlagFunc            func(context.Context, string) (core.Flag, error)
	listFlagsFunc          func(context.Context) ([]core.Flag, error)
	saveFlagFunc           func(context.Context, core.Flag) (core.Flag, error)
	deleteFlagFunc         func(context.Context, string) error
	scheduleActivationFunc func(context.Context, string, time.Time, *time.Duration, string) (core.Flag, error)
	scheduleTemporaryFunc  func(context.Context, string, time.Duration) (core.Flag, error)
	scheduleDeactivateFunc func(context.Context, string, time.Time) (core.Flag, error)
	removeSchedulingFunc   func(context.Context, string) (core.Flag, error)
	upcomingChangesFunc    func(context.Context, int) ([]core.ScheduledChange, error)
	uniqueUserCountFunc    func(context.Context, string, *time.Time, *time.Time) (int64, error)
	totalUsagesFunc        func(context.Context, string, *time.Time, *time.Time) (int64, error)
	usageByDayFunc         func(context.Context, string, int) ([]repository.DailyCount, error)
	recentUsagesFunc       func(context.Context, int) ([]usage.Event, error)
}

func (f *fakeService) EvaluateBatch(ctx context.Context, requests []service.EvaluateRequest) ([]service.EvaluateResult, error) {
	if f.evaluateBatchFunc == nil {
		return nil, nil
	}
	return f.evaluateBatchFunc(ctx, requests)
}

func (f *fakeService) EvaluateAll(ctx context.Context, evalCtx core.EvaluationContext) (map[string]bool, error) {
	if f.evaluateAllFunc == nil {
		return map[string]bool{}, nil
	}
	return f.evaluateAllFunc(ctx, evalCtx)
}

func (f *fakeService) TrackUsage(ctx context.Context, name, userID string, data map[string]string) error {
	if f.trackUsageFunc == nil {
		return nil
	}
	return f.trackUsageFunc(ctx, name, userID, data)
}

func (f *fakeService) GetFlag(ctx context.Context, name string) (core.Flag, error) {
	if f.getFlagFunc == nil {
		return core.Flag{}, service.ErrFlagNotFound
	}
	return f.getFlagFunc(ctx, name)
}

func (f *fakeService) ListFlags(ctx context.Context) ([]core.Flag, error) {
	if f.listFlagsFunc == nil {
		return nil, nil
	}
	return f.listFlagsFunc(ctx)
}

func (f *fakeService) SaveFlag(ctx context.Context, flag core.Flag) (core.Flag, error) {
	if f.saveFlagFunc == nil {
		return flag, nil
	}
	return f.saveFlagFunc(ctx, flag)
}

func (f *fakeService) DeleteFlag(ctx context.Context, name string) error {
	if f.deleteFlagFunc == nil {
		return nil
	}
	return f.deleteFlagFunc(ctx, name)
}

func (f *fakeService) ScheduleActivation(ctx context.Context, name string, start time.Time, duration *time.Duration, timeZone string) (core.Flag, error) {
	if f.scheduleActivationFunc == nil {
		return core.Flag{Name: name}, nil
	}
	return f.scheduleActivationFunc(ctx, name, start, duration, timeZone)
}

func (f *fakeService) ScheduleTemporaryActivation(ctx context.Context, name string, duration time.Duration) (core.Flag, error) {
	if f.scheduleTemporaryFunc == nil {
		return core.Flag{Name: name}, nil
	}
	return f.scheduleTemporaryFunc(ctx, name, duration)
}

func (f *fakeService) ScheduleDeactivation(ctx context.Context, name string, end time.Time) (core.Flag, error) {
	if f.scheduleDeactivateFunc == nil {
		return core.Flag{Name: name}, nil
	}
	return f.scheduleDeactivateFunc(ctx, name, end)
}

func (f *fakeService) RemoveScheduling(ctx context.Context, name string) (core.Flag, error) {
	if f.removeSchedulingFunc == nil {
		return core.Flag{Name: name}, nil
	}
	return f.removeSchedulingFunc(ctx, name)
}

func (f *fakeService) UpcomingChanges(ctx context.Context, withinHours int) ([]core.ScheduledChange, error) {
	if f.upcomingChangesFunc == nil {
		return nil, nil
	}
	return f.upcomingChangesFunc(ctx, withinHours)
}

func (f *fakeService) UniqueUserCount(ctx context.Context, name string, from, to *time.Time) (int64, error) {
	if f.uniqueUserCountFunc == nil {
		return 0, nil
	}
	return f.uniqueUserCountFunc(ctx, name, from, to)
}

func (f *fakeService) TotalUsages(ctx context.Context, name string, from, to *time.Time) (int64, error) {
	if f.totalUsagesFunc == nil {
		return 0, nil
	}
	return f.totalUsagesFunc(ctx, name, from, to)
}

func (f *fakeService) UsageByDay(ctx context.Context, name string, days int) ([]repository.DailyCount, error) {
	if f.usageByDayFunc == nil {
		return nil, nil
	}
	return f.usageByDayFunc(ctx, name, days)
}

func (f *fakeService) RecentUsages(ctx context.Context, count int) ([]usage.Event, error) {
	if f.recentUsagesFunc == nil {
		return nil, nil
	}
	return f.recentUsagesFunc(ctx, count)
}
