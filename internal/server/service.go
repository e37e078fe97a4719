package server

import (
	"context"
	"time"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/service"
	"github.com/matt-riley/rollout/internal/usage"
)

// Service is the part of [service.Service] the transports call.
type Service interface {
	EvaluateBatch(ctx context.Context, requests []service.EvaluateRequest) ([]service.EvaluateResult, error)
	EvaluateAll(ctx context.Context, evalCtx core.EvaluationContext) (map[string]bool, error)
	TrackUsage(ctx context.Context, name, userID string, additionalData map[string]string) error

	GetFlag(ctx context.Context, name string) (core.Flag, error)
	ListFlags(ctx context.Context) ([]core.Flag, error)
	SaveFlag(ctx context.Context, flag core.Flag) (core.Flag, error)
	DeleteFlag(ctx context.Context, name string) error

	ScheduleActivation(ctx context.Context, name string, start time.Time, duration *time.Duration, timeZone string) (core.Flag, error)
	ScheduleTemporaryActivation(ctx context.Context, name string, duration time.Duration) (core.Flag, error)
	ScheduleDeactivation(ctx context.Context, name string, end time.Time) (core.Flag, error)
	RemoveScheduling(ctx context.Context, name string) (core.Flag, error)
	UpcomingChanges(ctx context.Context, withinHours int) ([]core.ScheduledChange, error)

	UniqueUserCount(ctx context.Context, name string, from, to *time.Time) (int64, error)
	TotalUsages(ctx context.Context, name string, from, to *time.Time) (int64, error)
	UsageByDay(ctx context.Context, name string, days int) ([]repository.DailyCount, error)
	RecentUsages(ctx context.Context, count int) ([]usage.Event, error)
}

var _ Service = (*service.Service)(nil)
