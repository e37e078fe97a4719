package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/usage"
)

// UniqueUserCount counts the distinct users recorded for a feature. Nil
// bounds are open.
func (s *Service) UniqueUserCount(ctx context.Context, name string, from, to *time.Time) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrFlagNameRequired
	}

	count, err := s.repo.CountUniqueUsers(ctx, s.environment, name, from, to)
	if err != nil {
		return 0, fmt.Errorf("unique user count: %w", err)
	}
	return count, nil
}

func (s *Service) TotalUsages(ctx context.Context, name string, from, to *time.Time) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrFlagNameRequired
	}

	count, err := s.repo.CountUsages(ctx, s.environment, name, from, to)
	if err != nil {
		return 0, fmt.Errorf("total usages: %w", err)
	}
	return count, nil
}

// MaxUsageDays bounds the look-back of UsageByDay.
const MaxUsageDays = 366

// UsageByDay returns one entry per UTC day for the last days days, oldest
// first, including days without usage.
func (s *Service) UsageByDay(ctx context.Context, name string, days int) ([]repository.DailyCount, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrFlagNameRequired
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be > 0", ErrInvalidArgument)
	}
	if days > MaxUsageDays {
		return nil, fmt.Errorf("%w: days must be at most %d", ErrInvalidArgument, MaxUsageDays)
	}

	today := startOfDay(s.now())
	since := today.AddDate(0, 0, -(days - 1))

	counts, err := s.repo.DailyUsage(ctx, s.environment, name, since)
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}

	byDay := make(map[int64]int64, len(counts))
	for _, c := range counts {
		byDay[startOfDay(c.Day).Unix()] += c.Count
	}

	filled := make([]repository.DailyCount, 0, days)
	for day := since; !day.After(today); day = day.AddDate(0, 0, 1) {
		filled = append(filled, repository.DailyCount{Day: day, Count: byDay[day.Unix()]})
	}
	return filled, nil
}

// RecentUsages returns the newest count usage events of the environment.
func (s *Service) RecentUsages(ctx context.Context, count int) ([]usage.Event, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be > 0", ErrInvalidArgument)
	}

	events, err := s.repo.RecentUsages(ctx, s.environment, count)
	if err != nil {
		return nil, fmt.Errorf("recent usages: %w", err)
	}
	return events, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
