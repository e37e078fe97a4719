package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/usage"
)

func TestUsageByDayZeroFills(t *testing.T) {
	repo := newFakeServiceRepository()
	repo.daily = []repository.DailyCount{
		{Day: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), Count: 4},
		{Day: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Count: 2},
	}
	svc := newTestService(t, repo)

	got, err := svc.UsageByDay(context.Background(), "checkout", 4)
	if err != nil {
		t.Fatalf("UsageByDay() error = %v", err)
	}

	wantSince := time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC)
	if !repo.lastSince.Equal(wantSince) {
		t.Fatalf("since = %s, want %s", repo.lastSince, wantSince)
	}

	want := []int64{0, 4, 0, 2}
	if len(got) != len(want) {
		t.Fatalf("UsageByDay() returned %d days, want %d", len(got), len(want))
	}
	for i, count := range want {
		if got[i].Count != count {
			t.Fatalf("day %d (%s) count = %d, want %d", i, got[i].Day.Format(time.DateOnly), got[i].Count, count)
		}
		if wantDay := wantSince.AddDate(0, 0, i); !got[i].Day.Equal(wantDay) {
			t.Fatalf("day %d = %s, want %s", i, got[i].Day, wantDay)
		}
	}

	if _, err := svc.UsageByDay(context.Background(), "checkout", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("UsageByDay(0) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.UsageByDay(context.Background(), "checkout", MaxUsageDays+1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("UsageByDay(MaxUsageDays+1) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.UsageByDay(context.Background(), "checkout", 1<<40); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("UsageByDay(1<<40) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.UsageByDay(context.Background(), "", 7); !errors.Is(err, ErrFlagNameRequired) {
		t.Fatalf("UsageByDay(no flag) error = %v, want ErrFlagNameRequired", err)
	}
}

func TestUsageByDayMaxWindow(t *testing.T) {
	svc := newTestService(t, newFakeServiceRepository())

	got, err := svc.UsageByDay(context.Background(), "checkout", MaxUsageDays)
	if err != nil {
		t.Fatalf("UsageByDay(MaxUsageDays) error = %v", err)
	}
	if len(got) != MaxUsageDays {
		t.Fatalf("UsageByDay(MaxUsageDays) returned %d days, want %d", len(got), MaxUsageDays)
	}
}

func TestUsageCounts(t *testing.T) {
	repo := newFakeServiceRepository()
	repo.uniqueCount = 3
	repo.totalCount = 11
	svc := newTestService(t, repo)

	unique, err := svc.UniqueUserCount(context.Background(), "checkout", nil, nil)
	if err != nil || unique != 3 {
		t.Fatalf("UniqueUserCount() = (%d, %v), want (3, nil)", unique, err)
	}
	total, err := svc.TotalUsages(context.Background(), "checkout", nil, nil)
	if err != nil || total != 11 {
		t.Fatalf("TotalUsages() = (%d, %v), want (11, nil)", total, err)
	}
	if _, err := svc.UniqueUserCount(context.Background(), "", nil, nil); !errors.Is(err, ErrFlagNameRequired) {
		t.Fatalf("UniqueUserCount(no flag) error = %v", err)
	}
}

func TestRecentUsages(t *testing.T) {
	repo := newFakeServiceRepository()
	repo.recent = []usage.Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	svc := newTestService(t, repo)

	got, err := svc.RecentUsages(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentUsages() error = %v", err)
	}
	if len(got) != 2 || repo.lastLimit != 2 {
		t.Fatalf("RecentUsages() = %d events (limit %d), want 2", len(got), repo.lastLimit)
	}

	if _, err := svc.RecentUsages(context.Background(), 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("RecentUsages(0) error = %v, want ErrInvalidArgument", err)
	}
}
