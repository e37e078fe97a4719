package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/usage"
)

type fakeServiceRepository struct {
	mu          sync.RWMutex
	flags       map[string]map[string]repository.Flag
	daily       []repository.DailyCount
	recent      []usage.Event
	getErr      error
	lastSince   time.Time
	lastLimit   int
	saveCalls   int
	uniqueCount int64
	totalCount  int64
}

func newFakeServiceRepository() *fakeServiceRepository {
	return &fakeServiceRepository{
		flags: make(map[string]map[string]repository.Flag),
	}
}

func (f *fakeServiceRepository) SaveFlag(_ context.Context, flag repository.Flag) (repository.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.flags[flag.Environment]; !ok {
		f.flags[flag.Environment] = make(map[string]repository.Flag)
	}
	flag.UpdatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.flags[flag.Environment][flag.Name] = flag
	f.saveCalls++
	return flag, nil
}

func (f *fakeServiceRepository) GetFlag(_ context.Context, environment, name string) (repository.Flag, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.getErr != nil {
		return repository.Flag{}, f.getErr
	}
	flag, ok := f.flags[environment][name]
	if !ok {
		return repository.Flag{}, pgx.ErrNoRows
	}
	return flag, nil
}

func (f *fakeServiceRepository) ListFlags(_ context.Context, environment string) ([]repository.Flag, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	flags := make([]repository.Flag, 0, len(f.flags[environment]))
	for _, flag := range f.flags[environment] {
		flags = append(flags, flag)
	}
	slices.SortFunc(flags, func(a, b repository.Flag) int {
		return strings.Compare(a.Name, b.Name)
	})
	return flags, nil
}

func (f *fakeServiceRepository) DeleteFlag(_ context.Context, environment, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.flags[environment][name]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.flags[environment], name)
	return nil
}

func (f *fakeServiceRepository) CountUniqueUsers(context.Context, string, string, *time.Time, *time.Time) (int64, error) {
	return f.uniqueCount, nil
}

func (f *fakeServiceRepository) CountUsages(context.Context, string, string, *time.Time, *time.Time) (int64, error) {
	return f.totalCount, nil
}

func (f *fakeServiceRepository) DailyUsage(_ context.Context, _, _ string, since time.Time) ([]repository.DailyCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSince = since
	return f.daily, nil
}

func (f *fakeServiceRepository) RecentUsages(_ context.Context, _ string, limit int) ([]usage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeServiceRepository) put(flag repository.Flag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.flags[flag.Environment]; !ok {
		f.flags[flag.Environment] = make(map[string]repository.Flag)
	}
	f.flags[flag.Environment][flag.Name] = flag
}

type fakeUsageQueue struct {
	mu     sync.Mutex
	events []usage.Event
	full   bool
}

func (q *fakeUsageQueue) Enqueue(event usage.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.events = append(q.events, event)
	return true
}

func (q *fakeUsageQueue) queued() []usage.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]usage.Event(nil), q.events...)
}

var errRepositoryDown = errors.New("repository down")
