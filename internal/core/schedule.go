package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidTimeZone = errors.New("invalid time zone")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// LoadTimeZone resolves an IANA zone id. Unlike the read path it does not
// fall back to UTC.
func LoadTimeZone(id string) (*time.Location, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidTimeZone)
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, id)
	}
	return loc, nil
}

func IsValidTimeZone(id string) bool {
	_, err := LoadTimeZone(id)
	return err == nil
}

// CurrentTimeIn returns now in the given zone, or in UTC when the zone is
// empty or unknown.
func CurrentTimeIn(now time.Time, id string) time.Time {
	if id == "" {
		return now.UTC()
	}
	loc, err := LoadTimeZone(id)
	if err != nil {
		return now.UTC()
	}
	return now.In(loc)
}

// EffectiveEnd is EndTime when set, otherwise StartTime+Duration when both
// are set. The boolean is false for an unbounded window.
func EffectiveEnd(flag Flag) (time.Time, bool) {
	if flag.EndTime != nil {
		return *flag.EndTime, true
	}
	if flag.StartTime != nil && flag.Duration != nil {
		return flag.StartTime.Add(*flag.Duration), true
	}
	return time.Time{}, false
}

// IsActive reports whether now lies inside the flag's window. With a time
// zone set, the zone's wall clock is compared against the stored UTC bounds.
func IsActive(flag Flag, now time.Time) bool {
	if !flag.UseTimeBasedActivation {
		return true
	}

	current := now.UTC()
	if flag.TimeZone != "" {
		current = wallClockUTC(CurrentTimeIn(now, flag.TimeZone))
	}

	if flag.StartTime != nil && current.Before(*flag.StartTime) {
		return false
	}
	if end, ok := EffectiveEnd(flag); ok && current.After(end) {
		return false
	}
	return true
}

func wallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func wallClockIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ScheduleActivation reads the wall clock of start in timeZone (local when
// empty) and stores the window in UTC. Any previous end time is cleared.
func ScheduleActivation(flag *Flag, start time.Time, duration *time.Duration, timeZone string, local *time.Location) error {
	loc := local
	if loc == nil {
		loc = time.Local
	}
	if timeZone != "" {
		zone, err := LoadTimeZone(timeZone)
		if err != nil {
			return err
		}
		loc = zone
	}
	if duration != nil && *duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidSchedule)
	}

	startUTC := wallClockIn(start, loc).UTC()
	flag.UseTimeBasedActivation = true
	flag.StartTime = &startUTC
	flag.Duration = cloneDuration(duration)
	flag.EndTime = nil
	flag.TimeZone = timeZone
	return nil
}

// ScheduleTemporaryActivation opens a window of duration starting now.
func ScheduleTemporaryActivation(flag *Flag, duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidSchedule)
	}

	start := now.UTC()
	flag.UseTimeBasedActivation = true
	flag.StartTime = &start
	flag.Duration = &duration
	flag.EndTime = nil
	flag.TimeZone = ""
	return nil
}

// ScheduleDeactivation sets an explicit end read as a local wall clock time.
// It also turns on time based activation.
func ScheduleDeactivation(flag *Flag, end time.Time, local *time.Location) {
	if local == nil {
		local = time.Local
	}
	endUTC := wallClockIn(end, local).UTC()
	flag.UseTimeBasedActivation = true
	flag.EndTime = &endUTC
	flag.Duration = nil
}

func RemoveScheduling(flag *Flag) {
	flag.UseTimeBasedActivation = false
	flag.StartTime = nil
	flag.EndTime = nil
	flag.Duration = nil
	flag.TimeZone = ""
}

// UpcomingChanges lists activations and deactivations falling inside
// [now, now+within], earliest first.
func UpcomingChanges(flags []Flag, now time.Time, within time.Duration) []ScheduledChange {
	from := now.UTC()
	until := from.Add(within)
	inWindow := func(t time.Time) bool {
		return !t.Before(from) && !t.After(until)
	}

	changes := make([]ScheduledChange, 0)
	for _, flag := range flags {
		if !flag.UseTimeBasedActivation {
			continue
		}
		if flag.StartTime != nil && inWindow(*flag.StartTime) {
			changes = append(changes, ScheduledChange{
				FlagName:   flag.Name,
				ChangeTime: *flag.StartTime,
				ChangeType: ChangeActivation,
				TimeZone:   flag.TimeZone,
			})
		}
		if end, ok := EffectiveEnd(flag); ok && inWindow(end) {
			changes = append(changes, ScheduledChange{
				FlagName:   flag.Name,
				ChangeTime: end,
				ChangeType: ChangeDeactivation,
				TimeZone:   flag.TimeZone,
			})
		}
	}

	slices.SortStableFunc(changes, func(a, b ScheduledChange) int {
		return a.ChangeTime.Compare(b.ChangeTime)
	})
	return changes
}

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
