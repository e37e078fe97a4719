package core

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func TestEffectiveEnd(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		flag   Flag
		want   time.Time
		wantOK bool
	}{
		{name: "unbounded", flag: Flag{StartTime: &start}},
		{name: "duration only", flag: Flag{Duration: durationPtr(time.Hour)}},
		{name: "start plus duration", flag: Flag{StartTime: &start, Duration: durationPtr(2 * time.Hour)}, want: start.Add(2 * time.Hour), wantOK: true},
		{name: "end time wins over duration", flag: Flag{StartTime: &start, Duration: durationPtr(2 * time.Hour), EndTime: &end}, want: end, wantOK: true},
		{name: "end only", flag: Flag{EndTime: &end}, want: end, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EffectiveEnd(tt.flag)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Fatalf("EffectiveEnd() = (%s, %t), want (%s, %t)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsActive(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := Flag{UseTimeBasedActivation: true, StartTime: &start, Duration: durationPtr(time.Hour)}

	tests := []struct {
		name string
		flag Flag
		now  time.Time
		want bool
	}{
		{name: "not time based", flag: Flag{StartTime: timePtr(start.Add(24 * time.Hour))}, now: start, want: true},
		{name: "before start", flag: window, now: start.Add(-time.Minute), want: false},
		{name: "at start", flag: window, now: start, want: true},
		{name: "inside window", flag: window, now: start.Add(30 * time.Minute), want: true},
		{name: "at end", flag: window, now: start.Add(time.Hour), want: true},
		{name: "after end", flag: window, now: start.Add(2 * time.Hour), want: false},
		{name: "end only", flag: Flag{UseTimeBasedActivation: true, EndTime: timePtr(start)}, now: start.Add(time.Second), want: false},
		{name: "start only", flag: Flag{UseTimeBasedActivation: true, StartTime: &start}, now: start.AddDate(1, 0, 0), want: true},
		{name: "no bounds", flag: Flag{UseTimeBasedActivation: true}, now: start, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActive(tt.flag, tt.now); got != tt.want {
				t.Fatalf("IsActive() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestIsActiveComparesZoneWallClock(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	flag := Flag{
		UseTimeBasedActivation: true,
		StartTime:              &start,
		TimeZone:               "America/New_York",
	}

	// 15:00Z is 11:00 in New York (EDT), which is read as 11:00Z.
	if IsActive(flag, time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)) {
		t.Fatal("IsActive() = true before the zone wall clock reaches the start")
	}
	if !IsActive(flag, time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)) {
		t.Fatal("IsActive() = false once the zone wall clock reaches the start")
	}

	flag.TimeZone = "Not/AZone"
	if !IsActive(flag, start) {
		t.Fatal("IsActive() with unknown zone should fall back to UTC")
	}
}

func TestScheduleActivation(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("wall clock in zone", func(t *testing.T) {
		flag := Flag{EndTime: &end}
		if err := ScheduleActivation(&flag, start, durationPtr(2*time.Hour), "Europe/Berlin", time.UTC); err != nil {
			t.Fatalf("ScheduleActivation() error = %v", err)
		}
		want := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
		if !flag.UseTimeBasedActivation {
			t.Fatal("UseTimeBasedActivation = false")
		}
		if flag.StartTime == nil || !flag.StartTime.Equal(want) {
			t.Fatalf("StartTime = %v, want %s", flag.StartTime, want)
		}
		if flag.EndTime != nil {
			t.Fatalf("EndTime = %v, want nil", flag.EndTime)
		}
		if flag.Duration == nil || *flag.Duration != 2*time.Hour {
			t.Fatalf("Duration = %v, want 2h", flag.Duration)
		}
		if flag.TimeZone != "Europe/Berlin" {
			t.Fatalf("TimeZone = %q", flag.TimeZone)
		}
	})

	t.Run("local zone when none given", func(t *testing.T) {
		var flag Flag
		local := time.FixedZone("UTC+2", 2*60*60)
		if err := ScheduleActivation(&flag, start, nil, "", local); err != nil {
			t.Fatalf("ScheduleActivation() error = %v", err)
		}
		want := time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC)
		if !flag.StartTime.Equal(want) {
			t.Fatalf("StartTime = %s, want %s", flag.StartTime, want)
		}
		if flag.Duration != nil {
			t.Fatalf("Duration = %v, want nil", flag.Duration)
		}
	})

	t.Run("invalid zone", func(t *testing.T) {
		flag := Flag{Name: "untouched"}
		err := ScheduleActivation(&flag, start, nil, "Mars/Olympus", time.UTC)
		if !errors.Is(err, ErrInvalidTimeZone) {
			t.Fatalf("ScheduleActivation() error = %v, want ErrInvalidTimeZone", err)
		}
		if flag.UseTimeBasedActivation || flag.StartTime != nil {
			t.Fatal("flag modified after a rejected schedule")
		}
	})

	t.Run("negative duration", func(t *testing.T) {
		var flag Flag
		err := ScheduleActivation(&flag, start, durationPtr(-time.Minute), "", time.UTC)
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Fatalf("ScheduleActivation() error = %v, want ErrInvalidSchedule", err)
		}
	})
}

func TestScheduleTemporaryActivation(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	flag := Flag{Enabled: true, TimeZone: "Europe/Berlin", EndTime: timePtr(now.Add(-time.Hour))}

	if err := ScheduleTemporaryActivation(&flag, time.Hour, now); err != nil {
		t.Fatalf("ScheduleTemporaryActivation() error = %v", err)
	}
	if flag.TimeZone != "" || flag.EndTime != nil {
		t.Fatalf("zone/end not cleared: %q %v", flag.TimeZone, flag.EndTime)
	}
	if !IsActive(flag, now) {
		t.Fatal("IsActive(now) = false right after temporary activation")
	}
	if IsActive(flag, now.Add(2*time.Hour)) {
		t.Fatal("IsActive(now+2h) = true after a one hour activation")
	}

	if err := ScheduleTemporaryActivation(&flag, 0, now); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("zero duration error = %v, want ErrInvalidSchedule", err)
	}
}

func TestScheduleDeactivation(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	flag := Flag{StartTime: &start, Duration: durationPtr(time.Hour)}
	local := time.FixedZone("UTC-5", -5*60*60)

	ScheduleDeactivation(&flag, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), local)

	want := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	if flag.EndTime == nil || !flag.EndTime.Equal(want) {
		t.Fatalf("EndTime = %v, want %s", flag.EndTime, want)
	}
	if flag.Duration != nil {
		t.Fatalf("Duration = %v, want nil", flag.Duration)
	}
	if !flag.UseTimeBasedActivation {
		t.Fatal("UseTimeBasedActivation = false")
	}
	if flag.StartTime == nil || !flag.StartTime.Equal(start) {
		t.Fatal("StartTime should be preserved")
	}
}

func TestRemoveScheduling(t *testing.T) {
	now := time.Now()
	flag := Flag{
		UseTimeBasedActivation: true,
		StartTime:              &now,
		EndTime:                &now,
		Duration:               durationPtr(time.Hour),
		TimeZone:               "UTC",
	}

	RemoveScheduling(&flag)

	if flag.UseTimeBasedActivation || flag.StartTime != nil || flag.EndTime != nil || flag.Duration != nil || flag.TimeZone != "" {
		t.Fatalf("scheduling not cleared: %+v", flag)
	}
}

func TestUpcomingChanges(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	flags := []Flag{
		{Name: "plain", StartTime: timePtr(now.Add(time.Hour))},
		{Name: "launch", UseTimeBasedActivation: true, StartTime: timePtr(now.Add(3 * time.Hour)), Duration: durationPtr(2 * time.Hour), TimeZone: "Europe/Berlin"},
		{Name: "sunset", UseTimeBasedActivation: true, EndTime: timePtr(now.Add(time.Hour))},
		{Name: "past", UseTimeBasedActivation: true, StartTime: timePtr(now.Add(-time.Hour))},
		{Name: "far", UseTimeBasedActivation: true, StartTime: timePtr(now.Add(48 * time.Hour))},
		{Name: "edge", UseTimeBasedActivation: true, StartTime: timePtr(now.Add(24 * time.Hour))},
	}

	got := UpcomingChanges(flags, now, 24*time.Hour)
	want := []ScheduledChange{
		{FlagName: "sunset", ChangeTime: now.Add(time.Hour), ChangeType: ChangeDeactivation},
		{FlagName: "launch", ChangeTime: now.Add(3 * time.Hour), ChangeType: ChangeActivation, TimeZone: "Europe/Berlin"},
		{FlagName: "launch", ChangeTime: now.Add(5 * time.Hour), ChangeType: ChangeDeactivation, TimeZone: "Europe/Berlin"},
		{FlagName: "edge", ChangeTime: now.Add(24 * time.Hour), ChangeType: ChangeActivation},
	}

	if len(got) != len(want) {
		t.Fatalf("UpcomingChanges() returned %d changes, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].FlagName != want[i].FlagName || !got[i].ChangeTime.Equal(want[i].ChangeTime) ||
			got[i].ChangeType != want[i].ChangeType || got[i].TimeZone != want[i].TimeZone {
			t.Fatalf("change[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if until := got[0].TimeUntil(now); until != time.Hour {
		t.Fatalf("TimeUntil() = %s, want 1h", until)
	}
}

func TestTimeZoneHelpers(t *testing.T) {
	if !IsValidTimeZone("Asia/Tokyo") {
		t.Fatal("Asia/Tokyo should be valid")
	}
	if IsValidTimeZone("") || IsValidTimeZone("Nowhere/Special") {
		t.Fatal("empty or unknown zones should be invalid")
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := CurrentTimeIn(now, "Asia/Tokyo"); got.Hour() != 9 {
		t.Fatalf("CurrentTimeIn(Tokyo).Hour() = %d, want 9", got.Hour())
	}
	if got := CurrentTimeIn(now, "Nowhere/Special"); got.Location() != time.UTC {
		t.Fatalf("CurrentTimeIn(unknown) location = %s, want UTC", got.Location())
	}
}

func TestValidateFlag(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	valid := Flag{
		Name:              "checkout",
		RolloutPercentage: 50,
		UseTargetingRules: true,
		RuleGroups: []RuleGroup{{
			LogicalOperator:   LogicalAnd,
			RolloutPercentage: 100,
			Enabled:           true,
			Rules:             []Rule{rule("tier", OperatorIn, `["gold"]`)},
		}},
	}
	if err := ValidateFlag(valid); err != nil {
		t.Fatalf("ValidateFlag(valid) error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Flag)
		target error
	}{
		{name: "empty name", mutate: func(f *Flag) { f.Name = " " }},
		{name: "rollout too high", mutate: func(f *Flag) { f.RolloutPercentage = 101 }},
		{name: "group rollout negative", mutate: func(f *Flag) { f.RuleGroups[0].RolloutPercentage = -1 }},
		{name: "bad logical operator", mutate: func(f *Flag) { f.RuleGroups[0].LogicalOperator = "NAND" }},
		{name: "bad operator", mutate: func(f *Flag) { f.RuleGroups[0].Rules[0].Operator = "Like" }},
		{name: "missing attribute", mutate: func(f *Flag) { f.RuleGroups[0].Rules[0].Attribute = "" }},
		{name: "bad time zone", mutate: func(f *Flag) { f.TimeZone = "Mars/Base" }, target: ErrInvalidTimeZone},
		{name: "end before start", mutate: func(f *Flag) {
			f.StartTime = &start
			f.EndTime = timePtr(start.Add(-time.Hour))
		}, target: ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := valid
			flag.RuleGroups = []RuleGroup{valid.RuleGroups[0]}
			flag.RuleGroups[0].Rules = []Rule{valid.RuleGroups[0].Rules[0]}
			tt.mutate(&flag)

			err := ValidateFlag(flag)
			if err == nil {
				t.Fatal("ValidateFlag() error = nil")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Fatalf("ValidateFlag() error = %v, want %v", err, tt.target)
			}
		})
	}
}
