package device

import (
	"testing"
	"time"
)

func TestScheduleRuleAppliesOnWeekday(t *testing.T) {
	r := ScheduleRule{Days: []Day{Weekday}}
	if !r.AppliesOn(time.Tuesday) {
		t.Fatal("AppliesOn(Tuesday) = false, want true for Weekday rule")
	}
	if r.AppliesOn(time.Saturday) {
		t.Fatal("AppliesOn(Saturday) = true, want false for Weekday rule")
	}
}

func TestScheduleRuleAppliesOnAll(t *testing.T) {
	r := ScheduleRule{Days: []Day{AllDays}}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if !r.AppliesOn(wd) {
			t.Fatalf("AppliesOn(%v) = false, want true for All rule", wd)
		}
	}
}

func TestScheduleRuleInWindowOrdinary(t *testing.T) {
	r := ScheduleRule{StartTime: "08:00", EndTime: "18:00"}
	in, err := r.InWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if err != nil || !in {
		t.Fatalf("InWindow(12:00) = %v, %v, want true, nil", in, err)
	}
	in, err = r.InWindow(time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC))
	if err != nil || in {
		t.Fatalf("InWindow(19:00) = %v, %v, want false, nil", in, err)
	}
}

func TestScheduleRuleInWindowCrossesMidnight(t *testing.T) {
	r := ScheduleRule{StartTime: "22:00", EndTime: "06:00"}
	in, err := r.InWindow(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC))
	if err != nil || !in {
		t.Fatalf("InWindow(23:30) = %v, %v, want true, nil", in, err)
	}
	in, err = r.InWindow(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	if err != nil || !in {
		t.Fatalf("InWindow(03:00) = %v, %v, want true, nil", in, err)
	}
	in, err = r.InWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if err != nil || in {
		t.Fatalf("InWindow(12:00) = %v, %v, want false, nil", in, err)
	}
}

func TestScheduleRuleStartEndMinute(t *testing.T) {
	r := ScheduleRule{StartTime: "08:00", EndTime: "18:00"}
	if !r.IsStartMinute(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatal("IsStartMinute(08:00) = false, want true")
	}
	if !r.IsEndMinute(time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)) {
		t.Fatal("IsEndMinute(18:00) = false, want true")
	}
	if r.IsStartMinute(time.Date(2026, 1, 1, 8, 1, 0, 0, time.UTC)) {
		t.Fatal("IsStartMinute(08:01) = true, want false")
	}
}

func TestDeviceScheduleInDateRange(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	ds := DeviceSchedule{StartDate: &start, EndDate: &end}
	if !ds.InDateRange(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("InDateRange(mid-year) = false, want true")
	}
	if ds.InDateRange(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("InDateRange(after end) = true, want false")
	}
}

func TestEffectiveRulesCombinesTemplateAndCustom(t *testing.T) {
	tmpl := ScheduleTemplate{Rules: []ScheduleRule{{Parameter: "setpoint_a"}}}
	ds := DeviceSchedule{CustomRules: []ScheduleRule{{Parameter: "setpoint_b"}}}
	got := EffectiveRules(tmpl, ds)
	if len(got) != 2 {
		t.Fatalf("EffectiveRules() len = %d, want 2", len(got))
	}
}
