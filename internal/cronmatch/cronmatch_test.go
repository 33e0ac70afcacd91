package cronmatch

import (
	"testing"
	"time"
)

func TestParseNamedPatterns(t *testing.T) {
	names := []string{"daily", "weekly", "monthly", "yearly", "hourly", "minutely",
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	for _, n := range names {
		if _, err := Parse(n); err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", n, err)
		}
	}
}

func TestParseRawExpression(t *testing.T) {
	p, err := Parse("*/15 9-17 1,15 * 1-5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Minute != "*/15" || p.Hour != "9-17" || p.DayOfMonth != "1,15" || p.Month != "*" || p.DayOfWeek != "1-5" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
}

func TestParseRejectsBadField(t *testing.T) {
	if _, err := Parse("60 * * * *"); err == nil {
		t.Fatal("expected error for minute 60")
	}
	if _, err := Parse("1 2 3"); err == nil {
		t.Fatal("expected error for wrong field count")
	}
}

func TestMinutelyMatchesEveryMinute(t *testing.T) {
	p, err := Parse("minutely")
	if err != nil {
		t.Fatal(err)
	}
	for _, minute := range []int{0, 1, 30, 59} {
		tm := time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
		if !p.Matches(tm) {
			t.Errorf("expected minutely to match minute %d", minute)
		}
	}
}

func TestHourlyMatchesOnlyMinuteZero(t *testing.T) {
	p, err := Parse("hourly")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Matches(time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatal("expected hourly to match minute 0")
	}
	if p.Matches(time.Date(2026, 1, 1, 13, 1, 0, 0, time.UTC)) {
		t.Fatal("expected hourly not to match minute 1")
	}
}

func TestWeekdayPattern(t *testing.T) {
	p, err := Parse("monday")
	if err != nil {
		t.Fatal(err)
	}
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // 2026-01-05 is a Monday
	if monday.Weekday() != time.Monday {
		t.Fatalf("test fixture date is not a Monday: %v", monday.Weekday())
	}
	if !p.Matches(monday) {
		t.Fatal("expected monday pattern to match a Monday at midnight")
	}
	tuesday := monday.AddDate(0, 0, 1)
	if p.Matches(tuesday) {
		t.Fatal("expected monday pattern not to match a Tuesday")
	}
}

func TestDayOfMonthOrDayOfWeekIsOR(t *testing.T) {
	// "1st of the month OR a Monday" - both restricted, should OR.
	p, err := Parse("0 0 1 * 1")
	if err != nil {
		t.Fatal(err)
	}
	firstOfMonthNotMonday := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // Sunday
	if firstOfMonthNotMonday.Weekday() == time.Monday {
		t.Fatal("test fixture should not be a Monday")
	}
	if !p.Matches(firstOfMonthNotMonday) {
		t.Fatal("expected match via day-of-month even though day-of-week doesn't match")
	}
}

func TestIsTimeToRunDefaultsToUTC(t *testing.T) {
	p, err := Parse("minutely")
	if err != nil {
		t.Fatal(err)
	}
	if !IsTimeToRun(p, "not-a-real-timezone") {
		t.Fatal("expected fallback to UTC and a minutely match")
	}
}

func TestStepValues(t *testing.T) {
	p, err := Parse("*/20 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	for _, minute := range []int{0, 20, 40} {
		if !p.Matches(time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC)) {
			t.Errorf("expected step match at minute %d", minute)
		}
	}
	for _, minute := range []int{1, 19, 21, 59} {
		if p.Matches(time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC)) {
			t.Errorf("unexpected step match at minute %d", minute)
		}
	}
}
