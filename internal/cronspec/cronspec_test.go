package cronspec

import (
	"testing"
	"time"
)

func TestParseCronExpression(t *testing.T) {
	sched, err := Parse("0 9 * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	next, ok := sched.Next(now)
	if !ok {
		t.Fatal("expected a next run time")
	}
	if next.Hour() != 9 {
		t.Fatalf("expected next run at 09:00, got %s", next)
	}
}

func TestParseInvalidExpression(t *testing.T) {
	if _, err := Parse("not a cron expr", "UTC"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestParseInvalidTimezone(t *testing.T) {
	if _, err := Parse("0 9 * * *", "Not/AZone"); err == nil {
		t.Fatal("expected an error for an invalid timezone")
	}
}

func TestOneShotSchedule(t *testing.T) {
	sched, err := Parse("@at 2026-08-01T00:00:00Z", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !sched.IsOneShot() {
		t.Fatal("expected a one-shot schedule")
	}

	before := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next, ok := sched.Next(before)
	if !ok {
		t.Fatal("expected a next run before the one-shot time")
	}
	if !next.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run time: %s", next)
	}

	after := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	if _, ok := sched.Next(after); ok {
		t.Fatal("expected no further runs after the one-shot time has passed")
	}
}
