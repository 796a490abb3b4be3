// Package cronspec parses an Agent's cron expression and timezone into a
// schedule the scheduler loop can evaluate for "next run" queries. It
// supports standard five/six-field cron expressions (seconds optional),
// descriptors (@daily, @hourly), and the one-shot "@once" / "@at <RFC3339>"
// forms used to schedule a single future run.
package cronspec

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed cron expression bound to a timezone.
type Schedule struct {
	expr     string
	oneShot  bool
	at       time.Time
	cron     cron.Schedule
	location *time.Location
}

// Parse validates a cron expression and timezone, returning a Schedule that
// can compute subsequent run times. An empty timezone defaults to UTC.
//
// A oneShotAt of "@at <RFC3339>" schedules a single run and signals Next to
// report "disable after this run" by returning ok=false once that time has
// passed.
func Parse(expr, timezone string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cronspec: expression is required")
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("cronspec: invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}

	if strings.HasPrefix(expr, "@at ") {
		raw := strings.TrimSpace(strings.TrimPrefix(expr, "@at "))
		at, err := time.ParseInLocation(time.RFC3339, raw, loc)
		if err != nil {
			return nil, fmt.Errorf("cronspec: invalid @at timestamp %q: %w", raw, err)
		}
		return &Schedule{expr: expr, oneShot: true, at: at, location: loc}, nil
	}

	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronspec: invalid cron expression %q: %w", expr, err)
	}
	return &Schedule{expr: expr, cron: parsed, location: loc}, nil
}

// Next returns the next run time strictly after now. ok is false when the
// schedule has no further runs (a one-shot "@at" schedule whose time has
// already passed) — the scheduler loop should disable the agent in that case.
func (s *Schedule) Next(now time.Time) (next time.Time, ok bool) {
	if s.oneShot {
		if now.After(s.at) {
			return time.Time{}, false
		}
		return s.at, true
	}
	next = s.cron.Next(now.In(s.location))
	return next, !next.IsZero()
}

// IsOneShot reports whether the schedule fires exactly once.
func (s *Schedule) IsOneShot() bool {
	return s.oneShot
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}
