package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingDetail reports a recurrence description that is missing a
// required detail (e.g. weekly with no weekdays selected).
var ErrMissingDetail = errors.New("missing recurrence detail")

// Kind is the recurrence type selected on the scheduling form.
type Kind string

const (
	KindOnce    Kind = "once"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// ParseKind normalizes a user-supplied recurrence type.
// Unrecognized values fall back to "once".
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDaily:
		return KindDaily
	case KindWeekly:
		return KindWeekly
	case KindMonthly:
		return KindMonthly
	default:
		return KindOnce
	}
}

// Rule is the structured recurrence description stored with a job.
//
// It is a sealed tagged variant: each case carries only the fields that
// case needs, so states like "daily with weekdays" cannot be represented.
type Rule interface {
	Kind() Kind
	isRule()
}

// Once fires exactly one time, at the job's run time.
type Once struct{}

// Daily fires every day at a fixed time.
type Daily struct {
	At TimeOfDay
}

// Weekly fires on the selected weekdays at a fixed time.
// Days is always non-empty, sorted and deduplicated.
type Weekly struct {
	At   TimeOfDay
	Days []time.Weekday
}

// Monthly fires on one day of the month at a fixed time.
// Day is in [1, 31]; months without that day are skipped by cron semantics.
type Monthly struct {
	At  TimeOfDay
	Day int
}

func (Once) Kind() Kind    { return KindOnce }
func (Daily) Kind() Kind   { return KindDaily }
func (Weekly) Kind() Kind  { return KindWeekly }
func (Monthly) Kind() Kind { return KindMonthly }

func (Once) isRule()    {}
func (Daily) isRule()   {}
func (Weekly) isRule()  {}
func (Monthly) isRule() {}

// TimeOfDay is a wall-clock HH:MM.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Input is the user-facing recurrence description from the scheduling form.
type Input struct {
	// RunTime is the first (or only) intended execution instant.
	RunTime time.Time
	// Type selects the recurrence kind; unknown values mean "once".
	Type string
	// RepeatAt is an optional "HH:MM" used for repeats instead of RunTime's
	// hour/minute. Ignored for "once".
	RepeatAt string
	// DaysOfWeek applies to "weekly" only (0=Sunday .. 6=Saturday).
	DaysOfWeek []int
	// DayOfMonth applies to "monthly" only (1..31).
	DayOfMonth int
}

// Result is the derived schedule for a job.
type Result struct {
	// Expr is a 5-field cron expression (min hour dom month dow).
	Expr string
	// IsRecurrent is false only for "once".
	IsRecurrent bool
	// Rule is the normalized recurrence stored with the job.
	Rule Rule
}

// Translate derives a cron expression and a normalized Rule from a
// user-entered recurrence description.
//
// Time source: a repeat kind with an explicit RepeatAt uses that wall-clock
// time for the cron fields; otherwise the hour/minute come from RunTime.
// This lets a job's recurring fire time differ from its first run.
//
// Translate is pure: no clocks, no I/O.
func Translate(in Input) (Result, error) {
	if in.RunTime.IsZero() {
		return Result{}, errors.New("run time is required")
	}

	kind := ParseKind(in.Type)

	at := TimeOfDay{Hour: in.RunTime.Hour(), Minute: in.RunTime.Minute()}
	if kind != KindOnce && strings.TrimSpace(in.RepeatAt) != "" {
		t, err := ParseTimeOfDay(in.RepeatAt)
		if err != nil {
			return Result{}, err
		}
		at = t
	}

	switch kind {
	case KindDaily:
		return Result{
			Expr:        fmt.Sprintf("%d %d * * *", at.Minute, at.Hour),
			IsRecurrent: true,
			Rule:        Daily{At: at},
		}, nil

	case KindWeekly:
		days, err := normalizeWeekdays(in.DaysOfWeek)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Expr:        fmt.Sprintf("%d %d * * %s", at.Minute, at.Hour, joinWeekdays(days)),
			IsRecurrent: true,
			Rule:        Weekly{At: at, Days: days},
		}, nil

	case KindMonthly:
		if in.DayOfMonth < 1 || in.DayOfMonth > 31 {
			return Result{}, fmt.Errorf("%w: monthly requires a day of month in 1..31", ErrMissingDetail)
		}
		return Result{
			Expr:        fmt.Sprintf("%d %d %d * *", at.Minute, at.Hour, in.DayOfMonth),
			IsRecurrent: true,
			Rule:        Monthly{At: at, Day: in.DayOfMonth},
		}, nil

	default: // once
		return Result{
			Expr: fmt.Sprintf("%d %d %d %d *",
				in.RunTime.Minute(), in.RunTime.Hour(), in.RunTime.Day(), int(in.RunTime.Month())),
			IsRecurrent: false,
			Rule:        Once{},
		}, nil
	}
}

func normalizeWeekdays(in []int) ([]time.Weekday, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: weekly requires at least one weekday", ErrMissingDetail)
	}
	seen := map[int]bool{}
	out := make([]time.Weekday, 0, len(in))
	for _, d := range in {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday index %d (want 0=Sunday..6=Saturday)", d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, time.Weekday(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func joinWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}
