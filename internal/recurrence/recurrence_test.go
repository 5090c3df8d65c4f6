package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

var testRunTime = time.Date(2025, time.March, 14, 9, 26, 0, 0, time.Local)

func TestTranslateVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        Input
		expr      string
		recurrent bool
		kind      Kind
	}{
		{
			name:      "once pins run time fields",
			in:        Input{RunTime: testRunTime, Type: "once"},
			expr:      "26 9 14 3 *",
			recurrent: false,
			kind:      KindOnce,
		},
		{
			name:      "unknown type falls back to once",
			in:        Input{RunTime: testRunTime, Type: "fortnightly"},
			expr:      "26 9 14 3 *",
			recurrent: false,
			kind:      KindOnce,
		},
		{
			name:      "daily derives time from run time",
			in:        Input{RunTime: testRunTime, Type: "daily"},
			expr:      "26 9 * * *",
			recurrent: true,
			kind:      KindDaily,
		},
		{
			name:      "daily explicit repeat time wins over run time",
			in:        Input{RunTime: testRunTime, Type: "daily", RepeatAt: "07:30"},
			expr:      "30 7 * * *",
			recurrent: true,
			kind:      KindDaily,
		},
		{
			name:      "weekly joins sorted weekdays",
			in:        Input{RunTime: testRunTime, Type: "weekly", RepeatAt: "18:05", DaysOfWeek: []int{5, 1, 3}},
			expr:      "5 18 * * 1,3,5",
			recurrent: true,
			kind:      KindWeekly,
		},
		{
			name:      "weekly dedupes repeated days",
			in:        Input{RunTime: testRunTime, Type: "weekly", DaysOfWeek: []int{2, 2, 0}},
			expr:      "26 9 * * 0,2",
			recurrent: true,
			kind:      KindWeekly,
		},
		{
			name:      "monthly pins day of month",
			in:        Input{RunTime: testRunTime, Type: "monthly", RepeatAt: "00:15", DayOfMonth: 28},
			expr:      "15 0 28 * *",
			recurrent: true,
			kind:      KindMonthly,
		},
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.in)
			if err != nil {
				t.Fatalf("Translate error: %v", err)
			}
			if got.Expr != tt.expr {
				t.Fatalf("Expr = %q, want %q", got.Expr, tt.expr)
			}
			if got.IsRecurrent != tt.recurrent {
				t.Fatalf("IsRecurrent = %v, want %v", got.IsRecurrent, tt.recurrent)
			}
			if got.Rule.Kind() != tt.kind {
				t.Fatalf("Rule.Kind = %s, want %s", got.Rule.Kind(), tt.kind)
			}
			if _, err := parser.Parse(got.Expr); err != nil {
				t.Fatalf("derived expression %q is not valid cron: %v", got.Expr, err)
			}
		})
	}
}

func TestTranslateWeeklyWithoutDays(t *testing.T) {
	t.Parallel()
	_, err := Translate(Input{RunTime: testRunTime, Type: "weekly"})
	if !errors.Is(err, ErrMissingDetail) {
		t.Fatalf("expected ErrMissingDetail, got %v", err)
	}
}

func TestTranslateMonthlyWithoutDay(t *testing.T) {
	t.Parallel()
	_, err := Translate(Input{RunTime: testRunTime, Type: "monthly"})
	if !errors.Is(err, ErrMissingDetail) {
		t.Fatalf("expected ErrMissingDetail, got %v", err)
	}
}

func TestTranslateRejectsZeroRunTime(t *testing.T) {
	t.Parallel()
	if _, err := Translate(Input{Type: "daily"}); err == nil {
		t.Fatal("expected error for zero run time")
	}
}

func TestTranslateOnceIgnoresRepeatTime(t *testing.T) {
	t.Parallel()
	got, err := Translate(Input{RunTime: testRunTime, Type: "once", RepeatAt: "23:59"})
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if got.Expr != "26 9 14 3 *" {
		t.Fatalf("Expr = %q, want run-time fields", got.Expr)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("23:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay error: %v", err)
	}
	if got.Hour != 23 || got.Minute != 15 {
		t.Fatalf("unexpected result: %v", got)
	}
	if got.String() != "23:15" {
		t.Fatalf("String = %q", got.String())
	}

	for _, bad := range []string{"24:00", "12:60", "noon", "7"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestInvalidWeekdayIndex(t *testing.T) {
	t.Parallel()
	_, err := Translate(Input{RunTime: testRunTime, Type: "weekly", DaysOfWeek: []int{7}})
	if err == nil {
		t.Fatal("expected error for weekday index 7")
	}
}
