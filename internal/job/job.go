package job

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"fmesched/internal/recurrence"
)

// Job is the unit of schedulable work: which workbench to run, when, and
// how often. The store is the durable owner of Jobs; armed timers are
// runtime-only derivations kept in the registry.
type Job struct {
	ID         string `json:"id"`
	ScriptName string `json:"scriptName"`

	// RunTime is the absolute timestamp of the first (or only) execution.
	RunTime time.Time `json:"runTime"`

	IsRecurrent bool `json:"isRecurrent"`

	// ScheduleExpression is a 5-field cron expression derived from Recurrence.
	ScheduleExpression string `json:"scheduleExpression"`

	Recurrence Recurrence `json:"recurrence"`

	// Status is display-only and never drives control logic.
	Status string `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewID returns a fresh opaque job id.
func NewID(now time.Time) string {
	return fmt.Sprintf("job_%d_%s", now.UnixMilli(), randomHex(3))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Recurrence wraps a recurrence.Rule so the tagged variant survives a JSON
// round trip in the shape the web form and jobs file use:
//
//	{"type":"weekly","time":"07:30","daysOfWeek":[1,3,5]}
//
// Fields that a given type does not carry are omitted.
type Recurrence struct {
	Rule recurrence.Rule
}

type recurrenceJSON struct {
	Type       string `json:"type"`
	Time       string `json:"time,omitempty"`
	DaysOfWeek []int  `json:"daysOfWeek,omitempty"`
	DayOfMonth int    `json:"dayOfMonth,omitempty"`
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	out := recurrenceJSON{Type: string(recurrence.KindOnce)}
	switch v := r.Rule.(type) {
	case recurrence.Daily:
		out = recurrenceJSON{Type: string(recurrence.KindDaily), Time: v.At.String()}
	case recurrence.Weekly:
		days := make([]int, len(v.Days))
		for i, d := range v.Days {
			days[i] = int(d)
		}
		out = recurrenceJSON{Type: string(recurrence.KindWeekly), Time: v.At.String(), DaysOfWeek: days}
	case recurrence.Monthly:
		out = recurrenceJSON{Type: string(recurrence.KindMonthly), Time: v.At.String(), DayOfMonth: v.Day}
	}
	return json.Marshal(out)
}

func (r *Recurrence) UnmarshalJSON(b []byte) error {
	var raw recurrenceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	kind := recurrence.ParseKind(raw.Type)
	if kind == recurrence.KindOnce {
		r.Rule = recurrence.Once{}
		return nil
	}

	at, err := recurrence.ParseTimeOfDay(raw.Time)
	if err != nil {
		return fmt.Errorf("recurrence %q: %w", raw.Type, err)
	}

	switch kind {
	case recurrence.KindDaily:
		r.Rule = recurrence.Daily{At: at}
	case recurrence.KindWeekly:
		if len(raw.DaysOfWeek) == 0 {
			return fmt.Errorf("recurrence weekly: %w", recurrence.ErrMissingDetail)
		}
		days := make([]time.Weekday, 0, len(raw.DaysOfWeek))
		for _, d := range raw.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("recurrence weekly: invalid weekday index %d", d)
			}
			days = append(days, time.Weekday(d))
		}
		r.Rule = recurrence.Weekly{At: at, Days: days}
	case recurrence.KindMonthly:
		if raw.DayOfMonth < 1 || raw.DayOfMonth > 31 {
			return fmt.Errorf("recurrence monthly: invalid day of month %d", raw.DayOfMonth)
		}
		r.Rule = recurrence.Monthly{At: at, Day: raw.DayOfMonth}
	}
	return nil
}

// Kind reports the recurrence kind, defaulting to "once" for a zero value.
func (r Recurrence) Kind() recurrence.Kind {
	if r.Rule == nil {
		return recurrence.KindOnce
	}
	return r.Rule.Kind()
}
