package job

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"fmesched/internal/recurrence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "data", "jobs.json"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return st
}

func sampleJob(id string) Job {
	run := time.Date(2025, time.June, 2, 7, 30, 0, 0, time.UTC)
	return Job{
		ID:                 id,
		ScriptName:         "import_parcels.fmw",
		RunTime:            run,
		IsRecurrent:        true,
		ScheduleExpression: "30 7 * * 1,3",
		Recurrence: Recurrence{Rule: recurrence.Weekly{
			At:   recurrence.TimeOfDay{Hour: 7, Minute: 30},
			Days: []time.Weekday{time.Monday, time.Wednesday},
		}},
		Status:    "scheduled",
		CreatedAt: run.Add(-time.Hour),
	}
}

func TestListMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	jobs, err := st.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty store, got %d jobs", len(jobs))
	}
}

func TestAppendListRoundTrip(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	want := sampleJob("job_1")
	if err := st.Append(want); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	jobs, err := st.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if !got.RunTime.Equal(want.RunTime) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("timestamps changed in round trip: got %v/%v", got.RunTime, got.CreatedAt)
	}
	// Normalize times for the deep comparison; Equal above covers the instants.
	got.RunTime, want.RunTime = time.Time{}, time.Time{}
	got.CreatedAt, want.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestRecurrenceJSONShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule recurrence.Rule
		want string
	}{
		{"once", recurrence.Once{}, `{"type":"once"}`},
		{"daily", recurrence.Daily{At: recurrence.TimeOfDay{Hour: 6, Minute: 5}}, `{"type":"daily","time":"06:05"}`},
		{
			"weekly",
			recurrence.Weekly{At: recurrence.TimeOfDay{Hour: 18, Minute: 0}, Days: []time.Weekday{time.Sunday, time.Friday}},
			`{"type":"weekly","time":"18:00","daysOfWeek":[0,5]}`,
		},
		{
			"monthly",
			recurrence.Monthly{At: recurrence.TimeOfDay{Hour: 1, Minute: 45}, Day: 15},
			`{"type":"monthly","time":"01:45","dayOfMonth":15}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(Recurrence{Rule: tt.rule})
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("marshal = %s, want %s", b, tt.want)
			}
			var back Recurrence
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if !reflect.DeepEqual(back.Rule, tt.rule) {
				t.Fatalf("round trip rule mismatch: got %#v want %#v", back.Rule, tt.rule)
			}
		})
	}
}

func TestRecurrenceUnmarshalRejectsInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		`{"type":"weekly","time":"06:00"}`,
		`{"type":"weekly","time":"06:00","daysOfWeek":[9]}`,
		`{"type":"monthly","time":"06:00","dayOfMonth":0}`,
		`{"type":"daily"}`,
	} {
		var r Recurrence
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if err := st.Append(sampleJob("job_a")); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := st.Append(sampleJob("job_b")); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if err := st.Remove("job_a"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	jobs, err := st.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job_b" {
		t.Fatalf("unexpected remaining jobs: %+v", jobs)
	}

	// Re-delete reports not found and leaves the store unchanged.
	if err := st.Remove("job_a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	jobs, err = st.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("store changed by failed remove: %+v", jobs)
	}
}

func TestRemoveUnknownIDLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if err := st.Remove("job_never_created"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(st.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed remove must not create the jobs file: %v", err)
	}
}

func TestCorruptFileSurfacesErrCorrupt(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if err := os.WriteFile(st.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := st.List()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if err := st.Append(sampleJob("job_x")); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if _, err := st.Get("job_x"); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, err := st.Get("job_y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
