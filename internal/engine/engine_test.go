package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fmesched/internal/eventbus"
	"fmesched/internal/job"
	"fmesched/internal/recurrence"
	"fmesched/internal/registry"
	"fmesched/internal/runner"
	logx "fmesched/pkg/logx"
)

type fixture struct {
	eng   *Engine
	store *job.Store
	reg   *registry.Registry
	bus   eventbus.Bus
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := job.NewStore(filepath.Join(dir, "data", "scheduled_jobs.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reg := registry.New()
	bus := eventbus.New()
	// "cat <script>" stands in for the fme executable.
	run := runner.New(runner.Config{Executable: "cat", ScriptsDir: dir}, logx.Nop(), bus, nil, nil)
	eng := New(Config{}, store, reg, run, logx.Nop(), bus)
	t.Cleanup(eng.Stop)
	return &fixture{eng: eng, store: store, reg: reg, bus: bus, dir: dir}
}

func (f *fixture) writeScript(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte("fake workbench"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func countRuns(ch <-chan eventbus.Event, window time.Duration) int {
	n := 0
	deadline := time.After(window)
	for {
		select {
		case e := <-ch:
			if e.Type == eventbus.TypeRunFinished {
				n++
			}
		case <-deadline:
			return n
		}
	}
}

func TestOneShotFiresOnceAndClearsRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeScript(t, "export.fmw")

	ch, unsub := f.bus.Subscribe(32)
	defer unsub()

	j, err := f.eng.Create(CreateRequest{
		ScriptName:     "export.fmw",
		RunTime:        time.Now().Add(60 * time.Millisecond),
		RecurrenceType: "once",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.IsRecurrent {
		t.Fatalf("once job marked recurrent: %+v", j)
	}

	if got := countRuns(ch, 800*time.Millisecond); got != 1 {
		t.Fatalf("executions = %d, want exactly 1", got)
	}
	if f.reg.Size() != 0 {
		t.Fatalf("registry size = %d after one-shot fired, want 0", f.reg.Size())
	}

	jobs, err := f.store.List()
	if err != nil || len(jobs) != 1 {
		t.Fatalf("stored jobs = %d (%v), want 1", len(jobs), err)
	}
}

func TestStaleOneShotSkippedAtInitialize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeScript(t, "old.fmw")

	past := time.Now().Add(-2 * time.Hour)
	stale := job.Job{
		ID:                 "job_stale",
		ScriptName:         "old.fmw",
		RunTime:            past,
		IsRecurrent:        false,
		ScheduleExpression: "30 9 1 6 *",
		Recurrence:         job.Recurrence{Rule: recurrence.Once{}},
		Status:             "scheduled",
		CreatedAt:          past,
	}
	if err := f.store.Append(stale); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ch, unsub := f.bus.Subscribe(32)
	defer unsub()

	f.eng.Initialize()
	f.eng.Start()

	if f.reg.Size() != 0 {
		t.Fatalf("registry size = %d, want 0 for stale job", f.reg.Size())
	}

	sawStale := false
	deadline := time.After(300 * time.Millisecond)
loop:
	for {
		select {
		case e := <-ch:
			switch e.Type {
			case eventbus.TypeJobStale:
				sawStale = true
			case eventbus.TypeRunStarted, eventbus.TypeRunFinished:
				t.Fatalf("stale job executed: %+v", e)
			}
		case <-deadline:
			break loop
		}
	}
	if !sawStale {
		t.Fatal("expected job.stale event")
	}

	// Definition survives; only the trigger is withheld.
	if _, err := f.store.Get("job_stale"); err != nil {
		t.Fatalf("stale job should remain stored: %v", err)
	}
}

func TestFutureOneShotRearmedAtInitialize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeScript(t, "soon.fmw")

	future := time.Now().Add(60 * time.Millisecond)
	j := job.Job{
		ID:                 "job_soon",
		ScriptName:         "soon.fmw",
		RunTime:            future,
		ScheduleExpression: "30 9 1 6 *",
		Recurrence:         job.Recurrence{Rule: recurrence.Once{}},
		Status:             "scheduled",
		CreatedAt:          time.Now(),
	}
	if err := f.store.Append(j); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ch, unsub := f.bus.Subscribe(32)
	defer unsub()

	f.eng.Initialize()

	if got := countRuns(ch, 800*time.Millisecond); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}
}

func TestRescheduleReplacesTrigger(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	j := job.Job{
		ID:                 "job_daily",
		ScriptName:         "daily.fmw",
		RunTime:            time.Now().Add(time.Hour),
		IsRecurrent:        true,
		ScheduleExpression: "0 7 * * *",
		Recurrence:         job.Recurrence{Rule: recurrence.Daily{At: recurrence.TimeOfDay{Hour: 7}}},
	}

	f.eng.Schedule(j)
	f.eng.Schedule(j)

	if f.reg.Size() != 1 {
		t.Fatalf("registry size = %d after double schedule, want 1", f.reg.Size())
	}
}

func TestInvalidExpressionFailsSoft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	j := job.Job{
		ID:                 "job_bad",
		ScriptName:         "bad.fmw",
		RunTime:            time.Now().Add(time.Hour),
		IsRecurrent:        true,
		ScheduleExpression: "not a cron expr",
		Recurrence:         job.Recurrence{Rule: recurrence.Daily{}},
	}
	if err := f.store.Append(j); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f.eng.Schedule(j)

	if f.reg.Size() != 0 {
		t.Fatalf("registry size = %d, want 0 for invalid expression", f.reg.Size())
	}
	// Saved-but-unarmed: the record is kept even though no trigger exists.
	if _, err := f.store.Get("job_bad"); err != nil {
		t.Fatalf("job should stay stored: %v", err)
	}
}

func TestDeleteJobCancelsTrigger(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.writeScript(t, "weekly.fmw")

	j, err := f.eng.Create(CreateRequest{
		ScriptName:     "weekly.fmw",
		RunTime:        time.Now().Add(time.Hour),
		RecurrenceType: "weekly",
		RepeatAt:       "07:30",
		DaysOfWeek:     []int{1, 3},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.reg.Size() != 1 {
		t.Fatalf("registry size = %d, want 1", f.reg.Size())
	}

	if err := f.eng.DeleteJob(j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if f.reg.Size() != 0 {
		t.Fatalf("registry size = %d after delete, want 0", f.reg.Size())
	}
	jobs, err := f.store.List()
	if err != nil || len(jobs) != 0 {
		t.Fatalf("stored jobs = %d (%v), want 0", len(jobs), err)
	}

	if err := f.eng.DeleteJob(j.ID); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsIncompleteRecurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.eng.Create(CreateRequest{
		ScriptName:     "w.fmw",
		RunTime:        time.Now().Add(time.Hour),
		RecurrenceType: "weekly",
		RepeatAt:       "07:30",
	})
	if !errors.Is(err, recurrence.ErrMissingDetail) {
		t.Fatalf("err = %v, want ErrMissingDetail", err)
	}

	jobs, lerr := f.store.List()
	if lerr != nil || len(jobs) != 0 {
		t.Fatalf("invalid request must not persist: %d jobs (%v)", len(jobs), lerr)
	}
}

func TestRunNowSwallowsMissingScript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ch, unsub := f.bus.Subscribe(8)
	defer unsub()

	f.eng.RunNow("nope.fmw")

	select {
	case e := <-ch:
		if e.Type == eventbus.TypeRunStarted || e.Type == eventbus.TypeRunFinished {
			t.Fatalf("missing script must not execute: %+v", e)
		}
	case <-time.After(150 * time.Millisecond):
	}
}
