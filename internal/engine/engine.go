// Package engine arms and disarms triggers for scheduled workbench jobs.
//
// Each job gets up to two triggers:
//   - a one-shot timer for the literal first run at job.RunTime, so the
//     first occurrence happens at the requested instant even when the
//     recurring fields use a different repeat time
//   - a recurring cron trigger for repeats, registered in the schedule
//     registry under the job id
//
// The job store is the durable owner of definitions; the registry holds
// only derived handles and is rebuilt by Initialize on every process start.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fmesched/internal/eventbus"
	"fmesched/internal/job"
	"fmesched/internal/recurrence"
	"fmesched/internal/registry"
	"fmesched/internal/runner"
	logx "fmesched/pkg/logx"
)

// ErrInvalidRequest marks Create failures caused by the request itself
// (as opposed to persistence errors).
var ErrInvalidRequest = errors.New("invalid scheduling request")

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Stockholm"
}

// CreateRequest is a validated scheduling request from the web form.
type CreateRequest struct {
	ScriptName     string
	RunTime        time.Time
	RecurrenceType string
	RepeatAt       string
	DaysOfWeek     []int
	DayOfMonth     int
}

type Engine struct {
	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron

	store *job.Store
	reg   *registry.Registry
	run   *runner.Runner

	// one-shot first-run timers, keyed by job id. Runtime-only; deleting a
	// job does not cancel an already-armed first-run timer (known
	// limitation carried from the design), but re-scheduling the same id
	// replaces a pending timer, and Stop() drains them all.
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, store *job.Store, reg *registry.Registry, run *runner.Runner, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:    log,
		cfg:    cfg,
		bus:    bus,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		store:  store,
		reg:    reg,
		run:    run,
		timers: map[string]*time.Timer{},
	}
	e.loc = e.loadLocation()
	e.c = cron.New(cron.WithParser(e.parser), cron.WithLocation(e.loc))
	return e
}

func (e *Engine) loadLocation() *time.Location {
	tz := strings.TrimSpace(e.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins serving cron triggers. Jobs may be scheduled before Start;
// their triggers first fire after it.
func (e *Engine) Start() {
	e.c.Start()
	e.log.Info("engine started", logx.String("tz", e.loc.String()))
}

// Stop halts the cron runner and drains pending first-run timers. Firings
// already in flight are not aborted.
func (e *Engine) Stop() {
	<-e.c.Stop().Done()

	e.tmu.Lock()
	for _, t := range e.timers {
		_ = t.Stop()
	}
	e.timers = map[string]*time.Timer{}
	e.tmu.Unlock()

	e.log.Info("engine stopped")
}

// Armed reports the count of live recurring triggers. Observability only.
func (e *Engine) Armed() int { return e.reg.Size() }

// Create validates a scheduling request, persists the job, and arms its
// triggers. Validation failures are returned to the caller; arming
// failures are logged only (the saved job simply stays unarmed).
func (e *Engine) Create(req CreateRequest) (job.Job, error) {
	res, err := recurrence.Translate(recurrence.Input{
		RunTime:    req.RunTime,
		Type:       req.RecurrenceType,
		RepeatAt:   req.RepeatAt,
		DaysOfWeek: req.DaysOfWeek,
		DayOfMonth: req.DayOfMonth,
	})
	if err != nil {
		return job.Job{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := time.Now()
	j := job.Job{
		ID:                 job.NewID(now),
		ScriptName:         strings.TrimSpace(req.ScriptName),
		RunTime:            req.RunTime,
		IsRecurrent:        res.IsRecurrent,
		ScheduleExpression: res.Expr,
		Recurrence:         job.Recurrence{Rule: res.Rule},
		Status:             "scheduled",
		CreatedAt:          now,
	}

	if err := e.store.Append(j); err != nil {
		return job.Job{}, err
	}
	e.log.Info("job saved", logx.String("job", j.ID), logx.String("script", j.ScriptName))

	e.Schedule(j)
	return j, nil
}

// Schedule arms the job's triggers. It fails soft: an invalid schedule
// expression or a first run in the past is logged and that trigger simply
// isn't armed. The persisted record is untouched either way.
func (e *Engine) Schedule(j job.Job) {
	if _, err := e.parser.Parse(j.ScheduleExpression); err != nil {
		e.log.Error("invalid schedule expression, job not armed",
			logx.String("job", j.ID),
			logx.String("expr", j.ScheduleExpression),
			logx.Err(err))
		return
	}

	delay := time.Until(j.RunTime)
	if delay > 0 {
		e.armFirstRun(j, delay)
		e.log.Info("first run armed",
			logx.String("job", j.ID),
			logx.String("script", j.ScriptName),
			logx.Duration("in", delay))
	} else {
		e.log.Warn("first run time already passed, skipping first run",
			logx.String("job", j.ID),
			logx.Time("run_time", j.RunTime))
	}

	if j.IsRecurrent {
		entryID, err := e.c.AddFunc(j.ScheduleExpression, func() {
			e.log.Info("recurring trigger fired", logx.String("job", j.ID), logx.String("script", j.ScriptName))
			e.submit(j, runner.TriggerCron)
		})
		if err != nil {
			// Parse succeeded above, so this is unexpected; same fail-soft path.
			e.log.Error("failed arming recurring trigger", logx.String("job", j.ID), logx.Err(err))
			return
		}
		e.reg.Register(j.ID, &cronHandle{c: e.c, id: entryID})
		e.log.Info("recurring trigger armed",
			logx.String("job", j.ID),
			logx.String("expr", j.ScheduleExpression))
	}

	e.publish(eventbus.TypeJobScheduled, j.ID)
}

func (e *Engine) armFirstRun(j job.Job, delay time.Duration) {
	e.tmu.Lock()
	defer e.tmu.Unlock()

	// Re-scheduling the same id replaces any pending first-run timer so a
	// rehydrate-then-reschedule never double-fires the first occurrence.
	if old := e.timers[j.ID]; old != nil {
		_ = old.Stop()
	}
	e.timers[j.ID] = time.AfterFunc(delay, func() {
		e.tmu.Lock()
		delete(e.timers, j.ID)
		e.tmu.Unlock()

		e.log.Info("triggering first run", logx.String("job", j.ID), logx.String("script", j.ScriptName))
		e.submit(j, runner.TriggerFirstRun)

		if !j.IsRecurrent {
			// One-shot: this was the job's only execution.
			e.reg.Remove(j.ID)
			e.log.Info("one-shot job completed", logx.String("job", j.ID))
		}
	})
}

func (e *Engine) submit(j job.Job, trigger string) {
	if err := e.run.Submit(nil, j.ID, j.ScriptName, trigger); err != nil {
		if errors.Is(err, runner.ErrScriptNotFound) {
			e.log.Error("script not found, execution skipped",
				logx.String("job", j.ID),
				logx.String("script", j.ScriptName))
			return
		}
		e.log.Error("failed submitting execution", logx.String("job", j.ID), logx.Err(err))
	}
}

// Initialize reloads all stored jobs and re-arms the eligible ones:
// recurrent jobs always, one-shot jobs only while their run time is still
// in the future. Past one-shot jobs are never re-armed after a restart.
func (e *Engine) Initialize() {
	e.log.Info("initializing scheduler from job store")

	jobs, err := e.store.List()
	if err != nil {
		// A corrupt jobs file degrades to an empty store so the service
		// stays available.
		e.log.Error("failed loading jobs file, starting empty", logx.Err(err))
		jobs = nil
	}

	now := time.Now()
	for _, j := range jobs {
		if j.IsRecurrent || j.RunTime.After(now) {
			e.Schedule(j)
			continue
		}
		e.log.Info("stale one-shot job skipped",
			logx.String("job", j.ID),
			logx.String("script", j.ScriptName),
			logx.Time("run_time", j.RunTime))
		e.publish(eventbus.TypeJobStale, j.ID)
	}

	e.log.Info("initialization complete",
		logx.Int("jobs", len(jobs)),
		logx.Int("armed", e.reg.Size()))
}

// DeleteJob removes the job from the store and cancels its registry entry.
// job.ErrNotFound is returned when the id is unknown.
func (e *Engine) DeleteJob(id string) error {
	if err := e.store.Remove(id); err != nil {
		return err
	}
	if e.reg.Cancel(id) {
		e.log.Info("recurring trigger cancelled", logx.String("job", id))
	}
	e.log.Info("job deleted", logx.String("job", id))
	e.publish(eventbus.TypeJobDeleted, id)
	return nil
}

// RunNow triggers an immediate out-of-band execution. A missing script is
// logged, never returned: manual runs are fire-and-forget end to end.
func (e *Engine) RunNow(scriptName string) {
	e.log.Info("manual run requested", logx.String("script", scriptName))
	if err := e.run.Submit(nil, "", scriptName, runner.TriggerManual); err != nil {
		if errors.Is(err, runner.ErrScriptNotFound) {
			e.log.Error("script not found, execution skipped", logx.String("script", scriptName))
			return
		}
		e.log.Error("failed submitting execution", logx.String("script", scriptName), logx.Err(err))
	}
}

func (e *Engine) publish(typ, jobID string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: jobID})
}

// cronHandle adapts a robfig cron entry to the registry's Handle.
// Remove only suppresses future firings; a run in flight continues.
type cronHandle struct {
	c  *cron.Cron
	id cron.EntryID
}

func (h *cronHandle) Stop() { h.c.Remove(h.id) }
