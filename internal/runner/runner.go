// Package runner invokes external FME workbenches.
//
// Invocation is fire-and-forget: Submit resolves and validates the script,
// then hands the actual process off to a goroutine and returns. Completion
// (exit status + captured output) is delivered to the log sink, the event
// bus and the run-history store; callers never get a synchronous result.
package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fmesched/internal/eventbus"
	"fmesched/internal/storage"
	logx "fmesched/pkg/logx"
)

// ErrScriptNotFound reports a script name with no matching artifact in the
// scripts directory.
var ErrScriptNotFound = errors.New("script not found")

// Trigger values recorded with each run.
const (
	TriggerFirstRun = "first-run"
	TriggerCron     = "cron"
	TriggerManual   = "manual"
)

// Spawner allows the caller (the app supervisor) to own goroutines created
// by the runner. When nil, the runner falls back to plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }

type Config struct {
	// Executable is the FME command invoked per run. Assumed to be on PATH
	// unless given as an absolute path.
	Executable string
	// ScriptsDir holds the uploaded .fmw artifacts.
	ScriptsDir string
	// RunTimeout bounds a single execution. 0 disables the bound.
	RunTimeout time.Duration
	// OutputLimit caps captured stdout+stderr bytes kept per run.
	OutputLimit int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Executable) == "" {
		c.Executable = "fme"
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = 8 * 1024
	}
	return c
}

type Runner struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store // may be nil (history disabled)
	spawn Spawner
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, spawn Spawner) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg.withDefaults(), log: log, bus: bus, store: store, spawn: spawn}
}

// Resolve maps a script name to its on-disk path, rejecting names that
// escape the scripts directory. It does not check existence.
func (r *Runner) Resolve(scriptName string) (string, error) {
	name := filepath.Base(strings.TrimSpace(scriptName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errors.New("script name is required")
	}
	return filepath.Join(r.cfg.ScriptsDir, name), nil
}

// Submit verifies the script exists and schedules its execution, returning
// before the external process runs. ErrScriptNotFound is the only submit
// failure besides a bad name; execution failures are logged, never returned.
func (r *Runner) Submit(ctx context.Context, jobID, scriptName, trigger string) error {
	path, err := r.Resolve(scriptName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrScriptNotFound
		}
		return err
	}

	script := filepath.Base(path)
	r.log.Info("executing workbench",
		logx.String("script", script),
		logx.String("trigger", trigger),
		logx.String("job", jobID))
	r.publish(eventbus.TypeRunStarted, storage.RunRecord{JobID: jobID, Script: script, Trigger: trigger, At: time.Now()})

	run := func() { r.execute(ctx, jobID, script, path, trigger) }
	if r.spawn != nil {
		r.spawn.Go("runner:"+script, run)
	} else {
		go run()
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, jobID, script, path, trigger string) {
	start := time.Now()

	runCtx := ctx
	if runCtx == nil {
		runCtx = context.Background()
	}
	var cancel context.CancelFunc
	if r.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, r.cfg.RunTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.cfg.Executable, path)
	out, err := cmd.CombinedOutput()

	rec := storage.RunRecord{
		At:      start,
		JobID:   jobID,
		Script:  script,
		Trigger: trigger,
		TookMS:  time.Since(start).Milliseconds(),
		Output:  truncate(string(out), r.cfg.OutputLimit),
		OK:      err == nil,
	}

	if err != nil {
		rec.Error = err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rec.ExitCode = exitErr.ExitCode()
		} else {
			rec.ExitCode = -1
		}
		r.log.Error("workbench failed",
			logx.String("script", script),
			logx.String("job", jobID),
			logx.Int("exit_code", rec.ExitCode),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
			logx.String("output", rec.Output))
	} else {
		r.log.Info("workbench completed",
			logx.String("script", script),
			logx.String("job", jobID),
			logx.Duration("took", time.Since(start)))
		if rec.Output != "" {
			r.log.Debug("workbench output", logx.String("script", script), logx.String("output", rec.Output))
		}
	}

	if r.store != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		if serr := r.store.AppendRun(sctx, rec); serr != nil {
			r.log.Warn("failed recording run", logx.String("script", script), logx.Err(serr))
		}
		scancel()
	}

	r.publish(eventbus.TypeRunFinished, rec)
}

func (r *Runner) publish(typ string, rec storage.RunRecord) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: rec})
}

func truncate(s string, maxN int) string {
	s = strings.TrimSpace(s)
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
