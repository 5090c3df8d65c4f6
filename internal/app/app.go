// Package app wires the scheduling service together: config, logging,
// storage, the engine, the HTTP API, and the failure notifier.
package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"fmesched/internal/config"
	"fmesched/internal/engine"
	"fmesched/internal/eventbus"
	"fmesched/internal/httpapi"
	"fmesched/internal/job"
	"fmesched/internal/notifier"
	"fmesched/internal/registry"
	"fmesched/internal/runner"
	rtsup "fmesched/internal/runtime/supervisor"
	"fmesched/internal/storage"
	logx "fmesched/pkg/logx"
)

type App struct {
	cfg  *config.Config
	cfgm *config.ConfigManager // nil when running on built-in defaults

	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	runs  storage.Store // nil when history is disabled
	store *job.Store
	reg   *registry.Registry
	run   *runner.Runner
	eng   *engine.Engine
	api   *httpapi.Server
	notif *notifier.Service

	httpErr chan error
}

// NewApp loads configuration and constructs every component without
// starting anything. A missing config file is not an error: the service
// falls back to built-in defaults (and hot reload stays off).
func NewApp(cfgPath string) (*App, error) {
	a := &App{httpErr: make(chan error, 1)}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	switch {
	case err == nil:
		a.cfgm = cfgm
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, err
	}
	a.cfg = cfg

	// Log sink directory must exist before the file writer opens.
	if cfg.Logging.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File.Path), 0o755); err != nil {
			return nil, err
		}
	}
	a.logs, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log = a.log.With(logx.String("comp", "app"))
	if a.cfgm == nil {
		a.log.Warn("config file not found, using defaults", logx.String("path", cfgPath))
	}

	a.bus = eventbus.New()

	if sc := cfg.Storage; sc != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      sc.Driver,
			Path:        sc.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			a.runs = st
			a.log.Info("run history enabled", logx.String("driver", sc.Driver))
		}
	}

	a.store, err = job.NewStore(cfg.Scheduler.JobsFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Runner.ScriptsDir, 0o755); err != nil {
		return nil, err
	}

	runTimeout, err := config.ParseDurationField("runner.run_timeout", cfg.Runner.RunTimeout)
	if err != nil {
		return nil, err
	}
	// Execution goroutines run under the app supervisor once started.
	spawn := runner.SpawnerFunc(func(name string, fn func()) {
		if a.sup != nil {
			a.sup.Go0(name, func(context.Context) { fn() })
			return
		}
		go fn()
	})
	a.run = runner.New(runner.Config{
		Executable:  cfg.Runner.Executable,
		ScriptsDir:  cfg.Runner.ScriptsDir,
		RunTimeout:  runTimeout,
		OutputLimit: cfg.Runner.OutputLimit,
	}, a.log.With(logx.String("comp", "runner")), a.bus, a.runs, spawn)

	a.reg = registry.New()
	a.eng = engine.New(engine.Config{Timezone: cfg.Scheduler.Timezone},
		a.store, a.reg, a.run, a.log.With(logx.String("comp", "engine")), a.bus)

	readT, _ := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	writeT, _ := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	idleT, _ := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	a.api = httpapi.New(httpapi.Config{
		Addr:          cfg.Server.Addr,
		PublicDir:     cfg.Server.PublicDir,
		LogsDir:       cfg.Logging.Dir,
		ScriptsDir:    cfg.Runner.ScriptsDir,
		RunRatePerMin: cfg.Server.RunRatePerMin,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		ReadTimeout:   readT,
		WriteTimeout:  writeT,
		IdleTimeout:   idleT,
	}, a.eng, a.store, a.runs, a.log.With(logx.String("comp", "http")))

	if nc := cfg.Notifier; nc != nil && nc.Enabled {
		sender, err := notifier.NewTelegramSender(nc.Token, nc.ChatID)
		if err != nil {
			return nil, err
		}
		a.notif = notifier.New(notifier.Config{
			Enabled:    true,
			Token:      nc.Token,
			ChatID:     nc.ChatID,
			RatePerSec: nc.RatePerSec,
		}, sender, a.log.With(logx.String("comp", "notifier")), a.bus)
	}

	return a, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	// Rehydrate triggers from disk before serving traffic, matching the
	// state the API will report.
	a.eng.Initialize()
	a.eng.Start()

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}

	a.api.Start(a.httpErr)
	a.sup.Go("http.serve", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case err := <-a.httpErr:
			return err
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.sup.GoRestart("config.watch", a.cfgm.Watch)

		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
	}

	// Bus events at debug level for operational visibility.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("service started",
		logx.String("addr", a.cfg.Server.Addr),
		logx.Int("armed", a.eng.Armed()))
	return nil
}

// reloadLoop applies hot-reloadable sections of a republished config.
// Logging changes take effect immediately; anything else is reported and
// needs a restart, since triggers and listeners are armed at start.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case extra, ok := <-sub:
					if !ok {
						return
					}
					newCfg = extra
					continue
				default:
				}
				break
			}

			changed, attrs := config.SummarizeConfigChange(last, newCfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
					a.log.Info("logging reconfigured", logx.String("level", newCfg.Logging.Level))
				default:
					a.log.Warn("section change requires restart", logx.String("section", section))
				}
			}
			last = newCfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.api != nil {
		_ = a.api.Shutdown(ctx)
	}
	if a.notif != nil {
		a.notif.Stop()
	}
	if a.eng != nil {
		a.eng.Stop()
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}

	if a.runs != nil {
		_ = a.runs.Close()
	}
	a.log.Info("service stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
