package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the full service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Runner    RunnerConfig    `json:"runner"`

	// Storage enables the optional run-history store. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Notifier enables Telegram alerts for failed runs. Nil means disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type ServerConfig struct {
	Addr      string `json:"addr"`       // default ":3000"
	PublicDir string `json:"public_dir"` // static UI assets, default "./public"

	// RunRatePerMin throttles manual run-script requests. 0 keeps the default.
	RunRatePerMin int `json:"run_rate_per_min,omitempty"`

	// MaxUploadMB caps a single workbench upload. 0 keeps the default.
	MaxUploadMB int `json:"max_upload_mb,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// Dir is the directory the log viewer endpoints expose. Defaults to the
	// directory of File.Path.
	Dir string `json:"dir,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SchedulerConfig struct {
	// JobsFile is the persisted job definitions document.
	JobsFile string `json:"jobs_file"`
	// Timezone is the IANA zone cron triggers evaluate in. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

type RunnerConfig struct {
	// Executable is the FME command, default "fme".
	Executable string `json:"executable"`
	// ScriptsDir holds the uploaded .fmw workbenches, default "./scripts".
	ScriptsDir string `json:"scripts_dir"`
	// RunTimeout bounds one execution; "0s" or empty disables the bound.
	RunTimeout string `json:"run_timeout,omitempty"`
	// OutputLimit caps captured output bytes per run. 0 keeps the default.
	OutputLimit int `json:"output_limit,omitempty"`
}

// StorageConfig controls the optional run-history layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Default returns the configuration used when no config file exists. The
// paths match the layout the service creates on first start.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero fields with defaults, in place.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":3000"
	}
	if strings.TrimSpace(c.Server.PublicDir) == "" {
		c.Server.PublicDir = "./public"
	}
	if c.Server.RunRatePerMin <= 0 {
		c.Server.RunRatePerMin = 10
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 50
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = "./logs/scheduler.log"
		c.Logging.File.Enabled = true
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = filepath.Dir(c.Logging.File.Path)
	}

	if strings.TrimSpace(c.Scheduler.JobsFile) == "" {
		c.Scheduler.JobsFile = "./data/scheduled_jobs.json"
	}

	if strings.TrimSpace(c.Runner.Executable) == "" {
		c.Runner.Executable = "fme"
	}
	if strings.TrimSpace(c.Runner.ScriptsDir) == "" {
		c.Runner.ScriptsDir = "./scripts"
	}
}

// Validate rejects configurations that cannot be applied. It is also the
// gate Watch() uses before publishing a reloaded file.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"runner.run_timeout", c.Runner.RunTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if s := c.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		switch strings.TrimSpace(strings.ToLower(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if n := c.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return errors.New("notifier.token is required when notifier.enabled")
		}
		if n.ChatID == 0 {
			return errors.New("notifier.chat_id is required when notifier.enabled")
		}
	}
	return nil
}
