package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestParseYAMLFillsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
server:
  addr: ":8080"
logging:
  level: debug
  console: true
scheduler:
  timezone: "UTC"
runner:
  scripts_dir: "/srv/fme/scripts"
`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Runner.Executable != "fme" {
		t.Fatalf("Executable default missing: %q", cfg.Runner.Executable)
	}
	if cfg.Scheduler.JobsFile != "./data/scheduled_jobs.json" {
		t.Fatalf("JobsFile default missing: %q", cfg.Scheduler.JobsFile)
	}
	if cfg.Logging.Dir != filepath.Dir(cfg.Logging.File.Path) {
		t.Fatalf("Logging.Dir = %q, want dir of %q", cfg.Logging.Dir, cfg.Logging.File.Path)
	}
	if cfg.Server.RunRatePerMin <= 0 || cfg.Server.MaxUploadMB <= 0 {
		t.Fatalf("server limits not defaulted: %+v", cfg.Server)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  adress: \":3000\"\n")

	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"bad duration": "runner:\n  run_timeout: \"soon\"\n",
		"bad timezone": "scheduler:\n  timezone: \"Mars/Olympus\"\n",
		"bad driver":   "storage:\n  driver: \"etcd\"\n  path: \"x\"\n",
		"notifier on without token": strings.Join([]string{
			"notifier:",
			"  enabled: true",
			"  chat_id: 42",
		}, "\n"),
	} {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, body)
			if _, err := NewConfigManager(path).Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration must fail")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Server.Addr = ":9999"
	newCfg.Runner.Executable = "/opt/fme/fme"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"runner", "server"}
	if len(changed) != len(want) || changed[0] != want[0] || changed[1] != want[1] {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}

	if c, _ := SummarizeConfigChange(oldCfg, oldCfg); len(c) != 0 {
		t.Fatalf("identical configs reported changes: %v", c)
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "server:\n  addr: \":3000\"\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a beat to attach before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "server:\n  addr: \":4000\"\n")

	select {
	case cfg := <-ch:
		if cfg.Server.Addr != ":4000" {
			t.Fatalf("published Addr = %q", cfg.Server.Addr)
		}
		if m.Get().Server.Addr != ":4000" {
			t.Fatalf("Get() not committed: %q", m.Get().Server.Addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload publish")
	}
}
