package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord captures one invocation of an external workbench.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time `json:"at"`
	JobID    string    `json:"job_id,omitempty"` // empty for manual runs
	Script   string    `json:"script"`
	Trigger  string    `json:"trigger"` // "first-run" | "cron" | "manual"
	TookMS   int64     `json:"took_ms"`
	ExitCode int       `json:"exit_code"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	// Output holds captured stdout+stderr, truncated by the runner.
	Output string `json:"output,omitempty"`
}
