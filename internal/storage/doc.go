package storage

// Package storage persists execution history for scheduled workbench runs.
//
// It currently supports:
//   - Run record appends (one per script invocation, success or failure)
//   - Recent-run queries for the /api/runs endpoint
