// Package logx configures fmesched's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - The scheduler log file append-only, line-oriented and plain-text,
//     so the web log viewer can stream it as-is
package logx
