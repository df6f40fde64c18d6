// Package logx configures carelink's structured logging.
//
// The pipeline uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Noisy call sites throttled (Throttle) so a flapping transport cannot flood the log
package logx
