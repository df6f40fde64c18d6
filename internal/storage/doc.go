// Package storage persists the contact roster and unread counters so badge
// counts survive a restart. It is best-effort: nothing in the delivery path
// waits on it.
//
// Drivers:
//   - "file": JSON snapshot files, replaced atomically on every save
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//
// An empty driver or "none" disables storage.
package storage
