// Package storage persists entry snapshots across restarts.
//
// Two drivers are available:
//   - "file": a JSON snapshot plus an append-only journal, compacted periodically
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
