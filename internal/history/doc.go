// Package history persists the bounded per-task execution record.
//
// Backends:
//   - "file": one JSON document keyed by task name, rewritten atomically on every append
//   - "sqlite": a single table in a SQLite database file
//
// Writes go through a Recorder, which owns the store from a single goroutine.
package history
