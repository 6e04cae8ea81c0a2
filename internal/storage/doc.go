// Package storage persists users, tasks and daily summaries.
//
// Drivers:
//   - sqlite (default): modernc.org/sqlite, WAL, single writer connection
//   - file: JSON snapshot plus an append-only journal, replayed on open
//   - memory: process-local maps, for tests and ephemeral runs
//
// Every driver answers date and window queries with the same predicates in
// query.go, so results do not depend on the backend.
package storage
