// Package storage is the task log repository.
//
// Records are appended by the scheduler when it dispatches a run and when it
// drains terminal records from workers. Conditions read them back with
// filter queries. Drivers:
//   - "memory": in-process slice (default)
//   - "file": JSON Lines file, replayed into memory on open
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
