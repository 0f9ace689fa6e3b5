// Package ledger records every memoized task invocation: its identity,
// lifecycle status, timestamps and a pointer to its stored result.
//
// Status moves PENDING -> RUNNING -> COMPLETED | FAILED and never back.
// Concurrent callers in different processes are reconciled by the store
// alone: creation is insert-or-detect-conflict against a unique index over
// non-terminal rows, and transitions are compare-and-set updates on status.
//
// Quick start:
//  1. Open a ledger with OpenSQLite(ctx, path), or wrap an existing *sql.DB
//     with NewSQLStore(db) and call Migrate.
//  2. CreateTask, StartTask and CompleteTask drive one invocation.
//  3. FindCompleted answers cache lookups, List serves observability.
package ledger
