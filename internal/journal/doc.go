// Package journal persists connection state transitions to Postgres.
//
// Transitions are appended to an in-memory batch and flushed either
// when the batch fills or on a timer, never from the caller's
// goroutine. Rows are append-only.
package journal
