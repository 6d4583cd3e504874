// Package chores orchestrates household chore operations: it loads state
// from storage, runs the pure recurrence/completion/assignment logic, and
// persists the results, with per-household write serialization, audit
// entries, and notifications along the way.
package chores
