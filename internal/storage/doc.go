// Package storage persists households, members, tasks, and executions.
//
// It currently supports:
//   - SQLite (default driver)
//   - A dependency-free file backend (snapshot + journal)
//
// Both drivers also carry assignment audit appends and notifier dedup state.
package storage
