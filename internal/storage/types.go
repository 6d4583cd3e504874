package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound is returned for lookups of ids that don't resolve. The
	// domain core never sees it; services translate inputs before calling in.
	ErrNotFound = errors.New("record not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   dependency-free file backend (snapshot + journal)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an assignment or completion action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At          time.Time
	HouseholdID string
	ActorUserID string
	Action      string // "complete", "invalidate", "auto_assign", "reassign"
	TaskID      string
	TargetUser  string
	OK          bool
	Error       string
	TookMS      int64
}
