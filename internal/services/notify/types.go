package notify

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one message for a household member.
//
// UserID may be empty for household-wide announcements. Kind groups related
// messages for dedup (same kind + user + text within the window is sent once).
type Notification struct {
	HouseholdID string
	UserID      string
	Kind        string // "assigned", "reassigned", "completed", "invalidated"
	Text        string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// Event is emitted on the event bus for pipeline lifecycle events.
type Event struct {
	HouseholdID string    `json:"household_id"`
	UserID      string    `json:"user_id,omitempty"`
	Kind        string    `json:"kind"`
	Key         string    `json:"key"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}
