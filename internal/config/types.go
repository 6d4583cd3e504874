package config

// Config is the root daemon configuration. It decodes strictly: unknown
// fields are rejected so typos fail fast instead of silently disabling
// features.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the persistence backend for households, members,
	// tasks, and executions.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the background auto-assign sweep.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier controls the async notification pipeline. If the whole
	// section is omitted, the notifier defaults to disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   dependency-free file backend (snapshot + journal)
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./choreboard.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the scheduled auto-assign sweep.
//
// Schedule accepts a cron expression ("0 6 * * MON"), an interval duration
// ("12h"), or HH:MM treated as an interval ("06:00").
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Timezone    string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"
	Workers     int    `json:"workers,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	// AutoAssignSchedule defaults to "0 6 * * MON" (Monday 06:00).
	AutoAssignSchedule string `json:"auto_assign_schedule,omitempty"`

	// JobTimeout bounds a single sweep. Go duration string, default "1m".
	JobTimeout string `json:"job_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}
