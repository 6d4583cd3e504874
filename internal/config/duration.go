package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string from a config field such as
// storage.busy_timeout or notifier.dedup_window. An empty or whitespace-only
// value means "unset" and parses to zero. Negative durations are rejected.
// path only labels the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback: an unset
// field resolves to def. scheduler.job_timeout and the notifier retry fields
// go through this so omitting them keeps the built-in default.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
