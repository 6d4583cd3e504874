// Package period computes the half-open "current period" interval used to
// gate one-completion-per-period semantics. All math is in UTC and pure.
package period

import (
	"errors"
	"fmt"
	"time"

	"choreboard/internal/recurrence"
)

// ErrUnsupportedFrequency is returned when a rule's frequency has no
// period semantics. Only Regular tasks with a recognized frequency support
// period-based invalidation.
var ErrUnsupportedFrequency = errors.New("unsupported recurrence frequency")

// Bounds is the half-open interval [Start, End) containing the reference
// instant.
type Bounds struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether Start <= t < End.
func (b Bounds) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// ForFrequency computes the current period around now for the given
// frequency:
//
//	Daily:   [midnight, midnight+24h)
//	Weekly:  [Monday 00:00, next Monday 00:00), UTC regardless of locale
//	Monthly: [1st of month 00:00, 1st of next month 00:00)
//	Yearly:  [Jan 1 00:00, next Jan 1 00:00)
func ForFrequency(freq recurrence.Frequency, now time.Time) (Bounds, error) {
	now = now.UTC()
	y, m, d := now.Date()

	switch freq {
	case recurrence.Daily:
		start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return Bounds{Start: start, End: start.AddDate(0, 0, 1)}, nil
	case recurrence.Weekly:
		// Days since Monday; time.Weekday numbers Sunday=0.
		offset := (int(now.Weekday()) - int(time.Monday) + 7) % 7
		start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return Bounds{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case recurrence.Monthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return Bounds{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case recurrence.Yearly:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Bounds{Start: start, End: start.AddDate(1, 0, 0)}, nil
	default:
		return Bounds{}, fmt.Errorf("%w: %s", ErrUnsupportedFrequency, freq)
	}
}

// ForRule parses ruleText and computes the current period for its frequency.
func ForRule(ruleText string, now time.Time) (Bounds, error) {
	return ForFrequency(recurrence.Parse(ruleText).Frequency, now)
}
