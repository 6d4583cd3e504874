package recurrence

import (
	"errors"
	"strings"

	"choreboard/internal/chore"
)

// Frequency is the base recurrence frequency of a rule.
type Frequency int

const (
	Unsupported Frequency = iota
	Daily
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return "UNSUPPORTED"
	}
}

// ErrEmptyWeekdaySet is returned by BuildWeeklyRule when given no days.
// Building a weekly rule without days is a programming error, not a
// degradable input.
var ErrEmptyWeekdaySet = errors.New("weekly rule requires at least one weekday")

// Pattern is the structured form of a rule. It is recomputed from rule text
// on every access and never cached on an entity.
//
// Weekdays is populated only for Weekly rules with a BYDAY list, preserving
// the order the rule text declares (deduplicated).
type Pattern struct {
	Frequency Frequency
	Weekdays  []Weekday
}

// AutoAssignable reports whether the pattern qualifies for fair
// auto-assignment: weekly frequency with a non-empty weekday set.
func (p Pattern) AutoAssignable() bool {
	return p.Frequency == Weekly && len(p.Weekdays) > 0
}

// On reports whether the pattern's weekday set contains d.
func (p Pattern) On(d Weekday) bool {
	for _, w := range p.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

var unsupported = Pattern{Frequency: Unsupported}

// Parse interprets rule text tolerantly. Any malformed or unrecognized input
// yields the Unsupported pattern; Parse never fails.
func Parse(ruleText string) Pattern {
	s := strings.TrimSpace(ruleText)
	if s == "" {
		return unsupported
	}

	var (
		freq     Frequency
		hasFreq  bool
		weekdays []Weekday
		hasByDay bool
	)

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return unsupported
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			if hasFreq {
				return unsupported
			}
			switch strings.ToUpper(value) {
			case "DAILY":
				freq = Daily
			case "WEEKLY":
				freq = Weekly
			case "MONTHLY":
				freq = Monthly
			case "YEARLY":
				freq = Yearly
			default:
				return unsupported
			}
			hasFreq = true
		case "BYDAY":
			if hasByDay {
				return unsupported
			}
			days, ok := parseByDay(value)
			if !ok {
				return unsupported
			}
			weekdays = days
			hasByDay = true
		default:
			// EXDATE, COUNT, UNTIL, INTERVAL, ... are out of scope.
			return unsupported
		}
	}

	if !hasFreq {
		return unsupported
	}
	// BYDAY is only meaningful on weekly rules; elsewhere it marks a rule
	// shape this subset does not cover.
	if hasByDay && freq != Weekly {
		return unsupported
	}
	if freq != Weekly {
		return Pattern{Frequency: freq}
	}
	return Pattern{Frequency: Weekly, Weekdays: weekdays}
}

func parseByDay(value string) ([]Weekday, bool) {
	if strings.TrimSpace(value) == "" {
		return nil, false
	}
	var days []Weekday
	for _, code := range strings.Split(value, ",") {
		d, ok := weekdayFromCode(code)
		if !ok {
			return nil, false
		}
		if !containsWeekday(days, d) {
			days = append(days, d)
		}
	}
	return days, true
}

func containsWeekday(days []Weekday, d Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// IsWeekly reports whether ruleText parses to a weekly rule.
func IsWeekly(ruleText string) bool {
	return Parse(ruleText).Frequency == Weekly
}

// WeekdaysOf returns the BYDAY weekday set of a weekly rule, empty otherwise.
func WeekdaysOf(ruleText string) []Weekday {
	p := Parse(ruleText)
	if p.Frequency != Weekly {
		return nil
	}
	return p.Weekdays
}

// IsAutoAssignable reports whether ruleText is a weekly rule with a non-empty
// BYDAY set.
func IsAutoAssignable(ruleText string) bool {
	return Parse(ruleText).AutoAssignable()
}

// BuildWeeklyRule constructs canonical rule text for the given weekdays,
// preserving the supplied order. At least one valid weekday is required.
func BuildWeeklyRule(days ...Weekday) (string, error) {
	if len(days) == 0 {
		return "", ErrEmptyWeekdaySet
	}
	codes := make([]string, 0, len(days))
	for _, d := range days {
		if !d.valid() {
			return "", ErrEmptyWeekdaySet
		}
		codes = append(codes, d.Code())
	}
	return "FREQ=WEEKLY;BYDAY=" + strings.Join(codes, ","), nil
}

// GroupTasksByWeekday buckets auto-assignable tasks by the weekdays their
// rules name. A Mon/Wed/Fri task appears in three buckets. Tasks whose rules
// are not auto-assignable are silently excluded.
func GroupTasksByWeekday(tasks []chore.Task) map[Weekday][]chore.Task {
	groups := make(map[Weekday][]chore.Task)
	for _, t := range tasks {
		p := Parse(t.RecurrenceRule)
		if !p.AutoAssignable() {
			continue
		}
		for _, d := range p.Weekdays {
			groups[d] = append(groups[d], t)
		}
	}
	return groups
}
