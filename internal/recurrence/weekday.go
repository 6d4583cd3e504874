package recurrence

import (
	"strings"
	"time"
)

// Weekday is the canonical day encoding: Sunday=0 .. Saturday=6.
//
// This matches the numeric order of the BYDAY abbreviations
// SU,MO,TU,WE,TH,FR,SA and round-trips through rule text, so the mapping
// must never change.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Code returns the two-letter BYDAY abbreviation, or "" for out-of-range values.
func (d Weekday) Code() string {
	if d < Sunday || d > Saturday {
		return ""
	}
	return weekdayCodes[d]
}

func (d Weekday) String() string {
	switch d {
	case Sunday:
		return "Sunday"
	case Monday:
		return "Monday"
	case Tuesday:
		return "Tuesday"
	case Wednesday:
		return "Wednesday"
	case Thursday:
		return "Thursday"
	case Friday:
		return "Friday"
	case Saturday:
		return "Saturday"
	default:
		return "Weekday(?)"
	}
}

func (d Weekday) valid() bool { return d >= Sunday && d <= Saturday }

// weekdayFromCode maps a BYDAY code to a Weekday. Codes are matched
// case-insensitively after trimming.
func weekdayFromCode(code string) (Weekday, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range weekdayCodes {
		if c == code {
			return Weekday(i), true
		}
	}
	return 0, false
}

// FromTime converts a time.Weekday (which also numbers Sunday=0).
func FromTime(d time.Weekday) Weekday { return Weekday(d) }
