// Package recurrence interprets the RRULE subset used by chore tasks.
//
// Supported grammar:
//
//	FREQ=<DAILY|WEEKLY|MONTHLY|YEARLY>[;BYDAY=<two-letter day codes>]
//
// Parsing is total: malformed or unrecognized text never returns an error,
// it yields a pattern with Frequency == Unsupported whose predicates answer
// false/empty. Callers that cannot proceed without a valid rule (period
// math, invalidation) reject on the Unsupported sentinel instead.
package recurrence
