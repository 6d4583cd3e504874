// Package completion decides whether a task completion may be recorded now,
// and which prior executions an owner-triggered invalidation must uncount.
//
// The gate is pure: it inspects a task and its already-loaded execution
// history and returns decisions; persisting the outcome is the caller's job.
package completion

import (
	"errors"
	"fmt"
	"time"

	"choreboard/internal/chore"
	"choreboard/internal/period"
)

var (
	// ErrNotRegular is returned when a period-based operation is applied to
	// a task that is not of the regular (recurring) type.
	ErrNotRegular = errors.New("task is not a regular task")

	// ErrUnsupportedRecurrence is returned when the task's rule has no
	// recognized frequency; period-based invalidation cannot proceed.
	ErrUnsupportedRecurrence = errors.New("task recurrence does not support period-based invalidation")

	// ErrNothingToInvalidate is returned when no counted execution falls in
	// the current period.
	ErrNothingToInvalidate = errors.New("no counted execution in the current period")
)

// CanComplete reports whether completing the task now is allowed.
//
// Regular tasks admit at most one counted execution per current period; the
// answer is false while such an execution exists. One-time tasks are
// completable whenever they are active.
//
// Inactive tasks are never completable. For a Regular task whose recurrence
// is unsupported the period cannot be computed and an error is returned.
func CanComplete(task chore.Task, history []chore.Execution, now time.Time) (bool, error) {
	if !task.Active {
		return false, nil
	}
	if task.Type == chore.TaskOneTime {
		return true, nil
	}
	if task.Type != chore.TaskRegular {
		return false, fmt.Errorf("%w: type %q", ErrNotRegular, task.Type)
	}

	bounds, err := period.ForRule(task.RecurrenceRule, now)
	if err != nil {
		if errors.Is(err, period.ErrUnsupportedFrequency) {
			return false, fmt.Errorf("%w: task %s rule %q", ErrUnsupportedRecurrence, task.ID, task.RecurrenceRule)
		}
		return false, err
	}

	for _, e := range history {
		if e.TaskID != task.ID || !e.Counted {
			continue
		}
		if bounds.Contains(e.CompletedAt.UTC()) {
			return false, nil
		}
	}
	return true, nil
}

// DeactivateOnComplete reports whether completing the task must deactivate
// it. Completing a one-time task is terminal; the task entity owner performs
// the deactivation and observes this signal.
func DeactivateOnComplete(task chore.Task) bool {
	return task.Type == chore.TaskOneTime
}

// InvalidateCurrentPeriod selects every counted execution inside the task's
// current period and returns their ids for the caller to mark uncounted.
//
// Already-uncounted executions are never re-selected, so repeated calls are
// idempotent: the second call fails with ErrNothingToInvalidate rather than
// double-uncounting.
func InvalidateCurrentPeriod(task chore.Task, history []chore.Execution, now time.Time) ([]string, error) {
	if task.Type != chore.TaskRegular {
		return nil, fmt.Errorf("%w: type %q", ErrNotRegular, task.Type)
	}

	bounds, err := period.ForRule(task.RecurrenceRule, now)
	if err != nil {
		if errors.Is(err, period.ErrUnsupportedFrequency) {
			return nil, fmt.Errorf("%w: task %s rule %q", ErrUnsupportedRecurrence, task.ID, task.RecurrenceRule)
		}
		return nil, err
	}

	var ids []string
	for _, e := range history {
		if e.TaskID != task.ID || !e.Counted {
			continue
		}
		if bounds.Contains(e.CompletedAt.UTC()) {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: task %s", ErrNothingToInvalidate, task.ID)
	}
	return ids, nil
}
