package completion

import (
	"errors"
	"testing"
	"time"

	"choreboard/internal/chore"
)

var thursday = time.Date(2024, time.March, 14, 10, 0, 0, 0, time.UTC)

func weeklyTask(id string) chore.Task {
	return chore.Task{
		ID:             id,
		Type:           chore.TaskRegular,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		Active:         true,
	}
}

func TestCanCompleteRegular(t *testing.T) {
	t.Parallel()
	task := weeklyTask("dishes")
	mondaySameWeek := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	mondayLastWeek := time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		history []chore.Execution
		want    bool
	}{
		{name: "no history", want: true},
		{
			name:    "counted this week blocks",
			history: []chore.Execution{{ID: "e1", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: true}},
			want:    false,
		},
		{
			name:    "uncounted this week allows",
			history: []chore.Execution{{ID: "e1", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: false}},
			want:    true,
		},
		{
			name:    "counted last week allows",
			history: []chore.Execution{{ID: "e1", TaskID: "dishes", CompletedAt: mondayLastWeek, Counted: true}},
			want:    true,
		},
		{
			name:    "other task's execution ignored",
			history: []chore.Execution{{ID: "e1", TaskID: "laundry", CompletedAt: mondaySameWeek, Counted: true}},
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanComplete(task, tt.history, thursday)
			if err != nil {
				t.Fatalf("CanComplete error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanComplete = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanCompleteOneTime(t *testing.T) {
	t.Parallel()
	task := chore.Task{ID: "fix-door", Type: chore.TaskOneTime, Active: true}

	ok, err := CanComplete(task, nil, thursday)
	if err != nil || !ok {
		t.Fatalf("active one-time task: got %v, %v", ok, err)
	}
	if !DeactivateOnComplete(task) {
		t.Fatal("one-time completion must signal deactivation")
	}

	task.Active = false
	ok, err = CanComplete(task, nil, thursday)
	if err != nil || ok {
		t.Fatalf("inactive one-time task: got %v, %v", ok, err)
	}
}

func TestCanCompleteNoDeactivationForRegular(t *testing.T) {
	t.Parallel()
	if DeactivateOnComplete(weeklyTask("dishes")) {
		t.Fatal("regular completion must not signal deactivation")
	}
}

func TestCanCompleteUnsupportedRule(t *testing.T) {
	t.Parallel()
	task := weeklyTask("dishes")
	task.RecurrenceRule = "garbage"
	if _, err := CanComplete(task, nil, thursday); !errors.Is(err, ErrUnsupportedRecurrence) {
		t.Fatalf("error = %v, want ErrUnsupportedRecurrence", err)
	}
}

func TestCanCompleteAllFrequencies(t *testing.T) {
	t.Parallel()
	// Period gating holds for all four frequencies, not just weekly.
	tests := []struct {
		name    string
		rule    string
		inside  time.Time
		outside time.Time
	}{
		{
			name:    "daily",
			rule:    "FREQ=DAILY",
			inside:  time.Date(2024, time.March, 14, 1, 0, 0, 0, time.UTC),
			outside: time.Date(2024, time.March, 13, 23, 0, 0, 0, time.UTC),
		},
		{
			name:    "monthly",
			rule:    "FREQ=MONTHLY",
			inside:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			outside: time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "yearly",
			rule:    "FREQ=YEARLY",
			inside:  time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC),
			outside: time.Date(2023, time.December, 31, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			task := weeklyTask("t")
			task.RecurrenceRule = tt.rule

			blocked, err := CanComplete(task, []chore.Execution{{ID: "e", TaskID: "t", CompletedAt: tt.inside, Counted: true}}, thursday)
			if err != nil {
				t.Fatalf("CanComplete error: %v", err)
			}
			if blocked {
				t.Fatal("in-period counted execution must block")
			}

			allowed, err := CanComplete(task, []chore.Execution{{ID: "e", TaskID: "t", CompletedAt: tt.outside, Counted: true}}, thursday)
			if err != nil {
				t.Fatalf("CanComplete error: %v", err)
			}
			if !allowed {
				t.Fatal("out-of-period execution must not block")
			}
		})
	}
}

func TestInvalidateCurrentPeriod(t *testing.T) {
	t.Parallel()
	task := weeklyTask("dishes")
	mondaySameWeek := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	lastWeek := time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

	history := []chore.Execution{
		{ID: "old", TaskID: "dishes", CompletedAt: lastWeek, Counted: true},
		{ID: "cur", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: true},
		{ID: "already", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: false},
		{ID: "other", TaskID: "laundry", CompletedAt: mondaySameWeek, Counted: true},
	}

	ids, err := InvalidateCurrentPeriod(task, history, thursday)
	if err != nil {
		t.Fatalf("InvalidateCurrentPeriod error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "cur" {
		t.Fatalf("ids = %v, want [cur]", ids)
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	t.Parallel()
	task := weeklyTask("dishes")
	mondaySameWeek := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)

	history := []chore.Execution{{ID: "cur", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: true}}

	ids, err := InvalidateCurrentPeriod(task, history, thursday)
	if err != nil {
		t.Fatalf("first invalidation error: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v", ids)
	}

	// Caller applies the uncount; the second call finds nothing.
	history[0].Counted = false
	if _, err := InvalidateCurrentPeriod(task, history, thursday); !errors.Is(err, ErrNothingToInvalidate) {
		t.Fatalf("second invalidation error = %v, want ErrNothingToInvalidate", err)
	}
}

func TestInvalidateValidationFailures(t *testing.T) {
	t.Parallel()
	mondaySameWeek := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)

	t.Run("one-time task", func(t *testing.T) {
		task := chore.Task{ID: "fix-door", Type: chore.TaskOneTime, Active: true}
		if _, err := InvalidateCurrentPeriod(task, nil, thursday); !errors.Is(err, ErrNotRegular) {
			t.Fatalf("error = %v, want ErrNotRegular", err)
		}
	})

	t.Run("unsupported rule", func(t *testing.T) {
		task := weeklyTask("dishes")
		task.RecurrenceRule = "FREQ=HOURLY"
		history := []chore.Execution{{ID: "cur", TaskID: "dishes", CompletedAt: mondaySameWeek, Counted: true}}
		if _, err := InvalidateCurrentPeriod(task, history, thursday); !errors.Is(err, ErrUnsupportedRecurrence) {
			t.Fatalf("error = %v, want ErrUnsupportedRecurrence", err)
		}
	})

	t.Run("nothing counted in period", func(t *testing.T) {
		task := weeklyTask("dishes")
		if _, err := InvalidateCurrentPeriod(task, nil, thursday); !errors.Is(err, ErrNothingToInvalidate) {
			t.Fatalf("error = %v, want ErrNothingToInvalidate", err)
		}
	})
}

func TestCompleteInvalidateCompleteCycle(t *testing.T) {
	t.Parallel()
	// Completed Monday, blocked Thursday, invalidated, completable again.
	task := weeklyTask("dishes")
	monday := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	history := []chore.Execution{{ID: "e1", TaskID: "dishes", CompletedAt: monday, Counted: true}}

	ok, err := CanComplete(task, history, thursday)
	if err != nil {
		t.Fatalf("CanComplete error: %v", err)
	}
	if ok {
		t.Fatal("counted Monday execution should block Thursday completion")
	}

	ids, err := InvalidateCurrentPeriod(task, history, thursday)
	if err != nil {
		t.Fatalf("InvalidateCurrentPeriod error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("ids = %v, want [e1]", ids)
	}

	history[0].Counted = false
	ok, err = CanComplete(task, history, thursday)
	if err != nil {
		t.Fatalf("CanComplete error: %v", err)
	}
	if !ok {
		t.Fatal("completion should be allowed after invalidation")
	}
}
