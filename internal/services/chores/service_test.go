package chores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"choreboard/internal/chore"
	"choreboard/internal/storage"
	logx "choreboard/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "chores.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, logx.Nop(), nil, nil)
	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return svc
}

func seedHousehold(t *testing.T, svc *Service, users ...string) string {
	t.Helper()
	ctx := context.Background()
	h, err := svc.CreateHousehold(ctx, "Test House", users[0], "Owner")
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	for _, u := range users[1:] {
		if _, err := svc.AddMember(ctx, h.ID, u, u, chore.RoleMember); err != nil {
			t.Fatalf("add member %s: %v", u, err)
		}
	}
	return h.ID
}

func TestCompleteGatesPerPeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1", "u2")

	task, err := svc.CreateTask(ctx, hid, "Dishes", chore.TaskRegular, "FREQ=WEEKLY;BYDAY=MO")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	monday := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return monday }

	exec, err := svc.Complete(ctx, hid, task.ID, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !exec.Counted || exec.UserID != "u1" {
		t.Fatalf("execution = %+v", exec)
	}

	// Same week, different member: still blocked.
	thursday := monday.Add(72 * time.Hour)
	svc.now = func() time.Time { return thursday }
	if _, err := svc.Complete(ctx, hid, task.ID, "u2"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	// Invalidation reopens the period.
	ids, err := svc.Invalidate(ctx, hid, task.ID, "u2")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if len(ids) != 1 || ids[0] != exec.ID {
		t.Fatalf("invalidated ids = %v", ids)
	}
	if _, err := svc.Complete(ctx, hid, task.ID, "u2"); err != nil {
		t.Fatalf("complete after invalidate: %v", err)
	}

	// Next week is a fresh period.
	nextMonday := monday.AddDate(0, 0, 7)
	svc.now = func() time.Time { return nextMonday }
	if _, err := svc.Complete(ctx, hid, task.ID, "u1"); err != nil {
		t.Fatalf("complete next week: %v", err)
	}
}

func TestCompleteOneTimeDeactivates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1")

	task, err := svc.CreateTask(ctx, hid, "Fix shelf", chore.TaskOneTime, "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := svc.Complete(ctx, hid, task.ID, "u1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := svc.Tasks(ctx, hid)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	var found bool
	for _, tk := range got {
		if tk.ID == task.ID {
			found = true
			if tk.Active {
				t.Fatal("one-time task still active after completion")
			}
		}
	}
	if !found {
		t.Fatal("task missing")
	}

	if _, err := svc.Complete(ctx, hid, task.ID, "u1"); !errors.Is(err, ErrTaskInactive) {
		t.Fatalf("expected ErrTaskInactive, got %v", err)
	}
}

func TestCompleteRejectsNonMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1")

	task, _ := svc.CreateTask(ctx, hid, "Dishes", chore.TaskRegular, "FREQ=DAILY")
	if _, err := svc.Complete(ctx, hid, task.ID, "stranger"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := svc.Complete(ctx, hid, "no-such-task", "u1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMembershipCheckIgnoresListOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	// Ids chosen so the completing members sort first and last.
	hid := seedHousehold(t, svc, "m5", "z9", "a0")

	task, err := svc.CreateTask(ctx, hid, "Dishes", chore.TaskRegular, "FREQ=DAILY")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := svc.Complete(ctx, hid, task.ID, "z9"); err != nil {
		t.Fatalf("complete by last-sorted member: %v", err)
	}
	if _, err := svc.Invalidate(ctx, hid, task.ID, "m5"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.Complete(ctx, hid, task.ID, "a0"); err != nil {
		t.Fatalf("complete by first-sorted member: %v", err)
	}
}

func TestAutoAssignAndPreviewAgree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1", "u2")

	for _, title := range []string{"Dishes", "Vacuum", "Trash", "Laundry"} {
		if _, err := svc.CreateTask(ctx, hid, title, chore.TaskRegular, "FREQ=WEEKLY;BYDAY=MO"); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}

	preview, err := svc.Preview(ctx, hid)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview) != 4 {
		t.Fatalf("preview proposals = %d, want 4", len(preview))
	}

	got, err := svc.AutoAssign(ctx, hid, "u1")
	if err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("assignments = %d, want 4", len(got))
	}
	for _, p := range preview {
		if got[p.TaskID] != p.UserID {
			t.Fatalf("preview and run disagree on %s: %s vs %s", p.TaskID, p.UserID, got[p.TaskID])
		}
	}

	// Fair split and persisted.
	counts := map[string]int{}
	tasks, _ := svc.Tasks(ctx, hid)
	for _, tk := range tasks {
		if tk.AssignedUserID == "" {
			t.Fatalf("task %s left unassigned", tk.ID)
		}
		counts[tk.AssignedUserID]++
	}
	if counts["u1"] != 2 || counts["u2"] != 2 {
		t.Fatalf("split = %v, want 2/2", counts)
	}

	// Second run is a no-op: everything is assigned.
	again, err := svc.AutoAssign(ctx, hid, "u1")
	if err != nil {
		t.Fatalf("second auto-assign: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second run assigned %d tasks, want 0", len(again))
	}
}

func TestReassignExcludesCurrentAssignee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1", "u2", "u3")

	task, _ := svc.CreateTask(ctx, hid, "Dishes", chore.TaskRegular, "FREQ=WEEKLY;BYDAY=MO")
	if _, err := svc.AutoAssign(ctx, hid, "u1"); err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	tasks, _ := svc.Tasks(ctx, hid)
	var current string
	for _, tk := range tasks {
		if tk.ID == task.ID {
			current = tk.AssignedUserID
		}
	}
	if current == "" {
		t.Fatal("task not assigned")
	}

	next, err := svc.Reassign(ctx, hid, task.ID, "u1")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if next == current {
		t.Fatalf("reassigned to the same member %s", next)
	}
}

func TestReassignSingleMemberFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	hid := seedHousehold(t, svc, "u1")

	task, _ := svc.CreateTask(ctx, hid, "Dishes", chore.TaskRegular, "FREQ=WEEKLY;BYDAY=MO")
	if _, err := svc.AutoAssign(ctx, hid, "u1"); err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if _, err := svc.Reassign(ctx, hid, task.ID, "u1"); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestAutoAssignSweepCoversAllHouseholds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	h1 := seedHousehold(t, svc, "a1", "a2")
	h2 := seedHousehold(t, svc, "b1")
	if _, err := svc.CreateTask(ctx, h1, "Dishes", chore.TaskRegular, "FREQ=WEEKLY;BYDAY=MO"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateTask(ctx, h2, "Vacuum", chore.TaskRegular, "FREQ=WEEKLY;BYDAY=TU,SA"); err != nil {
		t.Fatal(err)
	}
	// Daily rules stay out of the fair-assignment batch.
	daily, err := svc.CreateTask(ctx, h2, "Wipe counter", chore.TaskRegular, "FREQ=DAILY")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.AutoAssignSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, hid := range []string{h1, h2} {
		tasks, _ := svc.Tasks(ctx, hid)
		for _, tk := range tasks {
			if tk.ID == daily.ID {
				if tk.AssignedUserID != "" {
					t.Fatalf("daily task picked up by sweep: %+v", tk)
				}
				continue
			}
			if tk.AssignedUserID == "" {
				t.Fatalf("household %s task %s unassigned after sweep", hid, tk.ID)
			}
		}
	}
}
