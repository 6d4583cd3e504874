package assign

import (
	"sort"

	"choreboard/internal/chore"
	"choreboard/internal/recurrence"
)

// Ledger maps member user-id to the member's current count of assigned
// active tasks. It is built fresh per assignment run and never persisted.
type Ledger map[string]int

// Clone returns an independent copy so batch runs can thread their own
// working counts without touching the caller's snapshot.
func (l Ledger) Clone() Ledger {
	cp := make(Ledger, len(l))
	for k, v := range l {
		cp[k] = v
	}
	return cp
}

// NewLedger counts active, assigned tasks per member. Members with no
// assigned tasks appear with a zero count so they compete for work.
func NewLedger(members []chore.Member, tasks []chore.Task) Ledger {
	l := make(Ledger, len(members))
	for _, m := range members {
		l[m.UserID] = 0
	}
	for _, t := range tasks {
		if !t.Active || t.AssignedUserID == "" {
			continue
		}
		if _, ok := l[t.AssignedUserID]; ok {
			l[t.AssignedUserID]++
		}
	}
	return l
}

// Proposal is one suggested assignment from a preview run.
type Proposal struct {
	TaskID string
	UserID string
}

// SuggestAssignee picks the member with the lowest current load. Ties break
// deterministically toward the lowest user id, so repeated calls with
// unchanged state give identical results.
//
// Returns false when no member is eligible.
func SuggestAssignee(members []chore.Member, load Ledger) (string, bool) {
	return pickLeastLoaded(members, load, "")
}

// ReassignToNext picks the next member in rotation for a task: the least
// loaded member excluding the task's current assignee for this call only.
func ReassignToNext(task chore.Task, members []chore.Member, load Ledger) (string, bool) {
	return pickLeastLoaded(members, load, task.AssignedUserID)
}

func pickLeastLoaded(members []chore.Member, load Ledger, exclude string) (string, bool) {
	best := ""
	bestLoad := 0
	for _, m := range members {
		if m.UserID == "" || m.UserID == exclude {
			continue
		}
		n := load[m.UserID]
		if best == "" || n < bestLoad || (n == bestLoad && m.UserID < best) {
			best = m.UserID
			bestLoad = n
		}
	}
	return best, best != ""
}

// AutoAssignAll assigns every active, unassigned, auto-assignable task to the
// least loaded member, updating the working ledger after each pick so load
// balances across the whole batch rather than against the pre-run snapshot.
//
// The returned map is complete and internally consistent; the caller persists
// it. Tasks already assigned are left untouched. With zero eligible members
// the result is empty, not an error.
func AutoAssignAll(members []chore.Member, tasks []chore.Task, load Ledger) map[string]string {
	if len(members) == 0 {
		return map[string]string{}
	}
	working := load.Clone()
	result := make(map[string]string)

	for _, t := range eligibleTasks(tasks) {
		userID, ok := pickLeastLoaded(members, working, "")
		if !ok {
			break
		}
		result[t.ID] = userID
		working[userID]++
	}
	return result
}

// PreviewAutoAssign runs the exact same computation as AutoAssignAll and
// returns the proposals without anything for the caller to persist. Sharing
// the code path guarantees the preview can never drift from the real run.
func PreviewAutoAssign(members []chore.Member, tasks []chore.Task, load Ledger) []Proposal {
	assignments := AutoAssignAll(members, tasks, load)
	out := make([]Proposal, 0, len(assignments))
	for taskID, userID := range assignments {
		out = append(out, Proposal{TaskID: taskID, UserID: userID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// eligibleTasks filters and orders the batch: active, unassigned, regular
// tasks with an auto-assignable rule, in stable task-id order so the batch is
// deterministic regardless of input ordering.
func eligibleTasks(tasks []chore.Task) []chore.Task {
	out := make([]chore.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Active || t.AssignedUserID != "" {
			continue
		}
		if t.Type != chore.TaskRegular {
			continue
		}
		if !recurrence.IsAutoAssignable(t.RecurrenceRule) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
