package chore

import "time"

// TaskType distinguishes recurring chores from one-shot ones.
type TaskType string

const (
	TaskRegular TaskType = "regular"
	TaskOneTime TaskType = "one_time"
)

// Role of a household member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

type Household struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Member struct {
	UserID      string
	HouseholdID string
	Name        string
	Role        Role
	JoinedAt    time.Time
}

// Task is a household chore. RecurrenceRule holds the raw RRULE text
// ("FREQ=WEEKLY;BYDAY=MO,WE,FR"); it is interpreted on every access and
// never cached on the entity.
type Task struct {
	ID             string
	HouseholdID    string
	Title          string
	Type           TaskType
	RecurrenceRule string
	Active         bool
	AssignedUserID string // empty = unassigned
	CreatedAt      time.Time
}

// Execution records a single completion of a task.
//
// Counted marks whether this execution currently satisfies the
// one-completion-per-period requirement. Invalidation clears the flag;
// executions are never deleted by invalidation.
type Execution struct {
	ID          string
	TaskID      string
	UserID      string
	CompletedAt time.Time // UTC
	Counted     bool
}
