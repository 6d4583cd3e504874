package chores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"choreboard/internal/assign"
	"choreboard/internal/chore"
	"choreboard/internal/completion"
	"choreboard/internal/eventbus"
	"choreboard/internal/recurrence"
	"choreboard/internal/services/notify"
	"choreboard/internal/storage"
	logx "choreboard/pkg/logx"
)

var (
	ErrNoStorage         = errors.New("storage not configured")
	ErrHouseholdNotFound = errors.New("household not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotMember         = errors.New("user is not a household member")
	ErrAlreadyCompleted  = errors.New("task already completed in the current period")
	ErrTaskInactive      = errors.New("task is inactive")
	ErrNoCandidate       = errors.New("no assignable member")
)

// Notifier is the subset of the notify service this package needs.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Service orchestrates chore operations against storage.
//
// All writes for one household are serialized through a per-household mutex,
// so read-decide-write sequences (completion gating, batch assignment) never
// interleave.
type Service struct {
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
	notif Notifier

	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

func New(store storage.Store, log logx.Logger, bus eventbus.Bus, notif Notifier) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		store: store,
		bus:   bus,
		notif: notif,
		locks: map[string]*sync.Mutex{},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *Service) lockHousehold(id string) func() {
	s.lmu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.lmu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// ---- household / member / task management ----

func (s *Service) CreateHousehold(ctx context.Context, name, ownerUserID, ownerName string) (chore.Household, error) {
	if s.store == nil {
		return chore.Household{}, ErrNoStorage
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return chore.Household{}, errors.New("household name required")
	}
	if strings.TrimSpace(ownerUserID) == "" {
		return chore.Household{}, errors.New("owner user id required")
	}

	h := chore.Household{ID: s.newID(), Name: name, CreatedAt: s.now().UTC()}
	if err := s.store.PutHousehold(ctx, h); err != nil {
		return chore.Household{}, err
	}
	owner := chore.Member{
		UserID:      ownerUserID,
		HouseholdID: h.ID,
		Name:        strings.TrimSpace(ownerName),
		Role:        chore.RoleOwner,
		JoinedAt:    h.CreatedAt,
	}
	if err := s.store.PutMember(ctx, owner); err != nil {
		return chore.Household{}, err
	}
	s.log.Info("household created", logx.String("household", h.ID), logx.String("owner", ownerUserID))
	return h, nil
}

func (s *Service) AddMember(ctx context.Context, householdID, userID, name string, role chore.Role) (chore.Member, error) {
	if s.store == nil {
		return chore.Member{}, ErrNoStorage
	}
	if _, ok, err := s.store.GetHousehold(ctx, householdID); err != nil {
		return chore.Member{}, err
	} else if !ok {
		return chore.Member{}, ErrHouseholdNotFound
	}
	if strings.TrimSpace(userID) == "" {
		return chore.Member{}, errors.New("user id required")
	}
	if role == "" {
		role = chore.RoleMember
	}
	m := chore.Member{
		UserID:      userID,
		HouseholdID: householdID,
		Name:        strings.TrimSpace(name),
		Role:        role,
		JoinedAt:    s.now().UTC(),
	}
	if err := s.store.PutMember(ctx, m); err != nil {
		return chore.Member{}, err
	}
	return m, nil
}

// CreateTask stores a new task. The recurrence rule may be anything; rules the
// interpreter does not understand keep the task out of auto-assignment but the
// task itself is fine.
func (s *Service) CreateTask(ctx context.Context, householdID, title string, typ chore.TaskType, rule string) (chore.Task, error) {
	if s.store == nil {
		return chore.Task{}, ErrNoStorage
	}
	if _, ok, err := s.store.GetHousehold(ctx, householdID); err != nil {
		return chore.Task{}, err
	} else if !ok {
		return chore.Task{}, ErrHouseholdNotFound
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return chore.Task{}, errors.New("task title required")
	}
	switch typ {
	case chore.TaskRegular, chore.TaskOneTime:
	default:
		return chore.Task{}, fmt.Errorf("unknown task type %q", typ)
	}

	t := chore.Task{
		ID:             s.newID(),
		HouseholdID:    householdID,
		Title:          title,
		Type:           typ,
		RecurrenceRule: strings.TrimSpace(rule),
		Active:         true,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.PutTask(ctx, t); err != nil {
		return chore.Task{}, err
	}
	if t.Type == chore.TaskRegular && !recurrence.IsAutoAssignable(t.RecurrenceRule) {
		s.log.Debug("task rule not auto-assignable", logx.String("task", t.ID), logx.String("rule", t.RecurrenceRule))
	}
	return t, nil
}

func (s *Service) Tasks(ctx context.Context, householdID string) ([]chore.Task, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	return s.store.ListTasks(ctx, householdID)
}

func (s *Service) Members(ctx context.Context, householdID string) ([]chore.Member, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	return s.store.ListMembers(ctx, householdID)
}

// ---- completion ----

// Complete records a counted execution of a task by a household member.
//
// Regular tasks accept one counted execution per recurrence period; a second
// attempt in the same period returns ErrAlreadyCompleted. One-time tasks are
// deactivated after completion.
func (s *Service) Complete(ctx context.Context, householdID, taskID, userID string) (chore.Execution, error) {
	if s.store == nil {
		return chore.Execution{}, ErrNoStorage
	}
	unlock := s.lockHousehold(householdID)
	defer unlock()
	started := s.now()

	task, err := s.taskInHousehold(ctx, householdID, taskID)
	if err != nil {
		return chore.Execution{}, err
	}
	if err := s.requireMember(ctx, householdID, userID); err != nil {
		return chore.Execution{}, err
	}

	history, err := s.store.ListExecutions(ctx, taskID)
	if err != nil {
		return chore.Execution{}, err
	}
	now := s.now()
	ok, err := completion.CanComplete(task, history, now)
	if err != nil {
		s.audit(ctx, householdID, userID, "complete", taskID, "", started, err)
		return chore.Execution{}, err
	}
	if !ok {
		if !task.Active {
			s.audit(ctx, householdID, userID, "complete", taskID, "", started, ErrTaskInactive)
			return chore.Execution{}, ErrTaskInactive
		}
		s.audit(ctx, householdID, userID, "complete", taskID, "", started, ErrAlreadyCompleted)
		return chore.Execution{}, ErrAlreadyCompleted
	}

	exec := chore.Execution{
		ID:          s.newID(),
		TaskID:      taskID,
		UserID:      userID,
		CompletedAt: now.UTC(),
		Counted:     true,
	}
	if err := s.store.AppendExecution(ctx, exec); err != nil {
		return chore.Execution{}, err
	}
	if completion.DeactivateOnComplete(task) {
		if err := s.store.SetTaskActive(ctx, taskID, false); err != nil {
			return chore.Execution{}, err
		}
	}

	s.audit(ctx, householdID, userID, "complete", taskID, "", started, nil)
	s.publish("chores.completed", map[string]any{"household": householdID, "task": taskID, "user": userID})
	s.notifyUser(ctx, householdID, userID, "completed", fmt.Sprintf("%s marked done", task.Title))
	return exec, nil
}

// Invalidate uncounts every counted execution of the task in the current
// period, reopening it for completion. The returned ids identify the
// executions that were uncounted.
func (s *Service) Invalidate(ctx context.Context, householdID, taskID, actorUserID string) ([]string, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	unlock := s.lockHousehold(householdID)
	defer unlock()
	started := s.now()

	task, err := s.taskInHousehold(ctx, householdID, taskID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListExecutions(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ids, err := completion.InvalidateCurrentPeriod(task, history, s.now())
	if err != nil {
		s.audit(ctx, householdID, actorUserID, "invalidate", taskID, "", started, err)
		return nil, err
	}
	if err := s.store.UncountExecutions(ctx, ids); err != nil {
		return nil, err
	}

	s.audit(ctx, householdID, actorUserID, "invalidate", taskID, "", started, nil)
	s.publish("chores.invalidated", map[string]any{"household": householdID, "task": taskID, "count": len(ids)})
	s.notifyUser(ctx, householdID, "", "invalidated", fmt.Sprintf("%s needs doing again", task.Title))
	return ids, nil
}

// ---- assignment ----

// Suggest returns the least-loaded member for a single new assignment without
// persisting anything.
func (s *Service) Suggest(ctx context.Context, householdID string) (string, error) {
	members, tasks, err := s.loadHousehold(ctx, householdID)
	if err != nil {
		return "", err
	}
	userID, ok := assign.SuggestAssignee(members, assign.NewLedger(members, tasks))
	if !ok {
		return "", ErrNoCandidate
	}
	return userID, nil
}

// Preview computes the batch auto-assignment without persisting it. It shares
// the assignment code with AutoAssign, so a preview always matches what a
// subsequent run would do against unchanged data.
func (s *Service) Preview(ctx context.Context, householdID string) ([]assign.Proposal, error) {
	members, tasks, err := s.loadHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	return assign.PreviewAutoAssign(members, tasks, assign.NewLedger(members, tasks)), nil
}

// AutoAssign assigns every eligible unassigned task to the least-loaded
// member and persists the batch atomically.
func (s *Service) AutoAssign(ctx context.Context, householdID, actorUserID string) (map[string]string, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	unlock := s.lockHousehold(householdID)
	defer unlock()
	started := s.now()

	members, tasks, err := s.loadHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	assignments := assign.AutoAssignAll(members, tasks, assign.NewLedger(members, tasks))
	if len(assignments) == 0 {
		s.audit(ctx, householdID, actorUserID, "auto_assign", "", "", started, nil)
		return assignments, nil
	}
	if err := s.store.AssignTasks(ctx, assignments); err != nil {
		s.audit(ctx, householdID, actorUserID, "auto_assign", "", "", started, err)
		return nil, err
	}

	s.audit(ctx, householdID, actorUserID, "auto_assign", "", "", started, nil)
	s.publish("chores.assigned", map[string]any{"household": householdID, "count": len(assignments)})

	titles := map[string]string{}
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}
	for taskID, userID := range assignments {
		s.notifyUser(ctx, householdID, userID, "assigned", fmt.Sprintf("%s is yours", titles[taskID]))
	}
	return assignments, nil
}

// Reassign moves a task to the least-loaded member other than its current
// assignee.
func (s *Service) Reassign(ctx context.Context, householdID, taskID, actorUserID string) (string, error) {
	if s.store == nil {
		return "", ErrNoStorage
	}
	unlock := s.lockHousehold(householdID)
	defer unlock()
	started := s.now()

	task, err := s.taskInHousehold(ctx, householdID, taskID)
	if err != nil {
		return "", err
	}
	members, tasks, err := s.loadHousehold(ctx, householdID)
	if err != nil {
		return "", err
	}
	userID, ok := assign.ReassignToNext(task, members, assign.NewLedger(members, tasks))
	if !ok {
		s.audit(ctx, householdID, actorUserID, "reassign", taskID, "", started, ErrNoCandidate)
		return "", ErrNoCandidate
	}
	if err := s.store.AssignTasks(ctx, map[string]string{taskID: userID}); err != nil {
		return "", err
	}

	s.audit(ctx, householdID, actorUserID, "reassign", taskID, userID, started, nil)
	s.publish("chores.reassigned", map[string]any{"household": householdID, "task": taskID, "user": userID})
	s.notifyUser(ctx, householdID, userID, "reassigned", fmt.Sprintf("%s is now yours", task.Title))
	return userID, nil
}

// AutoAssignSweep runs AutoAssign over every household. Scheduled runs use it
// as their job body; per-household failures are logged and don't stop the
// sweep.
func (s *Service) AutoAssignSweep(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStorage
	}
	households, err := s.store.ListHouseholds(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, h := range households {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		assignments, err := s.AutoAssign(ctx, h.ID, "scheduler")
		if err != nil {
			failed++
			s.log.Warn("sweep: auto-assign failed", logx.String("household", h.ID), logx.Err(err))
			continue
		}
		if len(assignments) > 0 {
			s.log.Info("sweep: tasks assigned", logx.String("household", h.ID), logx.Int("count", len(assignments)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("auto-assign failed for %d of %d households", failed, len(households))
	}
	return nil
}

// ---- helpers ----

func (s *Service) loadHousehold(ctx context.Context, householdID string) ([]chore.Member, []chore.Task, error) {
	if s.store == nil {
		return nil, nil, ErrNoStorage
	}
	if _, ok, err := s.store.GetHousehold(ctx, householdID); err != nil {
		return nil, nil, err
	} else if !ok {
		return nil, nil, ErrHouseholdNotFound
	}
	members, err := s.store.ListMembers(ctx, householdID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.store.ListTasks(ctx, householdID)
	if err != nil {
		return nil, nil, err
	}
	return members, tasks, nil
}

func (s *Service) taskInHousehold(ctx context.Context, householdID, taskID string) (chore.Task, error) {
	task, ok, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return chore.Task{}, err
	}
	if !ok || task.HouseholdID != householdID {
		return chore.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *Service) requireMember(ctx context.Context, householdID, userID string) error {
	members, err := s.store.ListMembers(ctx, householdID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return ErrNotMember
}

func (s *Service) audit(ctx context.Context, householdID, actor, action, taskID, target string, started time.Time, opErr error) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:          started,
		HouseholdID: householdID,
		ActorUserID: actor,
		Action:      action,
		TaskID:      taskID,
		TargetUser:  target,
		OK:          opErr == nil,
		TookMS:      s.now().Sub(started).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Service) notifyUser(ctx context.Context, householdID, userID, kind, text string) {
	if s.notif == nil {
		return
	}
	err := s.notif.Notify(ctx, notify.Notification{
		HouseholdID: householdID,
		UserID:      userID,
		Kind:        kind,
		Text:        text,
	})
	if err != nil && !errors.Is(err, notify.ErrDisabled) && !errors.Is(err, notify.ErrStopped) {
		s.log.Debug("notify failed", logx.Err(err))
	}
}
