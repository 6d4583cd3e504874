package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"choreboard/internal/chore"
	logx "choreboard/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
//   - <prefix>.snapshot.json (periodic snapshot of full state)
//   - <prefix>.journal.jsonl (append-only mutation journal)
//
// The journal is periodically compacted into the snapshot. All reads are
// served from memory.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File

	state  fileState
	writes int
}

type fileState struct {
	Households map[string]chore.Household `json:"households"`
	Members    map[string]chore.Member    `json:"members"` // key: userID|householdID
	Tasks      map[string]chore.Task      `json:"tasks"`
	Executions map[string]chore.Execution `json:"executions"`
	Dedup      map[string]int64           `json:"dedup"` // unix milli
}

func newFileState() fileState {
	return fileState{
		Households: map[string]chore.Household{},
		Members:    map[string]chore.Member{},
		Tasks:      map[string]chore.Task{},
		Executions: map[string]chore.Execution{},
		Dedup:      map[string]int64{},
	}
}

// journalRecord is one logged mutation. Exactly one payload field is set,
// matching Op.
type journalRecord struct {
	Op string `json:"op"` // "household", "member", "task", "assign", "active", "execution", "uncount", "dedup"

	Household *chore.Household  `json:"household,omitempty"`
	Member    *chore.Member     `json:"member,omitempty"`
	Task      *chore.Task       `json:"task,omitempty"`
	Assign    map[string]string `json:"assign,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	Active    *bool             `json:"active,omitempty"`
	Execution *chore.Execution  `json:"execution,omitempty"`
	Uncount   []string          `json:"uncount,omitempty"`
	DedupKey  string            `json:"dedup_key,omitempty"`
	Until     int64             `json:"until,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	state := newFileState()
	_ = loadSnapshot(snapPath, &state)
	_ = replayJournal(journalPath, &state)
	pruneExpiredDedup(state.Dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        state,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// appendLocked journals one mutation and occasionally compacts.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("snapshot compact failed", logx.Err(err))
		}
	}
	return nil
}

// ---- households ----

func (s *fileStore) PutHousehold(ctx context.Context, h chore.Household) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "household", Household: &h}); err != nil {
		return err
	}
	s.state.Households[h.ID] = h
	return nil
}

func (s *fileStore) GetHousehold(ctx context.Context, id string) (chore.Household, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.state.Households[id]
	return h, ok, nil
}

func (s *fileStore) ListHouseholds(ctx context.Context) ([]chore.Household, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chore.Household, 0, len(s.state.Households))
	for _, h := range s.state.Households {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- members ----

func memberKey(userID, householdID string) string { return userID + "|" + householdID }

func (s *fileStore) PutMember(ctx context.Context, m chore.Member) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "member", Member: &m}); err != nil {
		return err
	}
	s.state.Members[memberKey(m.UserID, m.HouseholdID)] = m
	return nil
}

func (s *fileStore) ListMembers(ctx context.Context, householdID string) ([]chore.Member, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chore.Member
	for _, m := range s.state.Members {
		if m.HouseholdID == householdID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ---- tasks ----

func (s *fileStore) PutTask(ctx context.Context, t chore.Task) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "task", Task: &t}); err != nil {
		return err
	}
	s.state.Tasks[t.ID] = t
	return nil
}

func (s *fileStore) GetTask(ctx context.Context, id string) (chore.Task, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[id]
	return t, ok, nil
}

func (s *fileStore) ListTasks(ctx context.Context, householdID string) ([]chore.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chore.Task
	for _, t := range s.state.Tasks {
		if t.HouseholdID == householdID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) AssignTasks(ctx context.Context, assignments map[string]string) error {
	_ = ctx
	if len(assignments) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate up front so the batch applies atomically.
	for taskID := range assignments {
		if _, ok := s.state.Tasks[taskID]; !ok {
			return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
	}
	if err := s.appendLocked(journalRecord{Op: "assign", Assign: assignments}); err != nil {
		return err
	}
	for taskID, userID := range assignments {
		t := s.state.Tasks[taskID]
		t.AssignedUserID = userID
		s.state.Tasks[taskID] = t
	}
	return nil
}

func (s *fileStore) SetTaskActive(ctx context.Context, taskID string, active bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err := s.appendLocked(journalRecord{Op: "active", TaskID: taskID, Active: &active}); err != nil {
		return err
	}
	t.Active = active
	s.state.Tasks[taskID] = t
	return nil
}

// ---- executions ----

func (s *fileStore) AppendExecution(ctx context.Context, e chore.Execution) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "execution", Execution: &e}); err != nil {
		return err
	}
	s.state.Executions[e.ID] = e
	return nil
}

func (s *fileStore) ListExecutions(ctx context.Context, taskID string) ([]chore.Execution, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chore.Execution
	for _, e := range s.state.Executions {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) UncountExecutions(ctx context.Context, ids []string) error {
	_ = ctx
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "uncount", Uncount: ids}); err != nil {
		return err
	}
	for _, id := range ids {
		if e, ok := s.state.Executions[id]; ok {
			e.Counted = false
			s.state.Executions[id] = e
		}
	}
	return nil
}

// ---- audit / dedup ----

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "dedup", DedupKey: key, Until: ms}); err != nil {
		return err
	}
	s.state.Dedup[key] = ms
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.state.Dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// ---- snapshot / journal ----

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.state.Dedup)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	for k, v := range st.Households {
		out.Households[k] = v
	}
	for k, v := range st.Members {
		out.Members[k] = v
	}
	for k, v := range st.Tasks {
		out.Tasks[k] = v
	}
	for k, v := range st.Executions {
		out.Executions[k] = v
	}
	for k, v := range st.Dedup {
		out.Dedup[k] = v
	}
	return nil
}

func replayJournal(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		applyRecord(out, r)
	}
	return sc.Err()
}

func applyRecord(st *fileState, r journalRecord) {
	switch r.Op {
	case "household":
		if r.Household != nil {
			st.Households[r.Household.ID] = *r.Household
		}
	case "member":
		if r.Member != nil {
			st.Members[memberKey(r.Member.UserID, r.Member.HouseholdID)] = *r.Member
		}
	case "task":
		if r.Task != nil {
			st.Tasks[r.Task.ID] = *r.Task
		}
	case "assign":
		for taskID, userID := range r.Assign {
			if t, ok := st.Tasks[taskID]; ok {
				t.AssignedUserID = userID
				st.Tasks[taskID] = t
			}
		}
	case "active":
		if r.Active != nil {
			if t, ok := st.Tasks[r.TaskID]; ok {
				t.Active = *r.Active
				st.Tasks[r.TaskID] = t
			}
		}
	case "execution":
		if r.Execution != nil {
			st.Executions[r.Execution.ID] = *r.Execution
		}
	case "uncount":
		for _, id := range r.Uncount {
			if e, ok := st.Executions[id]; ok {
				e.Counted = false
				st.Executions[id] = e
			}
		}
	case "dedup":
		if r.DedupKey != "" {
			st.Dedup[r.DedupKey] = r.Until
		}
	}
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
