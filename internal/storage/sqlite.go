package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"choreboard/internal/chore"
	logx "choreboard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- households ----

func (s *sqliteStore) PutHousehold(ctx context.Context, h chore.Household) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO households(id, name, created_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		h.ID, h.Name, h.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetHousehold(ctx context.Context, id string) (chore.Household, bool, error) {
	var h chore.Household
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM households WHERE id = ?`, id,
	).Scan(&h.ID, &h.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chore.Household{}, false, nil
	}
	if err != nil {
		return chore.Household{}, false, err
	}
	h.CreatedAt = parseTime(createdAt)
	return h, true, nil
}

func (s *sqliteStore) ListHouseholds(ctx context.Context) ([]chore.Household, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM households ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chore.Household
	for rows.Next() {
		var h chore.Household
		var createdAt string
		if err := rows.Scan(&h.ID, &h.Name, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ---- members ----

func (s *sqliteStore) PutMember(ctx context.Context, m chore.Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(user_id, household_id, name, role, joined_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, household_id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		m.UserID, m.HouseholdID, m.Name, string(m.Role), m.JoinedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListMembers(ctx context.Context, householdID string) ([]chore.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, household_id, name, role, joined_at FROM members
		 WHERE household_id = ? ORDER BY user_id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chore.Member
	for rows.Next() {
		var m chore.Member
		var role, joinedAt string
		if err := rows.Scan(&m.UserID, &m.HouseholdID, &m.Name, &role, &joinedAt); err != nil {
			return nil, err
		}
		m.Role = chore.Role(role)
		m.JoinedAt = parseTime(joinedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- tasks ----

func (s *sqliteStore) PutTask(ctx context.Context, t chore.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, household_id, title, type, recurrence_rule, active, assigned_user_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, type=excluded.type, recurrence_rule=excluded.recurrence_rule,
		   active=excluded.active, assigned_user_id=excluded.assigned_user_id`,
		t.ID, t.HouseholdID, t.Title, string(t.Type), nullStr(t.RecurrenceRule),
		boolInt(t.Active), nullStr(t.AssignedUserID), t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (chore.Task, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, household_id, title, type, recurrence_rule, active, assigned_user_id, created_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chore.Task{}, false, nil
	}
	if err != nil {
		return chore.Task{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, householdID string) ([]chore.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, household_id, title, type, recurrence_rule, active, assigned_user_id, created_at
		 FROM tasks WHERE household_id = ? ORDER BY id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chore.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AssignTasks(ctx context.Context, assignments map[string]string) error {
	if len(assignments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for taskID, userID := range assignments {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET assigned_user_id = ? WHERE id = ?`, userID, taskID)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_ = tx.Rollback()
			return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SetTaskActive(ctx context.Context, taskID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET active = ? WHERE id = ?`, boolInt(active), taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return nil
}

// ---- executions ----

func (s *sqliteStore) AppendExecution(ctx context.Context, e chore.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, task_id, user_id, completed_at, counted) VALUES(?,?,?,?,?)`,
		e.ID, e.TaskID, e.UserID, e.CompletedAt.UTC().Format(time.RFC3339Nano), boolInt(e.Counted),
	)
	return err
}

func (s *sqliteStore) ListExecutions(ctx context.Context, taskID string) ([]chore.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, completed_at, counted FROM executions
		 WHERE task_id = ? ORDER BY completed_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chore.Execution
	for rows.Next() {
		var e chore.Execution
		var completedAt string
		var counted int
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &completedAt, &counted); err != nil {
			return nil, err
		}
		e.CompletedAt = parseTime(completedAt)
		e.Counted = counted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UncountExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE executions SET counted = 0 WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ---- audit / dedup ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, household_id, actor_user_id, action, task_id, target_user, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.HouseholdID), nullStr(e.ActorUserID),
		e.Action, nullStr(e.TaskID), nullStr(e.TargetUser), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (chore.Task, error) {
	var t chore.Task
	var typ, createdAt string
	var rule, assigned sql.NullString
	var active int
	if err := row.Scan(&t.ID, &t.HouseholdID, &t.Title, &typ, &rule, &active, &assigned, &createdAt); err != nil {
		return chore.Task{}, err
	}
	t.Type = chore.TaskType(typ)
	t.RecurrenceRule = rule.String
	t.Active = active != 0
	t.AssignedUserID = assigned.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
