package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"choreboard/internal/chore"
	logx "choreboard/pkg/logx"
)

// Store is the persistence API used by the services layer.
//
// List methods return rows in a stable order (user id, task id, completion
// time) so downstream computations stay deterministic.
type Store interface {
	PutHousehold(ctx context.Context, h chore.Household) error
	GetHousehold(ctx context.Context, id string) (chore.Household, bool, error)
	ListHouseholds(ctx context.Context) ([]chore.Household, error)

	PutMember(ctx context.Context, m chore.Member) error
	ListMembers(ctx context.Context, householdID string) ([]chore.Member, error)

	PutTask(ctx context.Context, t chore.Task) error
	GetTask(ctx context.Context, id string) (chore.Task, bool, error)
	ListTasks(ctx context.Context, householdID string) ([]chore.Task, error)
	// AssignTasks applies a batch of taskID -> userID assignments atomically:
	// either every task is updated or none is.
	AssignTasks(ctx context.Context, assignments map[string]string) error
	SetTaskActive(ctx context.Context, taskID string, active bool) error

	AppendExecution(ctx context.Context, e chore.Execution) error
	ListExecutions(ctx context.Context, taskID string) ([]chore.Execution, error)
	// UncountExecutions clears the counted flag on the given executions.
	// The rows themselves are never deleted.
	UncountExecutions(ctx context.Context, ids []string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
