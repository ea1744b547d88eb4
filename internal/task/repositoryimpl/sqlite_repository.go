package repositoryimpl

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/pkg/cerr"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - tasks and task_assignees
const currentSchemaVersion = 1

// SQLiteRepository stores tasks in SQLite. Every write runs in a transaction;
// the project cascade is a single transaction, so it applies completely or
// not at all.
type SQLiteRepository struct {
	mu        sync.Mutex
	db        *sql.DB
	publisher change.Publisher
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, publisher change.Publisher) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRepository{db: db, publisher: publisher}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB exposes the connection for tests and maintenance commands.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `id, project_id, title, description, status, priority, due_date,
	review_status, review_requested_by, reviewed_by, reviewed_at, review_comments,
	closed_at, closed_reason, created_by, created_at, updated_at`

func (r *SQLiteRepository) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, taskArgs(t)...)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
		}
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to insert task: %w", err))
	}
	if err := replaceAssignees(ctx, tx, t.ID, t.AssigneeIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to commit task: %w", err))
	}
	r.publish(change.Insert, t, nil)
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	return get(ctx, r.db, id)
}

func get(ctx context.Context, q querier, id string) (*task.Task, error) {
	tasks, err := query(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return tasks[0], nil
}

func (r *SQLiteRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AssigneeID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id = tasks.id AND a.user_id = ?)")
		args = append(args, f.AssigneeID)
	}
	if !f.IncludeClosed {
		where = append(where, "closed_at IS NULL")
	}
	stmt := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC, id DESC"
	return query(ctx, r.db, stmt, args...)
}

func (r *SQLiteRepository) Mutate(ctx context.Context, id string, fn task.MutateFunc) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	cur, err := get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, task.ErrNoChange) {
			return cur, nil
		}
		return nil, err
	}
	if err := update(ctx, tx, next); err != nil {
		return nil, err
	}
	if !equalIDs(cur.AssigneeIDs, next.AssigneeIDs) {
		if err := replaceAssignees(ctx, tx, next.ID, next.AssigneeIDs); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to commit task: %w", err))
	}
	r.publish(change.Update, next, cur)
	return next, nil
}

func (r *SQLiteRepository) CloseProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*task.Task, error) {
	return r.cascade(ctx, projectID, func(t *task.Task) bool { return task.CloseByProject(t, at) })
}

func (r *SQLiteRepository) ReopenProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*task.Task, error) {
	return r.cascade(ctx, projectID, func(t *task.Task) bool { return task.ReopenByProject(t, at) })
}

func (r *SQLiteRepository) cascade(ctx context.Context, projectID string, apply func(t *task.Task) bool) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	tasks, err := query(ctx, tx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	var olds, news []*task.Task
	for _, t := range tasks {
		next := t.Clone()
		if !apply(next) {
			continue
		}
		if err := update(ctx, tx, next); err != nil {
			return nil, err
		}
		olds = append(olds, t)
		news = append(news, next)
	}
	if err := tx.Commit(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to commit cascade: %w", err))
	}
	for i := range news {
		r.publish(change.Update, news[i], olds[i])
	}
	return news, nil
}

func update(ctx context.Context, tx *sql.Tx, t *task.Task) error {
	args := taskArgs(t)
	// id goes last for the WHERE clause
	args = append(args[1:], args[0])
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET project_id = ?, title = ?, description = ?, status = ?, priority = ?,
		due_date = ?, review_status = ?, review_requested_by = ?, reviewed_by = ?, reviewed_at = ?, review_comments = ?,
		closed_at = ?, closed_reason = ?, created_by = ?, created_at = ?, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to update task %s: %w", t.ID, err))
	}
	return nil
}

// replaceAssignees swaps the whole assignee set of taskID.
func replaceAssignees(ctx context.Context, tx *sql.Tx, taskID string, userIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, taskID); err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to clear assignees: %w", err))
	}
	for i, id := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_assignees (task_id, user_id, position) VALUES (?, ?, ?)`, taskID, id, i); err != nil {
			return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to insert assignee: %w", err))
		}
	}
	return nil
}

func query(ctx context.Context, q querier, stmt string, args ...any) ([]*task.Task, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to query tasks: %w", err))
	}
	var (
		tasks []*task.Task
		ids   []any
	)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
		tasks = append(tasks, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to read tasks: %w", err))
	}
	rows.Close()
	if len(tasks) == 0 {
		return tasks, nil
	}
	assignees, err := loadAssignees(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.AssigneeIDs = assignees[t.ID]
		if t.AssigneeIDs == nil {
			t.AssigneeIDs = []string{}
		}
	}
	return tasks, nil
}

func loadAssignees(ctx context.Context, q querier, ids []any) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := q.QueryContext(ctx, `SELECT task_id, user_id FROM task_assignees WHERE task_id IN (`+placeholders+`) ORDER BY task_id, position`, ids...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to query assignees: %w", err))
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var taskID, userID string
		if err := rows.Scan(&taskID, &userID); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to scan assignee: %w", err))
		}
		out[taskID] = append(out[taskID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to read assignees: %w", err))
	}
	return out, nil
}

func scanTask(rows *sql.Rows) (*task.Task, error) {
	var (
		t                                      task.Task
		dueDate, reviewedAt, closedAt          sql.NullString
		status, priority, reviewStatus, reason string
		createdAt, updatedAt                   string
	)
	err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &priority, &dueDate,
		&reviewStatus, &t.ReviewRequestedBy, &t.ReviewedBy, &reviewedAt, &t.ReviewComments,
		&closedAt, &reason, &t.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.ReviewStatus = task.ReviewStatus(reviewStatus)
	t.ClosedReason = task.ClosedReason(reason)
	if t.DueDate, err = parseNullTime(dueDate); err != nil {
		return nil, err
	}
	if t.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if t.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	return &t, nil
}

func taskArgs(t *task.Task) []any {
	return []any{
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), formatNullTime(t.DueDate),
		string(t.ReviewStatus), t.ReviewRequestedBy, t.ReviewedBy, formatNullTime(t.ReviewedAt), t.ReviewComments,
		formatNullTime(t.ClosedAt), string(t.ClosedReason), t.CreatedBy,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *SQLiteRepository) publish(kind change.Kind, newRow, oldRow *task.Task) {
	ev, err := taskEvent(kind, newRow, oldRow)
	if err != nil {
		return
	}
	r.publisher.Publish(ev)
}
