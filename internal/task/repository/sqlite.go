package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adskit/ads/internal/task/models"
)

// SQLiteRepository provides SQLite-based task storage.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if necessary) the database at dbPath
// and applies pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
	}

	// Single writer with WAL keeps readers unblocked and avoids SQLITE_BUSY.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		dbPath, int(5*time.Second/time.Millisecond),
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for shared access.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

// UpsertTask implements Repository. created_at is preserved on conflict so
// repeated upserts stay idempotent.
func (r *SQLiteRepository) UpsertTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Revision <= 0 {
		task.Revision = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (
			task_id, parent_task_id, namespace, session_id, agent_id, revision,
			status, spec_json, result_json, verification_json, attempts,
			last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			parent_task_id = excluded.parent_task_id,
			agent_id = excluded.agent_id,
			revision = excluded.revision,
			status = excluded.status,
			spec_json = excluded.spec_json,
			result_json = excluded.result_json,
			verification_json = excluded.verification_json,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		task.TaskID, nullable(task.ParentTaskID), task.Namespace, task.SessionID,
		task.AgentID, task.Revision, string(task.Status), string(task.Spec),
		nullableBytes(task.Result), nullableBytes(task.Verification),
		task.Attempts, nullable(task.LastError), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.TaskID, err)
	}
	return nil
}

// GetTask implements Repository.
func (r *SQLiteRepository) GetTask(ctx context.Context, scope Scope, taskID string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id, parent_task_id, namespace, session_id, agent_id,
			revision, status, spec_json, result_json, verification_json,
			attempts, last_error, created_at, updated_at
		FROM tasks
		WHERE task_id = ? AND namespace = ? AND session_id = ?`,
		taskID, scope.Namespace, scope.SessionID,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks implements Repository.
func (r *SQLiteRepository) ListTasks(ctx context.Context, scope Scope, activeOnly bool) ([]*models.Task, error) {
	query := `
		SELECT task_id, parent_task_id, namespace, session_id, agent_id,
			revision, status, spec_json, result_json, verification_json,
			attempts, last_error, created_at, updated_at
		FROM tasks
		WHERE namespace = ? AND session_id = ?`
	if activeOnly {
		query += ` AND status NOT IN ('DONE', 'FAILED')`
	}
	query += ` ORDER BY created_at DESC, task_id DESC`

	rows, err := r.db.QueryContext(ctx, query, scope.Namespace, scope.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClearOutputs implements Repository.
func (r *SQLiteRepository) ClearOutputs(ctx context.Context, scope Scope, taskID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET result_json = NULL, verification_json = NULL, updated_at = ?
		WHERE task_id = ? AND namespace = ? AND session_id = ?`,
		time.Now().UTC(), taskID, scope.Namespace, scope.SessionID,
	)
	if err != nil {
		return fmt.Errorf("clear outputs for %s: %w", taskID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// AppendMessage implements Repository.
func (r *SQLiteRepository) AppendMessage(ctx context.Context, msg *models.TaskMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO task_messages (task_id, namespace, session_id, role, kind, payload, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.TaskID, msg.Namespace, msg.SessionID, msg.Role, nullable(msg.Kind),
		msg.Payload, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append message for %s: %w", msg.TaskID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// ListMessages implements Repository.
func (r *SQLiteRepository) ListMessages(ctx context.Context, scope Scope, taskID string) ([]*models.TaskMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, namespace, session_id, role, kind, payload, ts
		FROM task_messages
		WHERE task_id = ? AND namespace = ? AND session_id = ?
		ORDER BY id ASC`,
		taskID, scope.Namespace, scope.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", taskID, err)
	}
	defer rows.Close()

	var msgs []*models.TaskMessage
	for rows.Next() {
		var (
			msg  models.TaskMessage
			kind sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.TaskID, &msg.Namespace, &msg.SessionID,
			&msg.Role, &kind, &msg.Payload, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = kind.String
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task         models.Task
		parent       sql.NullString
		result       sql.NullString
		verification sql.NullString
		lastError    sql.NullString
		status       string
		spec         string
	)
	err := row.Scan(&task.TaskID, &parent, &task.Namespace, &task.SessionID,
		&task.AgentID, &task.Revision, &status, &spec, &result, &verification,
		&task.Attempts, &lastError, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.ParentTaskID = parent.String
	task.Status = models.TaskStatus(status)
	task.Spec = []byte(spec)
	if result.Valid {
		task.Result = []byte(result.String)
	}
	if verification.Valid {
		task.Verification = []byte(verification.String)
	}
	task.LastError = lastError.String
	return &task, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
