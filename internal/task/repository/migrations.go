package repository

import (
	"database/sql"
	"fmt"
)

// migration is one numbered schema step. The list is append-only and every
// apply func is idempotent, so replaying the full list leaves the schema
// unchanged.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "create tasks",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS tasks (
				task_id TEXT PRIMARY KEY,
				parent_task_id TEXT,
				namespace TEXT NOT NULL,
				session_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				revision INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL,
				spec_json TEXT NOT NULL,
				result_json TEXT,
				verification_json TEXT,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`)
			return err
		},
	},
	{
		version: 2,
		name:    "create task_messages",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS task_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id TEXT NOT NULL,
				namespace TEXT NOT NULL,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				kind TEXT,
				payload TEXT NOT NULL,
				ts DATETIME NOT NULL,
				FOREIGN KEY (task_id) REFERENCES tasks(task_id) ON DELETE CASCADE
			)`)
			return err
		},
	},
	{
		version: 3,
		name:    "scope indexes",
		apply: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks(namespace, session_id)`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_task_messages_task ON task_messages(task_id)`)
			return err
		},
	},
	{
		version: 4,
		name:    "add archived_at",
		apply: func(tx *sql.Tx) error {
			// UI task views share this table; the coordinator never reads
			// the column.
			return addColumnIfMissing(tx, "tasks", "archived_at", "DATETIME")
		},
	},
}

// addColumnIfMissing checks PRAGMA table_info before ALTER TABLE so the
// migration stays idempotent.
func addColumnIfMissing(tx *sql.Tx, table, column, colType string) error {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	return err
}

// runMigrations applies every missing migration in order, one transaction
// per migration, tracking the highest applied version in a marker table.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migration marker table: %w", err)
	}

	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && int64(m.version) <= current.Int64 {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))`,
			m.version, m.name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, err
	}
	return int(current.Int64), nil
}
