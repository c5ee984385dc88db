package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultSearchLimit = 100

// DBRecorder stores the audit trail in a relational database. It works
// against both the sqlite3 and postgres drivers; numbered placeholders
// are accepted by both.
type DBRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBRecorder creates a database-backed recorder and ensures the
// audit_trail table exists.
func NewDBRecorder(db *sql.DB, driver string) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &DBRecorder{db: db, now: time.Now}
	if err := r.ensureTable(driver); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_trail table: %w", err)
	}
	return r, nil
}

func (r *DBRecorder) ensureTable(driver string) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_trail (
		%s,
		username VARCHAR(255) NOT NULL,
		module VARCHAR(50) NOT NULL,
		action VARCHAR(50) NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_trail_timestamp ON audit_trail(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_trail_username ON audit_trail(username);
	CREATE INDEX IF NOT EXISTS idx_audit_trail_module ON audit_trail(module);
	`, idColumn)

	_, err := r.db.Exec(query)
	return err
}

// Record appends an entry to the trail
func (r *DBRecorder) Record(ctx context.Context, entry Entry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_trail (username, module, action, old_value, new_value, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Username, string(entry.Module), string(entry.Action), entry.OldValue, entry.NewValue, ts)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries matching the filter, newest first
func (r *DBRecorder) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT id, username, module, action, old_value, new_value, timestamp
		FROM audit_trail
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.Username != "" {
		query += fmt.Sprintf(" AND username = $%d", argCount)
		args = append(args, filter.Username)
		argCount++
	}

	if filter.Module != "" {
		query += fmt.Sprintf(" AND module = $%d", argCount)
		args = append(args, string(filter.Module))
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit trail: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var module, action string
		if err := rows.Scan(&entry.ID, &entry.Username, &module, &action,
			&entry.OldValue, &entry.NewValue, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Module = Module(module)
		entry.Action = Action(action)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit trail: %w", err)
	}

	return entries, nil
}

// Cleanup deletes entries older than the retention period and returns
// how many rows were removed.
func (r *DBRecorder) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	cutoff := r.now().UTC().AddDate(0, 0, -policy.RetentionDays)

	result, err := r.db.ExecContext(ctx, "DELETE FROM audit_trail WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit trail: %w", err)
	}

	return result.RowsAffected()
}
