package requester

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LocalStore persists pushed requester records in a relational database.
// It works against both the sqlite3 and postgres drivers.
type LocalStore struct {
	db     *sql.DB
	driver string
}

// NewLocalStore initializes the store and makes sure the backing table exists
func NewLocalStore(db *sql.DB, driver string) (*LocalStore, error) {
	s := &LocalStore{db: db, driver: driver}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("ensure requesters table: %w", err)
	}
	return s, nil
}

func (s *LocalStore) ensureTable() error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if s.driver == "sqlite3" {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS requesters (
		id %s,
		requester_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email_id TEXT NOT NULL DEFAULT '',
		phone_num TEXT NOT NULL DEFAULT '',
		mobile TEXT NOT NULL DEFAULT '',
		employee_id TEXT NOT NULL DEFAULT '',
		job_title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		created_date TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requesters_remote ON requesters (requester_id);
	CREATE INDEX IF NOT EXISTS idx_requesters_email ON requesters (email_id);`, idColumn)
	_, err := s.db.Exec(ddl)
	return err
}

const requesterColumns = `id, requester_id, name, first_name, last_name, email_id,
	phone_num, mobile, employee_id, job_title, description, gender, created_date`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.RequesterID, &r.Name, &r.FirstName, &r.LastName,
		&r.EmailID, &r.PhoneNum, &r.Mobile, &r.EmployeeID, &r.JobTitle,
		&r.Description, &r.Gender, &r.CreatedDate)
	return r, err
}

// List returns all cached records, newest first
func (s *LocalStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requesterColumns+` FROM requesters ORDER BY created_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requester: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FindByEmail returns the cached record with the exact email_id
func (s *LocalStore) FindByEmail(ctx context.Context, email string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requesterColumns+` FROM requesters WHERE email_id = $1`, email)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("find requester by email: %w", err)
	}
	return r, nil
}

// FindByRemoteID returns the cached record for a ticketing API requester id
func (s *LocalStore) FindByRemoteID(ctx context.Context, remoteID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requesterColumns+` FROM requesters WHERE requester_id = $1`, remoteID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("find requester by remote id: %w", err)
	}
	return r, nil
}

// Insert mirrors a freshly pushed record into the cache
func (s *LocalStore) Insert(ctx context.Context, r Record) error {
	created := r.CreatedDate
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requesters (requester_id, name, first_name, last_name, email_id,
			phone_num, mobile, employee_id, job_title, description, gender, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.RequesterID, r.Name, r.FirstName, r.LastName, r.EmailID,
		r.PhoneNum, r.Mobile, r.EmployeeID, r.JobTitle, r.Description,
		r.Gender, created)
	if err != nil {
		return fmt.Errorf("insert requester: %w", err)
	}
	return nil
}

// Update rewrites the cached record identified by its remote id
func (s *LocalStore) Update(ctx context.Context, r Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requesters SET name = $1, first_name = $2, last_name = $3,
			email_id = $4, phone_num = $5, mobile = $6, employee_id = $7,
			job_title = $8, description = $9, gender = $10
		WHERE requester_id = $11`,
		r.Name, r.FirstName, r.LastName, r.EmailID, r.PhoneNum, r.Mobile,
		r.EmployeeID, r.JobTitle, r.Description, r.Gender, r.RequesterID)
	if err != nil {
		return fmt.Errorf("update requester: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update requester rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
