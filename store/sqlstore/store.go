// Package sqlstore provides a database/sql implementation of the
// AssignmentStore for PostgreSQL, MySQL and SQLite.
//
// Every write is a single conditional statement whose WHERE clause carries the
// expected version. A statement that affects no rows is reported as
// store.ErrVersionConflict.
//
// The caller registers the driver with a blank import:
//
//	import _ "github.com/lib/pq"
//	import _ "github.com/go-sql-driver/mysql"
//	import _ "github.com/mattn/go-sqlite3"
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

const columns = "camera_id, worker_handle, state, last_reconciled_at, failure_count, version, launch_started_at, failed_at, last_error, diverged_since"

// Store is a SQL implementation of AssignmentStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// Compile-time check that Store implements AssignmentStore.
var _ store.AssignmentStore = (*Store)(nil)

// New creates a Store using the default table name.
func New(db *sql.DB, dialect Dialect) *Store {
	return NewWithConfig(db, dialect, DefaultTableConfig())
}

// NewWithConfig creates a Store with a custom table name.
// An empty table name falls back to the default.
func NewWithConfig(db *sql.DB, dialect Dialect, config TableConfig) *Store {
	if config.AssignmentsTable == "" {
		config.AssignmentsTable = DefaultTableConfig().AssignmentsTable
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   config.AssignmentsTable,
	}
}

// Migrate creates the assignments table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := (TableConfig{AssignmentsTable: s.table}).Validate(); err != nil {
		return fmt.Errorf("invalid table config: %w", err)
	}
	for _, stmt := range MigrationStatements(s.dialect, TableConfig{AssignmentsTable: s.table}) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// List returns every assignment ordered by camera ID.
func (s *Store) List(ctx context.Context) ([]autoscaler.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY camera_id`, columns, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]autoscaler.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	return out, nil
}

// Get returns the assignment for a camera.
func (s *Store) Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE camera_id = %s`, columns, s.table, s.dialect.placeholder(1))

	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, cameraID))
	if errors.Is(err, sql.ErrNoRows) {
		return autoscaler.Assignment{}, store.ErrAssignmentNotFound
	}
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to get assignment: %w", err)
	}

	return a, nil
}

// Create inserts a with version 1 unless the camera already has a record.
func (s *Store) Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	a.Version = 1
	query := s.dialect.insertIfAbsent(s.table, columns, s.dialect.placeholders(1, 10))

	result, err := s.db.ExecContext(ctx, query, insertArgs(a)...)
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to create assignment: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return autoscaler.Assignment{}, err
	}

	return a, nil
}

// Update writes a if the stored version equals a.Version, bumping it by one.
func (s *Store) Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	p := s.dialect.placeholder
	query := fmt.Sprintf(`
		UPDATE %s
		SET worker_handle = %s, state = %s, last_reconciled_at = %s, failure_count = %s,
		    launch_started_at = %s, failed_at = %s, last_error = %s, diverged_since = %s,
		    version = version + 1
		WHERE camera_id = %s AND version = %s
	`, s.table, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10))

	result, err := s.db.ExecContext(ctx, query,
		a.WorkerHandle,
		string(a.State),
		a.LastReconciledAt.UTC(),
		a.FailureCount,
		nullTime(a.LaunchStartedAt),
		nullTime(a.FailedAt),
		a.LastError,
		nullTime(a.DivergedSince),
		a.CameraID,
		a.Version,
	)
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to update assignment: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return autoscaler.Assignment{}, err
	}

	a.Version++
	return a, nil
}

// Delete removes the record if the stored version equals version.
func (s *Store) Delete(ctx context.Context, cameraID string, version int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE camera_id = %s AND version = %s`,
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))

	result, err := s.db.ExecContext(ctx, query, cameraID, version)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func insertArgs(a autoscaler.Assignment) []interface{} {
	return []interface{}{
		a.CameraID,
		a.WorkerHandle,
		string(a.State),
		a.LastReconciledAt.UTC(),
		a.FailureCount,
		a.Version,
		nullTime(a.LaunchStartedAt),
		nullTime(a.FailedAt),
		a.LastError,
		nullTime(a.DivergedSince),
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row scanner) (autoscaler.Assignment, error) {
	var a autoscaler.Assignment
	var state string
	var launchStarted, failedAt, diverged sql.NullTime

	err := row.Scan(
		&a.CameraID,
		&a.WorkerHandle,
		&state,
		&a.LastReconciledAt,
		&a.FailureCount,
		&a.Version,
		&launchStarted,
		&failedAt,
		&a.LastError,
		&diverged,
	)
	if err != nil {
		return autoscaler.Assignment{}, err
	}

	a.State = autoscaler.AssignmentState(state)
	a.LaunchStartedAt = fromNullTime(launchStarted)
	a.FailedAt = fromNullTime(failedAt)
	a.DivergedSince = fromNullTime(diverged)

	return a, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
