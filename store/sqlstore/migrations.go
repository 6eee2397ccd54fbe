package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)?$`)

// TableConfig configures the table used by the store.
type TableConfig struct {
	// AssignmentsTable is the name of the table storing camera assignments.
	// It may be schema qualified (e.g. "autoscaler.camera_assignments").
	AssignmentsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		AssignmentsTable: "camera_assignments",
	}
}

// Validate ensures the table name is safe to interpolate into SQL.
func (c TableConfig) Validate() error {
	if c.AssignmentsTable == "" {
		return fmt.Errorf("AssignmentsTable cannot be empty")
	}
	if !identifierRegex.MatchString(c.AssignmentsTable) {
		return fmt.Errorf("AssignmentsTable must start with a letter and contain only letters, numbers, underscores and at most one dot (got: %s)", c.AssignmentsTable)
	}
	return nil
}

// indexName derives an index name from the table name.
func (c TableConfig) indexName(suffix string) string {
	return "idx_" + strings.ReplaceAll(c.AssignmentsTable, ".", "_") + "_" + suffix
}

// MigrationStatements returns the statements that create the assignments table
// for the dialect, one statement per element.
func MigrationStatements(d Dialect, config TableConfig) []string {
	table := config.AssignmentsTable

	switch d {
	case MySQL:
		return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    camera_id VARCHAR(255) PRIMARY KEY,
    worker_handle VARCHAR(2048) NOT NULL DEFAULT '',
    state ENUM('PENDING', 'RUNNING', 'STOPPING', 'FAILED') NOT NULL,
    last_reconciled_at DATETIME(6) NOT NULL,
    failure_count INT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL,
    launch_started_at DATETIME(6) NULL,
    failed_at DATETIME(6) NULL,
    last_error TEXT NOT NULL,
    diverged_since DATETIME(6) NULL,
    INDEX %s (state)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, table, config.indexName("state"))}
	case SQLite:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    camera_id TEXT PRIMARY KEY,
    worker_handle TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL CHECK (state IN ('PENDING', 'RUNNING', 'STOPPING', 'FAILED')),
    last_reconciled_at DATETIME NOT NULL,
    failure_count INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL,
    launch_started_at DATETIME NULL,
    failed_at DATETIME NULL,
    last_error TEXT NOT NULL DEFAULT '',
    diverged_since DATETIME NULL
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (state)`, config.indexName("state"), table),
		}
	default:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    camera_id TEXT PRIMARY KEY,
    worker_handle TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL CHECK (state IN ('PENDING', 'RUNNING', 'STOPPING', 'FAILED')),
    last_reconciled_at TIMESTAMPTZ NOT NULL,
    failure_count INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL,
    launch_started_at TIMESTAMPTZ NULL,
    failed_at TIMESTAMPTZ NULL,
    last_error TEXT NOT NULL DEFAULT '',
    diverged_since TIMESTAMPTZ NULL
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (state)`, config.indexName("state"), table),
		}
	}
}

// MigrationUp returns the SQL script that creates the assignments table.
func MigrationUp(d Dialect, config TableConfig) string {
	return strings.Join(MigrationStatements(d, config), ";\n\n") + ";\n"
}

// MigrationDown returns the SQL script that drops the assignments table.
func MigrationDown(d Dialect, config TableConfig) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\n", config.AssignmentsTable)
}
