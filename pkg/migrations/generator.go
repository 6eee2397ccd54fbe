package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/camwatch/frameparser-autoscaler/store/sqlstore"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
		return err
	}
	if err := validateIdentifier(config.AssignmentsTable, "AssignmentsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for the assignments table.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL).
	// SQLite has no schemas, so it becomes a table name prefix (e.g. autoscaler_camera_assignments).
	SchemaName string

	// AssignmentsTable is the name of the camera assignments table
	AssignmentsTable string
}

// DefaultConfig returns the default configuration for assignment migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_camera_assignments.sql", timestamp),
		SchemaName:       "autoscaler",
		AssignmentsTable: "camera_assignments",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(config, generatePostgresSQL)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return generate(config, generateMySQLSQL)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(config, generateSQLiteSQL)
}

// Generate writes the migration for the named dialect.
func Generate(dialect sqlstore.Dialect, config *Config) error {
	switch dialect {
	case sqlstore.Postgres:
		return GeneratePostgres(config)
	case sqlstore.MySQL:
		return GenerateMySQL(config)
	case sqlstore.SQLite:
		return GenerateSQLite(config)
	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

func generate(config *Config, render func(*Config) string) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(render(config)), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func header(database string) string {
	return fmt.Sprintf(`-- Camera Assignments Migration
-- Generated: %s
-- Database: %s

`, time.Now().Format(time.RFC3339), database)
}

// tableComment documents the table once per generated file.
const tableComment = `-- Camera assignments bind each camera stream to at most one frame parser worker
-- Every write is conditional on version (optimistic concurrency)
-- so overlapping reconciliation passes never both launch a worker
`

func generatePostgresSQL(config *Config) string {
	var b strings.Builder
	b.WriteString(header("PostgreSQL"))
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n\n", config.SchemaName)
	b.WriteString(tableComment)
	b.WriteString(sqlstore.MigrationUp(sqlstore.Postgres, sqlstore.TableConfig{
		AssignmentsTable: config.SchemaName + "." + config.AssignmentsTable,
	}))
	return b.String()
}

func generateMySQLSQL(config *Config) string {
	var b strings.Builder
	b.WriteString(header("MySQL/MariaDB"))
	fmt.Fprintf(&b, `-- In MySQL, we use a separate database instead of schema
CREATE DATABASE IF NOT EXISTS %s
    DEFAULT CHARACTER SET utf8mb4
    DEFAULT COLLATE utf8mb4_unicode_ci;

USE %s;

`, config.SchemaName, config.SchemaName)
	b.WriteString(tableComment)
	b.WriteString(sqlstore.MigrationUp(sqlstore.MySQL, sqlstore.TableConfig{
		AssignmentsTable: config.AssignmentsTable,
	}))
	return b.String()
}

func generateSQLiteSQL(config *Config) string {
	// SQLite doesn't support schemas, so we use table name prefixes instead
	var b strings.Builder
	b.WriteString(header("SQLite"))
	b.WriteString(tableComment)
	b.WriteString(sqlstore.MigrationUp(sqlstore.SQLite, sqlstore.TableConfig{
		AssignmentsTable: config.SchemaName + "_" + config.AssignmentsTable,
	}))
	return b.String()
}
