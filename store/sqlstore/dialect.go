package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour used for placeholders, inserts and DDL.
type Dialect string

const (
	// Postgres targets PostgreSQL via github.com/lib/pq.
	Postgres Dialect = "postgres"

	// MySQL targets MySQL/MariaDB via github.com/go-sql-driver/mysql.
	// The DSN must set parseTime=true.
	MySQL Dialect = "mysql"

	// SQLite targets SQLite via github.com/mattn/go-sqlite3.
	SQLite Dialect = "sqlite3"
)

// ParseDialect maps a configuration string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", s)
}

// DriverName returns the database/sql driver name registered by the dialect's driver.
func (d Dialect) DriverName() string {
	return string(d)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholders returns a comma separated list of bind parameters from..to inclusive.
func (d Dialect) placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, d.placeholder(i))
	}
	return strings.Join(parts, ", ")
}

// insertIfAbsent returns an INSERT that affects zero rows when the key exists.
func (d Dialect) insertIfAbsent(table, columns, values string) string {
	switch d {
	case MySQL:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE camera_id = camera_id", table, columns, values)
	case SQLite:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, columns, values)
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (camera_id) DO NOTHING", table, columns, values)
	}
}
