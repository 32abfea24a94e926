package storage

import (
	"fmt"
	"strings"
)

// Dialect selects SQL that differs between the supported databases
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// String returns the database/sql driver name registered for the dialect
func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite3"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// DialectForDriver maps a database/sql driver name to its dialect
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Placeholders returns "$start, $start+1, ..." for n arguments. Both PostgreSQL
// and SQLite accept the numbered form.
func Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
