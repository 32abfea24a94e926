package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/alshuail/portal-access/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// AppliedMigration is a row of the tracking table
type AppliedMigration struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// GetMigrations returns the schema migrations in version order. The SQL is
// accepted by both PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create principals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					id VARCHAR(64) PRIMARY KEY,
					display_name VARCHAR(255) NOT NULL,
					email VARCHAR(255),
					phone VARCHAR(32),
					status VARCHAR(16) NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_principals_email ON principals(email);
				CREATE INDEX IF NOT EXISTS idx_principals_phone ON principals(phone);
			`,
		},
		{
			Version:     2,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id VARCHAR(64) PRIMARY KEY,
					principal_id VARCHAR(64) NOT NULL REFERENCES principals(id),
					role_id VARCHAR(64) NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP,
					revoked_at TIMESTAMP,
					granted_by VARCHAR(64),
					revoked_by VARCHAR(64),
					notes TEXT,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_role_assignments_principal ON role_assignments(principal_id, revoked_at);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_role ON role_assignments(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create credentials table",
			SQL: `
				CREATE TABLE IF NOT EXISTS credentials (
					principal_id VARCHAR(64) PRIMARY KEY REFERENCES principals(id),
					password_hash VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction.
// A nil logger discards progress messages.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS access_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	appliedVersions := make(map[int]bool, len(applied))
	for _, m := range applied {
		appliedVersions[m.Version] = true
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}

		log.Info("Migration completed")
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO access_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
		migration.Version, migration.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// AppliedMigrations lists the rows of the tracking table in version order
func AppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, description, applied_at FROM access_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
