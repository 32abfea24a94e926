package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/rbac"
	"github.com/alshuail/portal-access/pkg/storage"
)

// connFlags are shared by every command that touches the database
type connFlags struct {
	driver  *string
	url     *string
	catalog *string
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	return connFlags{
		driver:  fs.String("db-driver", envOr("ACCESS_DB_DRIVER", "postgres"), "Database driver (postgres or sqlite3)"),
		url:     fs.String("db-url", os.Getenv("ACCESS_DB_URL"), "Database connection URL"),
		catalog: fs.String("catalog", os.Getenv("ACCESS_CATALOG_FILE"), "Role catalog overlay file"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// engine is the access engine wired over one database connection. Mutations
// are audited straight to the database.
type engine struct {
	cm        *storage.ConnectionManager
	db        *sql.DB
	directory *auth.SQLDirectory
	manager   *rbac.Manager
	audit     *audit.DBLogger
}

func connect(cf connFlags) (*storage.ConnectionManager, error) {
	if *cf.url == "" {
		return nil, fmt.Errorf("--db-url is required (or set ACCESS_DB_URL)")
	}
	cfg := storage.DefaultConnectionConfig()
	cfg.Driver = *cf.driver
	cfg.PrimaryURL = *cf.url
	cfg.MaxConns = 4
	return storage.NewConnectionManager(cfg, quietLogger())
}

func openEngine(ctx context.Context, cf connFlags) (*engine, error) {
	cm, err := connect(cf)
	if err != nil {
		return nil, err
	}
	db := cm.Primary()

	auditLogger, err := audit.NewDBLogger(ctx, db, cm.Dialect())
	if err != nil {
		cm.Close()
		return nil, err
	}

	directory := auth.NewSQLDirectory(db)
	manager, err := rbac.NewManager(rbac.NewSQLStore(db, cm.Dialect()), directory, rbac.Config{
		Routes:      rbac.DefaultRoutes(),
		CatalogFile: *cf.catalog,
	}, rbac.Dependencies{AuditLogger: auditLogger})
	if err != nil {
		cm.Close()
		return nil, err
	}

	return &engine{
		cm:        cm,
		db:        db,
		directory: directory,
		manager:   manager,
		audit:     auditLogger,
	}, nil
}

func (e *engine) Close() error {
	return e.cm.Close()
}

// quietLogger keeps library logs off the command output
func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// parseTime accepts RFC 3339 or a plain date, read as midnight UTC
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return &t, nil
}

func splitList(s string) []string {
	var outList []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			outList = append(outList, part)
		}
	}
	return outList
}
