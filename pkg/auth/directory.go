package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory looks up principals. It is the read side of principal provisioning,
// which happens outside this service.
type Directory interface {
	// GetPrincipal returns the principal or ErrPrincipalNotFound
	GetPrincipal(ctx context.Context, id string) (*Principal, error)

	// SearchPrincipals matches query against name, email and phone
	SearchPrincipals(ctx context.Context, query string, limit int) ([]*Principal, error)
}

// freshReader is implemented by directories that sit in front of another one
type freshReader interface {
	GetPrincipalFresh(ctx context.Context, id string) (*Principal, error)
}

// FreshPrincipal reads a principal from the directory's source of truth,
// skipping any cache. Status decisions go through here.
func FreshPrincipal(ctx context.Context, d Directory, id string) (*Principal, error) {
	if f, ok := d.(freshReader); ok {
		return f.GetPrincipalFresh(ctx, id)
	}
	return d.GetPrincipal(ctx, id)
}

// DefaultSearchLimit caps search results when the caller passes no limit
const DefaultSearchLimit = 20

// MaxSearchLimit is the largest page SearchPrincipals returns
const MaxSearchLimit = 100

// SQLDirectory implements Directory over the principals table
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a new SQL-backed directory
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// CreatePrincipal provisions a principal. An empty ID is filled with a new UUID.
func (d *SQLDirectory) CreatePrincipal(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("display name is required")
	}

	now := time.Now().UTC()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO principals (id, display_name, email, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.DisplayName, nullString(p.Email), nullString(p.Phone), string(p.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPrincipal retrieves a principal by ID
func (d *SQLDirectory) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, phone, status, created_at, updated_at
		FROM principals
		WHERE id = $1
	`, id)

	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

// SearchPrincipals finds principals whose name, email or phone contains query
func (d *SQLDirectory) SearchPrincipals(ctx context.Context, query string, limit int) ([]*Principal, error) {
	limit = clampLimit(limit)
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, display_name, email, phone, status, created_at, updated_at
		FROM principals
		WHERE LOWER(display_name) LIKE $1
		   OR LOWER(COALESCE(email, '')) LIKE $1
		   OR COALESCE(phone, '') LIKE $1
		ORDER BY display_name ASC, id ASC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search principals: %w", err)
	}
	defer rows.Close()

	var out []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus activates or suspends a principal
func (d *SQLDirectory) SetStatus(ctx context.Context, id string, status PrincipalStatus) error {
	if status != StatusActive && status != StatusSuspended {
		return fmt.Errorf("invalid principal status %q", status)
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE principals SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update principal status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var p Principal
	var email, phone sql.NullString
	var status string

	if err := row.Scan(&p.ID, &p.DisplayName, &email, &phone, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Email = email.String
	p.Phone = phone.String
	p.Status = PrincipalStatus(status)
	return &p, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
