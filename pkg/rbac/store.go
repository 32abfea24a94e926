package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alshuail/portal-access/pkg/storage"
)

// Store is the persistence boundary for role assignments.
//
// Implementations must serve ListActiveAssignments from a single consistent read and
// must run the duplicate check and the write of Grant/Revoke atomically, serialized
// per (principal, role). Failures other than the sentinel errors of this package are
// returned as *StorageError.
type Store interface {
	// ListActiveAssignments returns assignments of principalID in force at now
	ListActiveAssignments(ctx context.Context, principalID string, now time.Time) ([]RoleAssignment, error)

	// ListAssignments returns every assignment of principalID, including expired and revoked ones
	ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)

	// ListAllActive returns every assignment in force at now across all principals
	ListAllActive(ctx context.Context, now time.Time) ([]RoleAssignment, error)

	// GetAssignment returns a single assignment or ErrAssignmentNotFound
	GetAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error)

	// Grant creates an assignment, or fails with ErrDuplicateActiveRole when a
	// non-revoked assignment of the same role overlaps the window
	Grant(ctx context.Context, params GrantParams) (*RoleAssignment, error)

	// Revoke sets RevokedAt. Revoking an already revoked assignment is a no-op.
	Revoke(ctx context.Context, assignmentID, revokedBy string, now time.Time) (*RoleAssignment, error)
}

// GrantParams describes a new assignment
type GrantParams struct {
	PrincipalID string
	RoleID      RoleID
	Window      Window
	GrantedBy   string
	Notes       string
	Now         time.Time
}

const assignmentColumns = `id, principal_id, role_id, granted_at, expires_at, revoked_at, granted_by, revoked_by, notes, created_at`

// SQLStore handles role assignment persistence on PostgreSQL or SQLite
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	locks   *keyedMutex
	newID   func() string
}

// NewSQLStore creates a new SQL-backed assignment store
func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		locks:   newKeyedMutex(),
		newID:   uuid.NewString,
	}
}

// ListActiveAssignments returns the principal's assignments in force at now.
// The candidate rows come from one SELECT so the result is a consistent snapshot.
func (s *SQLStore) ListActiveAssignments(ctx context.Context, principalID string, now time.Time) ([]RoleAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE principal_id = $1 AND revoked_at IS NULL
		ORDER BY granted_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, storageErr("list active assignments", err)
	}
	all, err := scanAssignments(rows)
	if err != nil {
		return nil, storageErr("list active assignments", err)
	}
	return filterActive(all, now), nil
}

// ListAssignments returns the principal's full assignment history, newest first
func (s *SQLStore) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE principal_id = $1
		ORDER BY granted_at DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, storageErr("list assignments", err)
	}
	out, err := scanAssignments(rows)
	if err != nil {
		return nil, storageErr("list assignments", err)
	}
	return out, nil
}

// ListAllActive returns every assignment in force at now, grouped by principal
func (s *SQLStore) ListAllActive(ctx context.Context, now time.Time) ([]RoleAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE revoked_at IS NULL
		ORDER BY principal_id ASC, granted_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list all active assignments", err)
	}
	all, err := scanAssignments(rows)
	if err != nil {
		return nil, storageErr("list all active assignments", err)
	}
	return filterActive(all, now), nil
}

// GetAssignment retrieves an assignment by ID
func (s *SQLStore) GetAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error) {
	return s.getAssignment(ctx, s.db, assignmentID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) getAssignment(ctx context.Context, q queryer, assignmentID string) (*RoleAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE id = $1
	`

	a, err := scanAssignment(q.QueryRowContext(ctx, query, assignmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	if err != nil {
		return nil, storageErr("get assignment", err)
	}
	return a, nil
}

// Grant inserts a new assignment after checking for an overlapping assignment of the
// same role. Check and insert share one transaction.
func (s *SQLStore) Grant(ctx context.Context, p GrantParams) (*RoleAssignment, error) {
	if !p.Window.Valid() {
		return nil, ErrInvalidWindow
	}

	unlock := s.locks.Lock(lockKey(p.PrincipalID, p.RoleID))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin grant", err)
	}
	defer tx.Rollback()

	if err := s.lockPair(ctx, tx, p.PrincipalID, p.RoleID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE principal_id = $1 AND role_id = $2 AND revoked_at IS NULL
	`
	rows, err := tx.QueryContext(ctx, query, p.PrincipalID, string(p.RoleID))
	if err != nil {
		return nil, storageErr("check overlapping assignments", err)
	}
	existing, err := scanAssignments(rows)
	if err != nil {
		return nil, storageErr("check overlapping assignments", err)
	}
	for i := range existing {
		if existing[i].Overlaps(p.Window) {
			return nil, fmt.Errorf("%w: %s already holds %s (assignment %s)",
				ErrDuplicateActiveRole, p.PrincipalID, p.RoleID, existing[i].ID)
		}
	}

	a := newAssignment(s.newID(), p)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO role_assignments (id, principal_id, role_id, granted_at, expires_at, revoked_at, granted_by, revoked_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, NULL, $7, $8)
	`,
		a.ID,
		a.PrincipalID,
		string(a.RoleID),
		a.GrantedAt,
		nullTime(a.ExpiresAt),
		nullString(a.GrantedBy),
		a.Notes,
		a.CreatedAt,
	)
	if err != nil {
		return nil, storageErr("insert assignment", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit grant", err)
	}
	return a, nil
}

// Revoke marks an assignment revoked. An already revoked assignment is returned unchanged.
func (s *SQLStore) Revoke(ctx context.Context, assignmentID, revokedBy string, now time.Time) (*RoleAssignment, error) {
	current, err := s.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.RevokedAt != nil {
		return current, nil
	}

	unlock := s.locks.Lock(lockKey(current.PrincipalID, current.RoleID))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin revoke", err)
	}
	defer tx.Rollback()

	if err := s.lockPair(ctx, tx, current.PrincipalID, current.RoleID); err != nil {
		return nil, err
	}

	revokedAt := now.UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE role_assignments
		SET revoked_at = $1, revoked_by = $2
		WHERE id = $3 AND revoked_at IS NULL
	`, revokedAt, nullString(revokedBy), assignmentID); err != nil {
		return nil, storageErr("revoke assignment", err)
	}

	updated, err := s.getAssignment(ctx, tx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit revoke", err)
	}
	return updated, nil
}

// lockPair takes a transaction-scoped advisory lock on PostgreSQL so that separate
// processes serialize on the same (principal, role) pair. SQLite serializes writers itself.
func (s *SQLStore) lockPair(ctx context.Context, tx *sql.Tx, principalID string, roleID RoleID) error {
	if s.dialect != storage.DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey(principalID, roleID)); err != nil {
		return storageErr("lock assignment pair", err)
	}
	return nil
}

func newAssignment(id string, p GrantParams) *RoleAssignment {
	a := &RoleAssignment{
		ID:          id,
		PrincipalID: p.PrincipalID,
		RoleID:      p.RoleID,
		GrantedAt:   p.Window.Start.UTC(),
		GrantedBy:   p.GrantedBy,
		Notes:       p.Notes,
		CreatedAt:   p.Now.UTC(),
	}
	if p.Window.End != nil {
		end := p.Window.End.UTC()
		a.ExpiresAt = &end
	}
	return a
}

func lockKey(principalID string, roleID RoleID) string {
	return principalID + "/" + string(roleID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var a RoleAssignment
	var roleID string
	var expiresAt, revokedAt sql.NullTime
	var grantedBy, revokedBy, notes sql.NullString

	err := row.Scan(
		&a.ID,
		&a.PrincipalID,
		&roleID,
		&a.GrantedAt,
		&expiresAt,
		&revokedAt,
		&grantedBy,
		&revokedBy,
		&notes,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RoleID = RoleID(roleID)
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		a.RevokedAt = &t
	}
	a.GrantedBy = grantedBy.String
	a.RevokedBy = revokedBy.String
	a.Notes = notes.String
	return &a, nil
}

func scanAssignments(rows *sql.Rows) ([]RoleAssignment, error) {
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func filterActive(all []RoleAssignment, now time.Time) []RoleAssignment {
	out := make([]RoleAssignment, 0, len(all))
	for i := range all {
		if all[i].IsActiveAt(now) {
			out = append(out, all[i])
		}
	}
	return out
}

func sortAssignments(list []RoleAssignment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].PrincipalID != list[j].PrincipalID {
			return list[i].PrincipalID < list[j].PrincipalID
		}
		if !list[i].GrantedAt.Equal(list[j].GrantedAt) {
			return list[i].GrantedAt.Before(list[j].GrantedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
