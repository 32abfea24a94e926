package credentials

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/alshuail/portal-access/pkg/storage"
)

// Credential is a stored password hash. The hash never leaves the service.
type Credential struct {
	PrincipalID  string    `json:"principal_id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists one credential per principal. Failures other than the
// sentinel errors of this package are returned as *rbac.StorageError.
type Store interface {
	HasCredential(ctx context.Context, principalID string) (bool, error)

	// GetCredential returns ErrNoExistingCredential when none is stored
	GetCredential(ctx context.Context, principalID string) (*Credential, error)

	// InsertCredential fails with ErrAlreadyHasCredential when one exists
	InsertCredential(ctx context.Context, c *Credential) error

	// SetCredential inserts or overwrites, keeping the original CreatedAt
	SetCredential(ctx context.Context, c *Credential) error

	// UpdateCredential replaces the hash, or fails with ErrNoExistingCredential
	UpdateCredential(ctx context.Context, principalID, hash string, now time.Time) error

	// DeleteCredential removes the credential, or fails with ErrNoExistingCredential
	DeleteCredential(ctx context.Context, principalID string) error
}

// SQLStore keeps credentials in the credentials table
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewSQLStore creates a credential store on PostgreSQL or SQLite
func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// HasCredential reports whether principalID has a password
func (s *SQLStore) HasCredential(ctx context.Context, principalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE principal_id = $1`, principalID,
	).Scan(&n)
	if err != nil {
		return false, storageErr("check credential", err)
	}
	return n > 0, nil
}

// GetCredential loads the credential of principalID
func (s *SQLStore) GetCredential(ctx context.Context, principalID string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, password_hash, created_at, updated_at
		FROM credentials
		WHERE principal_id = $1
	`, principalID).Scan(&c.PrincipalID, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoExistingCredential
	}
	if err != nil {
		return nil, storageErr("get credential", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// InsertCredential stores a new credential. A concurrent insert for the same
// principal loses on the primary key and reports ErrAlreadyHasCredential.
func (s *SQLStore) InsertCredential(ctx context.Context, c *Credential) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (principal_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO NOTHING
	`, c.PrincipalID, c.PasswordHash, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return storageErr("insert credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("insert credential", err)
	}
	if n == 0 {
		return ErrAlreadyHasCredential
	}
	return nil
}

// SetCredential upserts the credential of c.PrincipalID
func (s *SQLStore) SetCredential(ctx context.Context, c *Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (principal_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET password_hash = excluded.password_hash, updated_at = excluded.updated_at
	`, c.PrincipalID, c.PasswordHash, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return storageErr("set credential", err)
	}
	return nil
}

// UpdateCredential replaces an existing hash
func (s *SQLStore) UpdateCredential(ctx context.Context, principalID, hash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET password_hash = $1, updated_at = $2 WHERE principal_id = $3
	`, hash, now.UTC(), principalID)
	return s.requireRow("update credential", res, err)
}

// DeleteCredential removes the credential of principalID
func (s *SQLStore) DeleteCredential(ctx context.Context, principalID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE principal_id = $1`, principalID)
	return s.requireRow("delete credential", res, err)
}

func (s *SQLStore) requireRow(op string, res sql.Result, err error) error {
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return ErrNoExistingCredential
	}
	return nil
}

// MemoryStore is an in-process Store for tests and development
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates an empty credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (m *MemoryStore) HasCredential(ctx context.Context, principalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.creds[principalID]
	return ok, nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, principalID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[principalID]
	if !ok {
		return nil, ErrNoExistingCredential
	}
	return &c, nil
}

func (m *MemoryStore) InsertCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[c.PrincipalID]; ok {
		return ErrAlreadyHasCredential
	}
	m.creds[c.PrincipalID] = *c
	return nil
}

func (m *MemoryStore) SetCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *c
	if existing, ok := m.creds[c.PrincipalID]; ok {
		next.CreatedAt = existing.CreatedAt
	}
	m.creds[c.PrincipalID] = next
	return nil
}

func (m *MemoryStore) UpdateCredential(ctx context.Context, principalID, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[principalID]
	if !ok {
		return ErrNoExistingCredential
	}
	c.PasswordHash = hash
	c.UpdatedAt = now
	m.creds[principalID] = c
	return nil
}

func (m *MemoryStore) DeleteCredential(ctx context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[principalID]; !ok {
		return ErrNoExistingCredential
	}
	delete(m.creds, principalID)
	return nil
}
