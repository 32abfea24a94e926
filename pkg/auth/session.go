package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionSource yields the authenticated principal for a presented token.
// It is the only way request handling learns who the caller is.
type SessionSource interface {
	Authenticate(ctx context.Context, token string) (*AuthContext, error)
}

// SessionStore persists sessions keyed by token hash
type SessionStore interface {
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Load(ctx context.Context, tokenHash string) (*Session, error)
	Delete(ctx context.Context, tokenHash string) error
}

// SessionManager issues and validates sessions
type SessionManager struct {
	store     SessionStore
	directory Directory
	generator *TokenGenerator
	ttl       time.Duration
	now       func() time.Time
}

// NewSessionManager creates a session manager. Sessions live for ttl.
func NewSessionManager(store SessionStore, directory Directory, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{
		store:     store,
		directory: directory,
		generator: NewTokenGenerator(),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue creates a session for an active principal and returns the raw token once
func (m *SessionManager) Issue(ctx context.Context, principalID string) (string, *Session, error) {
	p, err := FreshPrincipal(ctx, m.directory, principalID)
	if err != nil {
		return "", nil, err
	}
	if !p.IsActive() {
		return "", nil, fmt.Errorf("%w: %s", ErrPrincipalSuspended, principalID)
	}

	token, hash, prefix, err := m.generator.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := m.now().UTC()
	s := &Session{
		TokenHash:   hash,
		TokenPrefix: prefix,
		PrincipalID: p.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return "", nil, fmt.Errorf("failed to save session: %w", err)
	}
	return token, s, nil
}

// Authenticate resolves a token to its principal. Suspended principals are rejected.
func (m *SessionManager) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if err := m.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s, err := m.store.Load(ctx, m.generator.HashToken(token))
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, ErrInvalidSession
	}

	p, err := FreshPrincipal(ctx, m.directory, s.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !p.IsActive() {
		return nil, ErrPrincipalSuspended
	}

	return &AuthContext{Principal: p, Session: s}, nil
}

// Revoke ends the session behind token
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.store.Delete(ctx, m.generator.HashToken(token))
}

// RedisSessionStore keeps sessions in Redis with the session expiry as key TTL
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (r *RedisSessionStore) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", r.prefix, tokenHash)
}

// sessionRecord is the stored form; Session hides its hash from JSON
type sessionRecord struct {
	TokenPrefix string    `json:"token_prefix"`
	PrincipalID string    `json:"principal_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Save stores the session with ttl as the key expiry
func (r *RedisSessionStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	data, err := json.Marshal(sessionRecord{
		TokenPrefix: s.TokenPrefix,
		PrincipalID: s.PrincipalID,
		IssuedAt:    s.IssuedAt,
		ExpiresAt:   s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return r.client.Set(ctx, r.key(s.TokenHash), data, ttl).Err()
}

// Load returns the session or ErrInvalidSession when absent
func (r *RedisSessionStore) Load(ctx context.Context, tokenHash string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(tokenHash)).Bytes()
	if err == redis.Nil {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &Session{
		TokenHash:   tokenHash,
		TokenPrefix: rec.TokenPrefix,
		PrincipalID: rec.PrincipalID,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Delete removes the session
func (r *RedisSessionStore) Delete(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, r.key(tokenHash)).Err()
}

// MemorySessionStore keeps sessions in process memory. Expiry is checked by SessionManager.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Save stores a copy of s
func (m *MemorySessionStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = *s
	return nil
}

// Load returns a copy of the stored session
func (m *MemorySessionStore) Load(ctx context.Context, tokenHash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrInvalidSession
	}
	return &s, nil
}

// Delete removes the session
func (m *MemorySessionStore) Delete(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}
