package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and single-node development setups
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]*RoleAssignment
	newID       func() string
}

// NewMemoryStore creates an empty in-memory assignment store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assignments: make(map[string]*RoleAssignment),
		newID:       uuid.NewString,
	}
}

// ListActiveAssignments returns the principal's assignments in force at now
func (m *MemoryStore) ListActiveAssignments(ctx context.Context, principalID string, now time.Time) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.PrincipalID == principalID && a.IsActiveAt(now) {
			out = append(out, *a)
		}
	}
	sortAssignments(out)
	return out, nil
}

// ListAssignments returns the principal's full history, newest first
func (m *MemoryStore) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.PrincipalID == principalID {
			out = append(out, *a)
		}
	}
	sortAssignments(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListAllActive returns every assignment in force at now
func (m *MemoryStore) ListAllActive(ctx context.Context, now time.Time) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.IsActiveAt(now) {
			out = append(out, *a)
		}
	}
	sortAssignments(out)
	return out, nil
}

// GetAssignment returns a copy of the assignment
func (m *MemoryStore) GetAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[assignmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	cp := *a
	return &cp, nil
}

// Grant creates an assignment unless an overlapping one of the same role exists
func (m *MemoryStore) Grant(ctx context.Context, p GrantParams) (*RoleAssignment, error) {
	if !p.Window.Valid() {
		return nil, ErrInvalidWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.assignments {
		if existing.PrincipalID != p.PrincipalID || existing.RoleID != p.RoleID {
			continue
		}
		if existing.Overlaps(p.Window) {
			return nil, fmt.Errorf("%w: %s already holds %s (assignment %s)",
				ErrDuplicateActiveRole, p.PrincipalID, p.RoleID, existing.ID)
		}
	}

	a := newAssignment(m.newID(), p)
	m.assignments[a.ID] = a
	cp := *a
	return &cp, nil
}

// Revoke marks the assignment revoked; repeated calls leave it unchanged
func (m *MemoryStore) Revoke(ctx context.Context, assignmentID, revokedBy string, now time.Time) (*RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[assignmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	if a.RevokedAt == nil {
		t := now.UTC()
		a.RevokedAt = &t
		a.RevokedBy = revokedBy
	}
	cp := *a
	return &cp, nil
}
