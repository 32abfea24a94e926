package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// Routes are the guard's redirect targets
	Routes Routes

	// CatalogFile is an optional YAML overlay for the built-in roles
	CatalogFile string
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		Routes: DefaultRoutes(),
	}
}

// Dependencies are the optional collaborators of the manager. Nil fields are
// replaced by no-op implementations.
type Dependencies struct {
	AuditLogger audit.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
}

// Manager manages all RBAC components
type Manager struct {
	catalog    *Catalog
	store      Store
	resolver   *Resolver
	guard      *Guard
	admin      *AdminService
	handlers   *Handlers
	middleware *PermissionMiddleware
	metrics    *observability.Metrics
	config     Config
}

// NewManager loads the catalog and wires resolver, guard, admin service and
// HTTP handlers over store. A catalog problem is returned as *ConfigError.
func NewManager(store Store, directory auth.Directory, config Config, deps Dependencies) (*Manager, error) {
	catalog, err := LoadCatalog(config.CatalogFile)
	if err != nil {
		return nil, err
	}
	if config.Routes == (Routes{}) {
		config.Routes = DefaultRoutes()
	}
	if deps.AuditLogger == nil {
		deps.AuditLogger = audit.NopLogger{}
	}

	resolver := NewResolver(store, catalog, deps.Metrics)
	guard := NewGuard(resolver, config.Routes, deps.Metrics)
	admin := NewAdminService(guard, store, directory,
		WithAuditLogger(deps.AuditLogger),
		WithMetrics(deps.Metrics, deps.OTelMetrics),
	)

	return &Manager{
		catalog:    catalog,
		store:      store,
		resolver:   resolver,
		guard:      guard,
		admin:      admin,
		handlers:   NewHandlers(admin, guard),
		middleware: NewPermissionMiddleware(guard, deps.AuditLogger, deps.OTelMetrics),
		metrics:    deps.Metrics,
		config:     config,
	}, nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router, middlewares ...mux.MiddlewareFunc) {
	m.handlers.RegisterRoutes(router, middlewares...)
}

// PublishActiveAssignments refreshes the active assignments gauge
func (m *Manager) PublishActiveAssignments(ctx context.Context) error {
	all, err := m.store.ListAllActive(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to count active assignments: %w", err)
	}
	counts := make(map[string]int, len(m.catalog.order))
	for _, id := range m.catalog.order {
		counts[string(id)] = 0
	}
	for _, a := range all {
		counts[string(a.RoleID)]++
	}
	m.metrics.SetActiveAssignments(counts)
	return nil
}

// VerifyAssignments checks that every assignment in force at now refers to a
// catalog role. Run it at startup; a mismatch is a *ConfigError.
func (m *Manager) VerifyAssignments(ctx context.Context, now time.Time) error {
	active, err := m.store.ListAllActive(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load active assignments: %w", err)
	}
	seen := make(map[RoleID]bool)
	var ids []RoleID
	for _, a := range active {
		if !seen[a.RoleID] {
			seen[a.RoleID] = true
			ids = append(ids, a.RoleID)
		}
	}
	return m.catalog.Require(ids...)
}

// Catalog returns the role catalog
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Store returns the assignment store
func (m *Manager) Store() Store {
	return m.store
}

// Resolver returns the permission resolver
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Guard returns the route guard
func (m *Manager) Guard() *Guard {
	return m.guard
}

// Admin returns the administrative mutation API
func (m *Manager) Admin() *AdminService {
	return m.admin
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Config returns the manager configuration
func (m *Manager) Config() Config {
	return m.config
}
