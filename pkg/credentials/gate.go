package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/rbac"
)

var tracer = otel.Tracer("github.com/alshuail/portal-access/pkg/credentials")

const defaultRecentEvents = 20

// PasswordStatus describes a principal's password without exposing it
type PasswordStatus struct {
	Enabled   bool       `json:"enabled"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// SecurityInfo is the administrator's view of a principal's sign-in setup
type SecurityInfo struct {
	PrincipalID  string               `json:"principal_id"`
	DisplayName  string               `json:"display_name"`
	Status       auth.PrincipalStatus `json:"status"`
	Password     PasswordStatus       `json:"password"`
	RecentEvents []*audit.Event       `json:"recent_events"`
}

// Gate guards password administration. Every operation requires
// credentials:manage on the acting principal.
type Gate struct {
	guard        *rbac.Guard
	directory    auth.Directory
	store        Store
	hasher       Hasher
	policy       StrengthPolicy
	audit        audit.Logger
	searcher     audit.EventSearcher
	recentEvents int
	metrics      *observability.Metrics
	now          func() time.Time
}

// Option configures a Gate
type Option func(*Gate)

// WithAuditLogger sets the sink for credential events
func WithAuditLogger(l audit.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.audit = l
		}
	}
}

// WithEventSearcher enables recent events in SecurityInfo. limit <= 0 keeps the default.
func WithEventSearcher(s audit.EventSearcher, limit int) Option {
	return func(g *Gate) {
		g.searcher = s
		if limit > 0 {
			g.recentEvents = limit
		}
	}
}

// WithMetrics sets the Prometheus recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate creates the credential gate
func NewGate(guard *rbac.Guard, directory auth.Directory, store Store, hasher Hasher, policy StrengthPolicy, opts ...Option) *Gate {
	g := &Gate{
		guard:        guard,
		directory:    directory,
		store:        store,
		hasher:       hasher,
		policy:       policy,
		audit:        audit.NopLogger{},
		recentEvents: defaultRecentEvents,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the strength policy new secrets are checked against
func (g *Gate) Policy() StrengthPolicy {
	return g.policy
}

// CreatePassword sets the first password of targetID. When the target already
// has one the call fails with ErrAlreadyHasCredential unless force is set.
func (g *Gate) CreatePassword(ctx context.Context, actorID, targetID, secret string, force bool) error {
	ctx, span := tracer.Start(ctx, "credentials.Gate.CreatePassword")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actorID),
		attribute.String("principal.id", targetID),
		attribute.Bool("force", force),
	)

	err := g.createPassword(ctx, actorID, targetID, secret, force)
	g.finish(ctx, span, "create", audit.EventTypePasswordCreate, actorID, targetID, err, map[string]interface{}{"force": force})
	return err
}

func (g *Gate) createPassword(ctx context.Context, actorID, targetID, secret string, force bool) error {
	now := g.now().UTC()
	if err := g.precheck(ctx, actorID, targetID, secret, now); err != nil {
		return err
	}

	if !force {
		has, err := g.store.HasCredential(ctx, targetID)
		if err != nil {
			return err
		}
		if has {
			return ErrAlreadyHasCredential
		}
	}

	hash, err := g.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	c := &Credential{PrincipalID: targetID, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	if force {
		return g.store.SetCredential(ctx, c)
	}
	return g.store.InsertCredential(ctx, c)
}

// ResetPassword replaces an existing password. A target without one fails
// with ErrNoExistingCredential; reusing the current password is a policy
// violation.
func (g *Gate) ResetPassword(ctx context.Context, actorID, targetID, secret string) error {
	ctx, span := tracer.Start(ctx, "credentials.Gate.ResetPassword")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actorID),
		attribute.String("principal.id", targetID),
	)

	err := g.resetPassword(ctx, actorID, targetID, secret)
	g.finish(ctx, span, "reset", audit.EventTypePasswordReset, actorID, targetID, err, nil)
	return err
}

func (g *Gate) resetPassword(ctx context.Context, actorID, targetID, secret string) error {
	now := g.now().UTC()
	if err := g.precheck(ctx, actorID, targetID, secret, now); err != nil {
		return err
	}

	current, err := g.store.GetCredential(ctx, targetID)
	if err != nil {
		return err
	}
	if g.hasher.Compare(current.PasswordHash, secret) == nil {
		return &PolicyError{Violations: []Violation{reuseViolation}}
	}

	hash, err := g.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return g.store.UpdateCredential(ctx, targetID, hash, now)
}

// DeletePassword removes the password of targetID, leaving it with
// passwordless sign-in only
func (g *Gate) DeletePassword(ctx context.Context, actorID, targetID string) error {
	ctx, span := tracer.Start(ctx, "credentials.Gate.DeletePassword")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actorID),
		attribute.String("principal.id", targetID),
	)

	err := g.deletePassword(ctx, actorID, targetID)
	g.finish(ctx, span, "delete", audit.EventTypePasswordDelete, actorID, targetID, err, nil)
	return err
}

func (g *Gate) deletePassword(ctx context.Context, actorID, targetID string) error {
	if err := g.authorize(ctx, actorID, g.now().UTC()); err != nil {
		return err
	}
	if _, err := g.principal(ctx, targetID); err != nil {
		return err
	}
	return g.store.DeleteCredential(ctx, targetID)
}

// SecurityInfo reports whether targetID has a password and its latest
// security events, newest first
func (g *Gate) SecurityInfo(ctx context.Context, actorID, targetID string) (*SecurityInfo, error) {
	ctx, span := tracer.Start(ctx, "credentials.Gate.SecurityInfo")
	defer span.End()

	if err := g.authorize(ctx, actorID, g.now().UTC()); err != nil {
		return nil, err
	}
	p, err := g.principal(ctx, targetID)
	if err != nil {
		return nil, err
	}

	info := &SecurityInfo{
		PrincipalID:  p.ID,
		DisplayName:  p.DisplayName,
		Status:       p.Status,
		RecentEvents: []*audit.Event{},
	}

	c, err := g.store.GetCredential(ctx, targetID)
	switch {
	case errors.Is(err, ErrNoExistingCredential):
	case err != nil:
		return nil, err
	default:
		info.Password = PasswordStatus{Enabled: true, CreatedAt: &c.CreatedAt, UpdatedAt: &c.UpdatedAt}
	}

	if g.searcher != nil {
		events, err := g.searcher.Search(ctx, audit.SearchFilter{
			TargetID:   targetID,
			EventTypes: audit.SecurityEventTypes(),
			Limit:      g.recentEvents,
		})
		if err != nil {
			return nil, storageErr("search security events", err)
		}
		if events != nil {
			info.RecentEvents = events
		}
	}
	return info, nil
}

// precheck runs the checks shared by create and reset: permission first so
// an unauthorized caller learns nothing about the target, then the policy,
// then the target itself
func (g *Gate) precheck(ctx context.Context, actorID, targetID, secret string, now time.Time) error {
	if err := g.authorize(ctx, actorID, now); err != nil {
		return err
	}
	if err := g.policy.Validate(secret); err != nil {
		return err
	}
	_, err := g.principal(ctx, targetID)
	return err
}

func (g *Gate) authorize(ctx context.Context, actorID string, now time.Time) error {
	d, err := g.guard.Check(ctx, actorID, rbac.HasPermission(rbac.PermissionManageCredentials), now)
	if err != nil {
		return err
	}
	if !d.Allowed() {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, rbac.PermissionManageCredentials)
	}
	return nil
}

func (g *Gate) principal(ctx context.Context, targetID string) (*auth.Principal, error) {
	if targetID == "" {
		return nil, ErrPrincipalNotFound
	}
	p, err := g.directory.GetPrincipal(ctx, targetID)
	if errors.Is(err, auth.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, targetID)
	}
	if err != nil {
		return nil, storageErr("get principal", err)
	}
	return p, nil
}

// finish records the outcome of a mutation. The secret never reaches it.
func (g *Gate) finish(ctx context.Context, span trace.Span, op string, eventType audit.EventType, actorID, targetID string, err error, metadata map[string]interface{}) {
	g.metrics.RecordCredentialOperation(op, observability.ResultLabel(err))

	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.TargetID = targetID
	event.ResourceType = audit.ResourceTypeCredential
	event.ResourceID = targetID
	for k, v := range metadata {
		event.Metadata[k] = v
	}

	if err != nil {
		var pe *PolicyError
		switch {
		case errors.Is(err, ErrPermissionDenied):
			event.Status = audit.EventStatusDenied
		case errors.As(err, &pe):
			event.Metadata["violations"] = len(pe.Violations)
		}
		event.WithError(err)
		audit.Record(ctx, g.audit, event)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	event.Message = fmt.Sprintf("password %s for %s", op, targetID)
	audit.Record(ctx, g.audit, event)

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"actor_id":     actorID,
		"principal_id": targetID,
		"operation":    op,
	}).Info("Credential updated")
}
