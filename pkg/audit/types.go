package audit

import (
	"strings"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Role assignment events
	EventTypeRoleGrant  EventType = "role.grant"
	EventTypeRoleRevoke EventType = "role.revoke"

	// Authorization events
	EventTypeAccessDenied   EventType = "authz.access_denied"
	EventTypeAccessRedirect EventType = "authz.access_redirect"

	// Credential events
	EventTypePasswordCreate EventType = "credential.password_create"
	EventTypePasswordReset  EventType = "credential.password_reset"
	EventTypePasswordDelete EventType = "credential.password_delete"

	// Session events
	EventTypeSessionIssue   EventType = "auth.session_issue"
	EventTypeSessionRevoke  EventType = "auth.session_revoke"
	EventTypeSessionInvalid EventType = "auth.session_invalid"

	// Administrative events
	EventTypeBootstrap         EventType = "admin.bootstrap"
	EventTypePrincipalSuspend  EventType = "admin.principal_suspend"
	EventTypePrincipalActivate EventType = "admin.principal_activate"
)

// IsSecurity reports whether the event concerns a principal's credentials or sessions
func (t EventType) IsSecurity() bool {
	s := string(t)
	return strings.HasPrefix(s, "credential.") || strings.HasPrefix(s, "auth.")
}

// SecurityEventTypes lists the event types shown in a principal's security view
func SecurityEventTypes() []EventType {
	return []EventType{
		EventTypePasswordCreate,
		EventTypePasswordReset,
		EventTypePasswordDelete,
		EventTypeSessionIssue,
		EventTypeSessionRevoke,
		EventTypeSessionInvalid,
	}
}

// EventStatus represents the outcome of an audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the kind of object an event is about
type ResourceType string

const (
	ResourceTypeRoleAssignment ResourceType = "role_assignment"
	ResourceTypePrincipal      ResourceType = "principal"
	ResourceTypeCredential     ResourceType = "credential"
	ResourceTypeSession        ResourceType = "session"
	ResourceTypeRoute          ResourceType = "route"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is the principal that performed the operation; TargetID the principal it affected
	ActorID  string `json:"actor_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails records state before and after a mutation
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter selects audit events. StartTime is inclusive, EndTime exclusive.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID  string
	TargetID string

	EventTypes   []EventType
	Status       EventStatus
	ResourceType ResourceType
	ResourceID   string

	Limit     int
	Offset    int
	Ascending bool
}

// ExportFormat selects the serialization of exported events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// Stats summarizes audit events in a time range
type Stats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueActors   int64                 `json:"unique_actors"`
	AccessDenials  int64                 `json:"access_denials"`
	TimeRange      *TimeRange            `json:"time_range,omitempty"`
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
