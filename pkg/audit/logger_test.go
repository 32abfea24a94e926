package audit

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/observability"
)

// memoryLogger keeps events in memory for assertions
type memoryLogger struct {
	mu     sync.Mutex
	events []*Event
	err    error
	closed bool
}

func (m *memoryLogger) Log(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestNewEvent_TakesIdentityFromContext(t *testing.T) {
	ctx := observability.WithPrincipalID(context.Background(), "admin-7")
	ctx = observability.WithRequestID(ctx, "req-123")

	event := NewEvent(ctx, EventTypeRoleRevoke, EventStatusSuccess)
	assert.Equal(t, "admin-7", event.ActorID)
	assert.Equal(t, "req-123", event.RequestID)
	assert.Equal(t, EventTypeRoleRevoke, event.EventType)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent(context.Background(), EventTypeRoleGrant, EventStatusSuccess).WithError(errors.New("duplicate role"))
	assert.Equal(t, EventStatusFailure, event.Status)
	assert.Equal(t, "duplicate role", event.ErrorMessage)

	denied := NewEvent(context.Background(), EventTypeAccessDenied, EventStatusDenied).WithError(errors.New("no role"))
	assert.Equal(t, EventStatusDenied, denied.Status)

	untouched := NewEvent(context.Background(), EventTypeRoleGrant, EventStatusSuccess).WithError(nil)
	assert.Equal(t, EventStatusSuccess, untouched.Status)
}

func TestEvent_WithRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/access/assignments", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("User-Agent", "portal-test")

	event := NewEvent(context.Background(), EventTypeRoleGrant, EventStatusSuccess).WithRequest(req)
	assert.Equal(t, "192.0.2.10", event.IPAddress)
	assert.Equal(t, "portal-test", event.UserAgent)
	assert.Equal(t, "POST", event.Method)
	assert.Equal(t, "/api/access/assignments", event.Path)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "198.51.100.4:1234", "198.51.100.4"},
		{"remote without port", nil, "198.51.100.4", "198.51.100.4"},
		{"forwarded for first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.7"}, "10.0.0.1:80", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestRecord_SwallowsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	appLogger := observability.NewLogger(observability.InfoLevel, &buf)
	ctx := observability.WithLogger(context.Background(), appLogger)

	sink := &memoryLogger{err: errors.New("disk full")}
	Record(ctx, sink, NewEvent(ctx, EventTypeRoleGrant, EventStatusSuccess))

	assert.Contains(t, buf.String(), "failed to record audit event")
	assert.Contains(t, buf.String(), "disk full")

	Record(ctx, nil, NewEvent(ctx, EventTypeRoleGrant, EventStatusSuccess))
	Record(ctx, sink, nil)
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background()).(NopLogger)
	assert.True(t, ok)

	sink := &memoryLogger{}
	ctx := WithLogger(context.Background(), sink)
	require.Equal(t, sink, FromContext(ctx))
}

func TestEventType_IsSecurity(t *testing.T) {
	for _, et := range SecurityEventTypes() {
		assert.True(t, et.IsSecurity(), et)
	}
	assert.False(t, EventTypeRoleGrant.IsSecurity())
	assert.False(t, EventTypeAccessDenied.IsSecurity())
}
