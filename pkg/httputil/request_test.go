package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantBody struct {
	RoleID string `json:"role_id"`
	Notes  string `json:"notes"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name: "valid JSON",
			body: `{"role_id": "financial_manager", "notes": "treasurer"}`,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "unknown field",
			body:        `{"role_id": "financial_manager", "expires": "2026-01-01"}`,
			expectError: true,
		},
		{
			name:        "empty body",
			body:        ``,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			var dest grantBody

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "financial_manager", dest.RoleID)
				assert.Equal(t, "treasurer", dest.Notes)
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{invalid}`))
	var dest grantBody

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		pathValue   string
		expectValue int64
		expectError bool
	}{
		{
			name:        "valid int64",
			pathValue:   "9223372036854775807",
			expectValue: 9223372036854775807,
		},
		{
			name:        "invalid int64",
			pathValue:   "abc",
			expectError: true,
		},
		{
			name:        "empty value",
			pathValue:   "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.pathValue})

			val, err := ParsePathInt64(req, "id")

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectValue, val)
			}
		})
	}
}

func TestParsePathInt64OrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/test/abc", nil), map[string]string{"id": "abc"})

	val, ok := ParsePathInt64OrError(w, req, "id")

	assert.False(t, ok)
	assert.Zero(t, val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/test", nil), map[string]string{"id": "p-1"})

	val, err := ParsePathString(req, "id")
	assert.NoError(t, err)
	assert.Equal(t, "p-1", val)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing path parameter: missing")
}

func TestParseQueryInt(t *testing.T) {
	val, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/test?limit=5", nil), "limit", 20)
	assert.NoError(t, err)
	assert.Equal(t, 5, val)

	val, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/test", nil), "limit", 20)
	assert.NoError(t, err)
	assert.Equal(t, 20, val)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/test?limit=ten", nil), "limit", 20)
	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	assert.Equal(t, "sara", ParseQueryString(httptest.NewRequest(http.MethodGet, "/test?q=sara", nil), "q", ""))
	assert.Equal(t, "all", ParseQueryString(httptest.NewRequest(http.MethodGet, "/test", nil), "q", "all"))
}

func TestParseQueryBool(t *testing.T) {
	val, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/test?history=true", nil), "history", false)
	assert.NoError(t, err)
	assert.True(t, val)

	val, err = ParseQueryBool(httptest.NewRequest(http.MethodGet, "/test", nil), "history", false)
	assert.NoError(t, err)
	assert.False(t, val)

	_, err = ParseQueryBool(httptest.NewRequest(http.MethodGet, "/test?history=maybe", nil), "history", false)
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	assert.True(t, RequireNonEmpty(w, "financial_manager", "role_id"))
	assert.False(t, RequireNonEmpty(w, "", "role_id"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "role_id is required")
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestParseQueryTime(t *testing.T) {
	got, err := ParseQueryTime(httptest.NewRequest(http.MethodGet, "/test?start_time=2026-03-01T08:30:00Z", nil), "start_time")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 8, got.Hour())

	got, err = ParseQueryTime(httptest.NewRequest(http.MethodGet, "/test", nil), "start_time")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseQueryTime(httptest.NewRequest(http.MethodGet, "/test?start_time=yesterday", nil), "start_time")
	assert.Error(t, err)
}

func TestParseQueryList(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test?event_types=password_create,%20,password_reset", nil)
	assert.Equal(t, []string{"password_create", "password_reset"}, ParseQueryList(r, "event_types"))
	assert.Nil(t, ParseQueryList(httptest.NewRequest(http.MethodGet, "/test", nil), "event_types"))
}
