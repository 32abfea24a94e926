package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlers(t *testing.T) *mux.Router {
	t.Helper()
	logger := setupSQLiteLogger(t)
	ctx := context.Background()
	require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleGrant, EventStatusSuccess, "admin-1", "member-1", baseTime)))
	require.NoError(t, logger.Log(ctx, makeEvent(EventTypeAccessDenied, EventStatusDenied, "member-2", "", baseTime.Add(time.Minute))))

	router := mux.NewRouter()
	NewHandlers(NewDBStore(logger, nil)).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandlers_ListEvents(t *testing.T) {
	router := setupHandlers(t)

	rec := serve(router, "/audit/events?event_types=role.grant,role.revoke")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []*Event `json:"events"`
		Count  int      `json:"count"`
		Limit  int      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, defaultPageSize, body.Limit)
	assert.Equal(t, "member-1", body.Events[0].TargetID)
}

func TestHandlers_ListEventsBadQuery(t *testing.T) {
	router := setupHandlers(t)

	for _, q := range []string{"limit=0", "limit=5000", "offset=-1", "start_time=yesterday", "limit=abc"} {
		t.Run(q, func(t *testing.T) {
			rec := serve(router, "/audit/events?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlers_GetEvent(t *testing.T) {
	router := setupHandlers(t)

	rec := serve(router, "/audit/events/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var event Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, EventTypeRoleGrant, event.EventType)

	assert.Equal(t, http.StatusNotFound, serve(router, "/audit/events/99").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, "/audit/events/abc").Code)
}

func TestHandlers_Export(t *testing.T) {
	router := setupHandlers(t)

	rec := serve(router, "/audit/export?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-events.csv")
	assert.Contains(t, rec.Body.String(), "authz.access_denied")

	assert.Equal(t, http.StatusBadRequest, serve(router, "/audit/export?format=pdf").Code)
}

func TestHandlers_Stats(t *testing.T) {
	router := setupHandlers(t)

	start := baseTime.Format(time.RFC3339)
	end := baseTime.Add(time.Hour).Format(time.RFC3339)
	rec := serve(router, fmt.Sprintf("/audit/stats?start_time=%s&end_time=%s", start, end))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.AccessDenials)
}

func TestHandlers_Middleware(t *testing.T) {
	logger := setupSQLiteLogger(t)
	router := mux.NewRouter()
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	NewHandlers(NewDBStore(logger, nil)).RegisterRoutes(router, deny)

	assert.Equal(t, http.StatusForbidden, serve(router, "/audit/events").Code)
}
