package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest. Unknown fields are an
// error, so "expires" sent for "expires_at" fails instead of defaulting.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// The *OrError variants write a 400 and report false when parsing fails,
// leaving the handler to return.

func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	return orBadRequest(w, ParseJSON(r, dest))
}

func ParsePathString(r *http.Request, key string) (string, error) {
	val := mux.Vars(r)[key]
	if val == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return val, nil
}

func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	return val, orBadRequest(w, err)
}

func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str, err := ParsePathString(r, key)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	return val, orBadRequest(w, err)
}

func orBadRequest(w http.ResponseWriter, err error) bool {
	if err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// parseQuery applies parse to a present query value; absent values yield def.
func parseQuery[T any](r *http.Request, key, kind string, def T, parse func(string) (T, error)) (T, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return def, nil
	}
	val, err := parse(str)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s for query param %s: %q", kind, key, str)
	}
	return val, nil
}

func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	return parseQuery(r, key, "integer", defaultVal, strconv.Atoi)
}

func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	return parseQuery(r, key, "boolean", defaultVal, strconv.ParseBool)
}

// ParseQueryTime parses an RFC 3339 query parameter; absent yields nil
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	return parseQuery(r, key, "time", (*time.Time)(nil), func(s string) (*time.Time, error) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, err
		}
		return &t, nil
	})
}

func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryList splits a comma-separated query parameter, dropping blanks
func ParseQueryList(r *http.Request, key string) []string {
	var out []string
	for _, item := range strings.Split(r.URL.Query().Get(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// RequireNonEmpty writes a validation error naming fieldName when value is empty.
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		WriteValidationError(w, fmt.Sprintf("%s is required", fieldName))
		return false
	}
	return true
}
