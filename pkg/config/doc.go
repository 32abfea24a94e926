// Package config loads the portal-access configuration from environment variables.
//
// # Overview
//
// LoadConfig reads ACCESS_* variables, applies defaults and validates the
// result. An invalid configuration is returned as an error and cmd/ treats it
// as fatal.
//
// # Configuration Structure
//
// Server settings:
//
//	ACCESS_HOST="0.0.0.0"
//	ACCESS_PORT="8080"
//	ACCESS_HEALTH_PORT="9090"
//	ACCESS_ALLOWED_ORIGINS="https://portal.example"
//
// Storage settings:
//
//	ACCESS_DB_DRIVER="postgres"           # postgres or sqlite3
//	ACCESS_DB_URL="postgres://localhost/portal"
//	ACCESS_DB_REPLICA_URLS="postgres://replica1/portal,postgres://replica2/portal"
//	ACCESS_REDIS_URL="redis://localhost:6379/0"   # sessions, distributed rate limit
//	ACCESS_AUTO_MIGRATE="true"
//
// Access control:
//
//	ACCESS_ROUTE_LOGIN="/login"
//	ACCESS_ROUTE_ADMIN_HOME="/admin/dashboard"
//	ACCESS_ROUTE_MEMBER_HOME="/member/dashboard"
//	ACCESS_CATALOG_FILE="/etc/portal/catalog.yaml"
//
// Credentials and sessions:
//
//	ACCESS_PASSWORD_MIN_LENGTH="8"
//	ACCESS_PASSWORD_REQUIRE_SYMBOL="false"
//	ACCESS_PASSWORD_BCRYPT_COST="12"
//	ACCESS_SESSION_TTL="12h"
//
// Audit:
//
//	ACCESS_AUDIT_FILE_PATH="/var/log/portal-access/audit"
//	ACCESS_AUDIT_RETENTION="8760h"
//	ACCESS_AUDIT_ARCHIVE_BUCKET="portal-audit"
//	ACCESS_AUDIT_ARCHIVE_PREFIX="audit"
//
// Observability:
//
//	ACCESS_LOG_LEVEL="info"
//	ACCESS_METRICS_ENABLED="true"
//	ACCESS_OTEL_ENABLED="false"
//	ACCESS_OTEL_ENDPOINT="localhost:4317"
//
// Malformed numeric, boolean and duration values fall back to the default.
package config
