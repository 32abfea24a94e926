package config

import (
	"strings"
	"testing"
	"time"

	"github.com/alshuail/portal-access/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"TRUE", "TRUE", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"anything else", "yes", true, false},
		{"unset", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric helpers, which fall back on parse errors
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_INT64", "1048576")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "ninety")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want default 7", got)
	}
	if got := getEnvInt64("TEST_INT64", 1); got != 1048576 {
		t.Errorf("getEnvInt64() = %d, want 1048576", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with bad value = %v, want default", got)
	}
}

// TestGetEnvList tests the comma-separated list helper
func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example, ,https://b.example ")

	got := getEnvList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("getEnvList() = %v", got)
	}
	if got := getEnvList("TEST_LIST_UNSET", []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Errorf("getEnvList() default = %v", got)
	}
}

// validConfig returns a configuration that passes Validate
func validConfig() *Config {
	cfg := &Config{
		Server:         loadServerConfig(),
		Storage:        loadStorageConfig(),
		Routes:         loadRoutesConfig(),
		Password:       loadPasswordConfig(),
		Session:        loadSessionConfig(),
		DirectoryCache: loadDirectoryCacheConfig(),
		RateLimit:      loadRateLimitConfig(),
		Audit:          loadAuditConfig(),
		Observability:  loadObservabilityConfig(),
	}
	cfg.Storage.Database.PrimaryURL = "postgres://portal@localhost/portal?sslmode=disable"
	return cfg
}

// TestLoadDefaults checks the defaults used when no variables are set
func TestLoadDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Storage.Database.Driver != "postgres" {
		t.Errorf("driver = %s, want postgres", cfg.Storage.Database.Driver)
	}
	if cfg.Storage.RedisEnabled() {
		t.Error("redis should be disabled without ACCESS_REDIS_URL")
	}
	if cfg.Routes.Login != "/login" || cfg.Routes.AdminHome != "/admin/dashboard" || cfg.Routes.MemberHome != "/member/dashboard" {
		t.Errorf("unexpected routes %+v", cfg.Routes)
	}
	if cfg.Password.MinLength != 8 || cfg.Password.MaxLength != 72 {
		t.Errorf("unexpected password lengths %+v", cfg.Password)
	}
	if cfg.Session.TTL != 12*time.Hour {
		t.Errorf("session TTL = %v", cfg.Session.TTL)
	}
	if cfg.Audit.ArchiveEnabled() {
		t.Error("archive should be disabled without a bucket")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("log level = %v", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

// TestLoadConfig_FromEnvironment loads every section from ACCESS_* variables
func TestLoadConfig_FromEnvironment(t *testing.T) {
	env := map[string]string{
		"ACCESS_PORT":                     "8443",
		"ACCESS_DB_DRIVER":                "sqlite3",
		"ACCESS_DB_URL":                   "file:portal.db",
		"ACCESS_DB_REPLICA_URLS":          "file:r1.db,file:r2.db",
		"ACCESS_REDIS_URL":                "redis://localhost:6379/0",
		"ACCESS_ROUTE_ADMIN_HOME":         "/admin",
		"ACCESS_CATALOG_FILE":             "/etc/portal/catalog.yaml",
		"ACCESS_PASSWORD_MIN_LENGTH":      "10",
		"ACCESS_PASSWORD_REQUIRE_SYMBOL":  "true",
		"ACCESS_SESSION_TTL":              "30m",
		"ACCESS_DIRECTORY_CACHE_SIZE":     "64",
		"ACCESS_RATE_LIMIT_DISTRIBUTED":   "true",
		"ACCESS_AUDIT_ARCHIVE_BUCKET":     "portal-audit",
		"ACCESS_AUDIT_ARCHIVE_PATH_STYLE": "1",
		"ACCESS_LOG_LEVEL":                "debug",
		"ACCESS_OTEL_SAMPLE_RATIO":        "0.1",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8443" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Storage.Database.Driver != "sqlite3" || len(cfg.Storage.Database.ReplicaURLs) != 2 {
		t.Errorf("database = %+v", cfg.Storage.Database)
	}
	if !cfg.Storage.RedisEnabled() {
		t.Error("redis should be enabled")
	}
	if cfg.Routes.AdminHome != "/admin" {
		t.Errorf("admin home = %s", cfg.Routes.AdminHome)
	}
	if cfg.Catalog.File != "/etc/portal/catalog.yaml" {
		t.Errorf("catalog file = %s", cfg.Catalog.File)
	}
	if cfg.Password.MinLength != 10 || !cfg.Password.RequireSymbol {
		t.Errorf("password = %+v", cfg.Password)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("session TTL = %v", cfg.Session.TTL)
	}
	if cfg.DirectoryCache.Size != 64 {
		t.Errorf("cache size = %d", cfg.DirectoryCache.Size)
	}
	if !cfg.RateLimit.Distributed {
		t.Error("distributed rate limiting should be on")
	}
	if !cfg.Audit.ArchiveEnabled() || !cfg.Audit.ArchivePathStyle {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel || cfg.Observability.OTelSampleRatio != 0.1 {
		t.Errorf("observability = %+v", cfg.Observability)
	}
}

// TestLoadConfig_MissingDatabase fails without a database URL
func TestLoadConfig_MissingDatabase(t *testing.T) {
	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "ACCESS_DB_URL") {
		t.Errorf("LoadConfig() error = %v, want missing database URL", err)
	}
}

// TestConfigValidate covers each validation rule
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Database.Driver = "mysql" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "empty route",
			mutate:  func(c *Config) { c.Routes.MemberHome = "" },
			wantErr: "routes are required",
		},
		{
			name:    "max below min",
			mutate:  func(c *Config) { c.Password.MinLength = 12; c.Password.MaxLength = 10 },
			wantErr: "below minimum",
		},
		{
			name:    "max beyond bcrypt limit",
			mutate:  func(c *Config) { c.Password.MaxLength = 128 },
			wantErr: "cannot exceed 72",
		},
		{
			name:    "bcrypt cost",
			mutate:  func(c *Config) { c.Password.BcryptCost = 2 },
			wantErr: "bcrypt cost",
		},
		{
			name:    "session ttl",
			mutate:  func(c *Config) { c.Session.TTL = 0 },
			wantErr: "session TTL",
		},
		{
			name:    "cache size",
			mutate:  func(c *Config) { c.DirectoryCache.Size = 0 },
			wantErr: "directory cache size",
		},
		{
			name:   "cache size ignored when disabled",
			mutate: func(c *Config) { c.DirectoryCache.Enabled = false; c.DirectoryCache.Size = 0 },
		},
		{
			name:    "distributed limiter without redis",
			mutate:  func(c *Config) { c.RateLimit.Distributed = true },
			wantErr: "requires ACCESS_REDIS_URL",
		},
		{
			name:    "zero credential limit",
			mutate:  func(c *Config) { c.RateLimit.CredentialPerMinute = 0 },
			wantErr: "rate limits must be positive",
		},
		{
			name:    "otel without endpoint",
			mutate:  func(c *Config) { c.Observability.OTelEnabled = true; c.Observability.OTelEndpoint = "" },
			wantErr: "OpenTelemetry endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
