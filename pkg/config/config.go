package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Storage        StorageConfig
	Routes         RoutesConfig
	Catalog        CatalogConfig
	Password       PasswordConfig
	Session        SessionConfig
	DirectoryCache DirectoryCacheConfig
	RateLimit      RateLimitConfig
	Audit          AuditConfig
	Observability  ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds the database and Redis connections
type StorageConfig struct {
	Database storage.ConnectionConfig
	Redis    storage.RedisConfig

	// AutoMigrate applies pending migrations at startup
	AutoMigrate bool
}

// RedisEnabled reports whether a Redis URL was configured
func (s StorageConfig) RedisEnabled() bool {
	return s.Redis.URL != ""
}

// RoutesConfig names the guard's redirect targets
type RoutesConfig struct {
	Login      string
	AdminHome  string
	MemberHome string
}

// CatalogConfig locates the optional role catalog overlay
type CatalogConfig struct {
	File string
}

// PasswordConfig is the strength policy applied to new secrets
type PasswordConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	BcryptCost     int
	SecurityEvents int // recent audit events shown in security info
}

// SessionConfig controls session lifetime and transport
type SessionConfig struct {
	TTL          time.Duration
	RedisPrefix  string
	CookieSecure bool
}

// DirectoryCacheConfig sizes the principal profile cache
type DirectoryCacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration
}

// RateLimitConfig holds request limits; credential routes get their own, lower limit
type RateLimitConfig struct {
	Enabled             bool
	RequestsPerMinute   int
	Burst               int
	CredentialPerMinute int
	Distributed         bool
	RedisPrefix         string
	FailOpen            bool
}

// AuditConfig configures audit sinks, retention and archiving
type AuditConfig struct {
	FilePath      string
	AsyncWorkers  int
	AsyncQueue    int
	Retention     time.Duration
	CleanupPeriod time.Duration

	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchivePathStyle bool
}

// ArchiveEnabled reports whether expiring events are shipped to S3
func (a AuditConfig) ArchiveEnabled() bool {
	return a.ArchiveBucket != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from ACCESS_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:         loadServerConfig(),
		Storage:        loadStorageConfig(),
		Routes:         loadRoutesConfig(),
		Catalog:        CatalogConfig{File: getEnv("ACCESS_CATALOG_FILE", "")},
		Password:       loadPasswordConfig(),
		Session:        loadSessionConfig(),
		DirectoryCache: loadDirectoryCacheConfig(),
		RateLimit:      loadRateLimitConfig(),
		Audit:          loadAuditConfig(),
		Observability:  loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ACCESS_HOST", "0.0.0.0"),
		Port:            getEnv("ACCESS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ACCESS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ACCESS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ACCESS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ACCESS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ACCESS_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("ACCESS_ALLOWED_ORIGINS", nil),
		HealthPort:      getEnv("ACCESS_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	db := storage.DefaultConnectionConfig()
	db.Driver = getEnv("ACCESS_DB_DRIVER", db.Driver)
	db.PrimaryURL = getEnv("ACCESS_DB_URL", "")
	db.ReplicaURLs = storage.ParseReplicaURLs(getEnv("ACCESS_DB_REPLICA_URLS", ""))
	if maxConns := getEnvInt("ACCESS_DB_MAX_CONNS", 0); maxConns > 0 {
		db.MaxConns = maxConns
	}
	if minConns := getEnvInt("ACCESS_DB_MIN_CONNS", 0); minConns > 0 {
		db.MinConns = minConns
	}
	if timeout := getEnvDuration("ACCESS_DB_TIMEOUT", 0); timeout > 0 {
		db.Timeout = timeout
	}

	redis := storage.RedisConfig{
		URL:        getEnv("ACCESS_REDIS_URL", ""),
		Password:   getEnv("ACCESS_REDIS_PASSWORD", ""),
		DB:         getEnvInt("ACCESS_REDIS_DB", 0),
		MaxRetries: getEnvInt("ACCESS_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("ACCESS_REDIS_POOL_SIZE", 10),
	}

	return StorageConfig{
		Database:    db,
		Redis:       redis,
		AutoMigrate: getEnvBool("ACCESS_AUTO_MIGRATE", true),
	}
}

func loadRoutesConfig() RoutesConfig {
	return RoutesConfig{
		Login:      getEnv("ACCESS_ROUTE_LOGIN", "/login"),
		AdminHome:  getEnv("ACCESS_ROUTE_ADMIN_HOME", "/admin/dashboard"),
		MemberHome: getEnv("ACCESS_ROUTE_MEMBER_HOME", "/member/dashboard"),
	}
}

func loadPasswordConfig() PasswordConfig {
	return PasswordConfig{
		MinLength:      getEnvInt("ACCESS_PASSWORD_MIN_LENGTH", 8),
		MaxLength:      getEnvInt("ACCESS_PASSWORD_MAX_LENGTH", 72),
		RequireUpper:   getEnvBool("ACCESS_PASSWORD_REQUIRE_UPPER", true),
		RequireLower:   getEnvBool("ACCESS_PASSWORD_REQUIRE_LOWER", true),
		RequireDigit:   getEnvBool("ACCESS_PASSWORD_REQUIRE_DIGIT", true),
		RequireSymbol:  getEnvBool("ACCESS_PASSWORD_REQUIRE_SYMBOL", false),
		BcryptCost:     getEnvInt("ACCESS_PASSWORD_BCRYPT_COST", 12),
		SecurityEvents: getEnvInt("ACCESS_SECURITY_RECENT_EVENTS", 10),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          getEnvDuration("ACCESS_SESSION_TTL", 12*time.Hour),
		RedisPrefix:  getEnv("ACCESS_SESSION_PREFIX", "session"),
		CookieSecure: getEnvBool("ACCESS_SESSION_COOKIE_SECURE", true),
	}
}

func loadDirectoryCacheConfig() DirectoryCacheConfig {
	return DirectoryCacheConfig{
		Enabled: getEnvBool("ACCESS_DIRECTORY_CACHE_ENABLED", true),
		Size:    getEnvInt("ACCESS_DIRECTORY_CACHE_SIZE", 1024),
		TTL:     getEnvDuration("ACCESS_DIRECTORY_CACHE_TTL", time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:             getEnvBool("ACCESS_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute:   getEnvInt("ACCESS_RATE_LIMIT_PER_MINUTE", 1000),
		Burst:               getEnvInt("ACCESS_RATE_LIMIT_BURST", 50),
		CredentialPerMinute: getEnvInt("ACCESS_RATE_LIMIT_CREDENTIAL_PER_MINUTE", 10),
		Distributed:         getEnvBool("ACCESS_RATE_LIMIT_DISTRIBUTED", false),
		RedisPrefix:         getEnv("ACCESS_RATE_LIMIT_PREFIX", "ratelimit"),
		FailOpen:            getEnvBool("ACCESS_RATE_LIMIT_FAIL_OPEN", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		FilePath:         getEnv("ACCESS_AUDIT_FILE_PATH", ""),
		AsyncWorkers:     getEnvInt("ACCESS_AUDIT_WORKERS", 2),
		AsyncQueue:       getEnvInt("ACCESS_AUDIT_QUEUE_SIZE", 256),
		Retention:        getEnvDuration("ACCESS_AUDIT_RETENTION", 365*24*time.Hour),
		CleanupPeriod:    getEnvDuration("ACCESS_AUDIT_CLEANUP_INTERVAL", 24*time.Hour),
		ArchiveBucket:    getEnv("ACCESS_AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:    getEnv("ACCESS_AUDIT_ARCHIVE_PREFIX", "audit"),
		ArchiveRegion:    getEnv("ACCESS_AUDIT_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:  getEnv("ACCESS_AUDIT_ARCHIVE_ENDPOINT", ""),
		ArchivePathStyle: getEnvBool("ACCESS_AUDIT_ARCHIVE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ACCESS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ACCESS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ACCESS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ACCESS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ACCESS_OTEL_SERVICE_NAME", "portal-access"),
		OTelServiceVersion: getEnv("ACCESS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ACCESS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ACCESS_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := storage.DialectForDriver(c.Storage.Database.Driver); err != nil {
		return err
	}
	if c.Storage.Database.PrimaryURL == "" {
		return fmt.Errorf("database URL is required (ACCESS_DB_URL)")
	}

	if c.Routes.Login == "" || c.Routes.AdminHome == "" || c.Routes.MemberHome == "" {
		return fmt.Errorf("login, admin home and member home routes are required")
	}

	if c.Password.MinLength < 1 {
		return fmt.Errorf("password minimum length must be positive")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return fmt.Errorf("password maximum length %d is below minimum %d", c.Password.MaxLength, c.Password.MinLength)
	}
	// bcrypt ignores input past 72 bytes
	if c.Password.MaxLength > 72 {
		return fmt.Errorf("password maximum length cannot exceed 72")
	}
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.DirectoryCache.Enabled && c.DirectoryCache.Size <= 0 {
		return fmt.Errorf("directory cache size must be positive when the cache is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.CredentialPerMinute <= 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Distributed && !c.Storage.RedisEnabled() {
			return fmt.Errorf("distributed rate limiting requires ACCESS_REDIS_URL")
		}
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention cannot be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
