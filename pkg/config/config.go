package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Entitlements  EntitlementsConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	PostgresURL string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	AutoMigrate bool

	// MaintenanceSchedule is a cron spec for replica health checks and
	// pool statistics
	MaintenanceSchedule string
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Identity provider verification modes
const (
	VerifyModeUserInfo = "userinfo"
	VerifyModeJWKS     = "jwks"
)

// IdentityConfig holds the OpenID Connect provider connection parameters
type IdentityConfig struct {
	IssuerURL       string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	VerifyMode      string
	SkipIssuerCheck bool
}

// SessionConfig holds cookie session settings.
// Production toggles the Secure and SameSite cookie attributes.
type SessionConfig struct {
	Production   bool
	CookieDomain string
}

// Rate limiter backends
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// RateLimitConfig holds rate limiting settings. RequestsPerWindow applies
// per verified identity; ClientRequestsPerWindow applies per client address
// before the session is resolved, and 0 turns that limit off.
type RateLimitConfig struct {
	Enabled                 bool
	Backend                 string
	RequestsPerWindow       int
	ClientRequestsPerWindow int
	Window                  time.Duration
	BurstSize               int
	MaxBuckets              int
	TrustProxy              bool
}

// EntitlementsConfig holds plan limiter settings
type EntitlementsConfig struct {
	// RegistryFile optionally overrides/extends the built-in resource registry
	RegistryFile string
}

// AuditConfig controls the audit_events trail of denials and role changes
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		Session:       loadSessionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Entitlements:  EntitlementsConfig{RegistryFile: getEnv("TENANTGATE_REGISTRY_FILE", "")},
		Audit: AuditConfig{
			Enabled:    getEnvBool("TENANTGATE_AUDIT_ENABLED", true),
			BufferSize: getEnvInt("TENANTGATE_AUDIT_BUFFER_SIZE", 256),
		},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("TENANTGATE_ALLOWED_ORIGINS", nil),
		HealthPort:      getEnv("TENANTGATE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL: getEnv("TENANTGATE_POSTGRES_URL", ""),
		ReplicaURLs: getEnvList("TENANTGATE_POSTGRES_REPLICA_URLS", nil),
		MaxConns:    getEnvInt("TENANTGATE_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("TENANTGATE_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("TENANTGATE_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("TENANTGATE_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("TENANTGATE_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate: getEnvBool("TENANTGATE_AUTO_MIGRATE", false),

		MaintenanceSchedule: getEnv("TENANTGATE_POSTGRES_MAINTENANCE_SCHEDULE", "@every 30s"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TENANTGATE_REDIS_URL", ""),
		Password:   getEnv("TENANTGATE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TENANTGATE_REDIS_DB", -1),
		MaxRetries: getEnvInt("TENANTGATE_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("TENANTGATE_REDIS_POOL_SIZE", 0),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL:       getEnv("TENANTGATE_OIDC_ISSUER_URL", ""),
		ClientID:        getEnv("TENANTGATE_OIDC_CLIENT_ID", ""),
		ClientSecret:    getEnv("TENANTGATE_OIDC_CLIENT_SECRET", ""),
		Scopes:          getEnvList("TENANTGATE_OIDC_SCOPES", []string{"openid", "email", "offline_access"}),
		VerifyMode:      strings.ToLower(getEnv("TENANTGATE_OIDC_VERIFY_MODE", VerifyModeUserInfo)),
		SkipIssuerCheck: getEnvBool("TENANTGATE_OIDC_SKIP_ISSUER_CHECK", false),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Production:   getEnvBool("TENANTGATE_PRODUCTION", false),
		CookieDomain: getEnv("TENANTGATE_COOKIE_DOMAIN", ""),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("TENANTGATE_RATELIMIT_ENABLED", false),
		Backend:           strings.ToLower(getEnv("TENANTGATE_RATELIMIT_BACKEND", RateLimitBackendMemory)),
		RequestsPerWindow:       getEnvInt("TENANTGATE_RATELIMIT_REQUESTS", 600),
		ClientRequestsPerWindow: getEnvInt("TENANTGATE_RATELIMIT_CLIENT_REQUESTS", 1200),
		Window:                  getEnvDuration("TENANTGATE_RATELIMIT_WINDOW", time.Minute),
		BurstSize:               getEnvInt("TENANTGATE_RATELIMIT_BURST", 50),
		MaxBuckets:              getEnvInt("TENANTGATE_RATELIMIT_MAX_BUCKETS", 10000),
		TrustProxy:              getEnvBool("TENANTGATE_RATELIMIT_TRUST_PROXY", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TENANTGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGATE_OTEL_SERVICE_NAME", "tenantgate"),
		OTelServiceVersion: getEnv("TENANTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", 1.0),
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

	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaintenanceSchedule != "" {
		if _, err := cron.ParseStandard(c.Database.MaintenanceSchedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule: %w", err)
		}
	}

	if c.Identity.IssuerURL == "" || c.Identity.ClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}
	switch c.Identity.VerifyMode {
	case VerifyModeUserInfo, VerifyModeJWKS:
	default:
		return fmt.Errorf("invalid OIDC verify mode: %s (must be userinfo or jwks)", c.Identity.VerifyMode)
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case RateLimitBackendMemory:
		case RateLimitBackendRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
		if c.RateLimit.ClientRequestsPerWindow < 0 {
			return fmt.Errorf("client rate limit requests must not be negative")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvList splits a comma-separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
