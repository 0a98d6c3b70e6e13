package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Cache configuration
	Cache CacheConfig

	// Authorization behavior toggles
	Authz AuthzConfig

	// Registry event processing
	Registry RegistryConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	ReplicaURLs     []string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings. An empty URL disables the
// shared cache and event dedupe falls back to in-process state.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// CacheConfig holds cache sizing
type CacheConfig struct {
	NodeCacheEntries int
	NodeCacheTTL     time.Duration
	ACLCacheTTL      time.Duration
}

// AuthzConfig holds decision engine toggles
type AuthzConfig struct {
	// CertifiedGateEnabled requires certified-group membership for CREATE
	// and for UPDATE of non-project entities.
	CertifiedGateEnabled bool

	// TrashRootNodeID is the reserved trash container node id. Zero disables
	// the trash restriction.
	TrashRootNodeID int64
}

// RegistryConfig holds Docker registry event settings
type RegistryConfig struct {
	// EventRetention bounds how long processed event ids are kept before the
	// scheduled purge removes them.
	EventRetention time.Duration

	// PurgeSchedule is a cron expression for the event purge job
	PurgeSchedule string
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
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Authz:         loadAuthzConfig(),
		Registry:      loadRegistryConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		URL:             getEnv("WARDEN_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WARDEN_POSTGRES_CONN_LIFETIME", 5*time.Minute),
	}
	if replicas := getEnv("WARDEN_POSTGRES_REPLICA_URLS", ""); replicas != "" {
		for _, url := range strings.Split(replicas, ",") {
			if url = strings.TrimSpace(url); url != "" {
				cfg.ReplicaURLs = append(cfg.ReplicaURLs, url)
			}
		}
	}
	return cfg
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("WARDEN_REDIS_URL", ""),
		Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
		DB:       getEnvInt("WARDEN_REDIS_DB", 0),
	}
}

// loadCacheConfig loads cache sizing from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		NodeCacheEntries: getEnvInt("WARDEN_NODE_CACHE_ENTRIES", 16384),
		NodeCacheTTL:     getEnvDuration("WARDEN_NODE_CACHE_TTL", 30*time.Second),
		ACLCacheTTL:      getEnvDuration("WARDEN_ACL_CACHE_TTL", 5*time.Minute),
	}
}

// loadAuthzConfig loads decision engine toggles from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CertifiedGateEnabled: getEnvBool("WARDEN_CERTIFIED_GATE_ENABLED", true),
		TrashRootNodeID:      getEnvInt64("WARDEN_TRASH_ROOT_NODE_ID", 0),
	}
}

// loadRegistryConfig loads registry event settings from environment
func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		EventRetention: getEnvDuration("WARDEN_REGISTRY_EVENT_RETENTION", 7*24*time.Hour),
		PurgeSchedule:  getEnv("WARDEN_REGISTRY_PURGE_SCHEDULE", "13 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("postgres idle connections must be between 0 and max connections")
	}

	if c.Cache.NodeCacheEntries <= 0 {
		return fmt.Errorf("node cache entries must be positive")
	}
	if c.Cache.NodeCacheTTL <= 0 || c.Cache.ACLCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.Authz.TrashRootNodeID < 0 {
		return fmt.Errorf("trash root node id must not be negative")
	}

	if c.Registry.EventRetention <= 0 {
		return fmt.Errorf("registry event retention must be positive")
	}
	if c.Registry.PurgeSchedule == "" {
		return fmt.Errorf("registry purge schedule is required")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
