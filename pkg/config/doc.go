// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_REPLICA_URLS="postgres://replica1/warden,postgres://replica2/warden"
//	WARDEN_POSTGRES_MAX_CONNS="25"
//
// Cache settings:
//
//	WARDEN_REDIS_URL="redis://localhost:6379"
//	WARDEN_NODE_CACHE_ENTRIES="16384"
//	WARDEN_NODE_CACHE_TTL="30s"
//	WARDEN_ACL_CACHE_TTL="5m"
//
// Authorization settings:
//
//	WARDEN_CERTIFIED_GATE_ENABLED="true"
//	WARDEN_TRASH_ROOT_NODE_ID="0"  # zero disables the trash restriction
//
// Registry settings:
//
//	WARDEN_REGISTRY_EVENT_RETENTION="168h"
//	WARDEN_REGISTRY_PURGE_SCHEDULE="13 3 * * *"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="false"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database and cache configuration
//   - pkg/observability: Uses observability configuration
package config
