// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for the
// Warden authorization service.
//
// The Logger wraps log/slog with a JSON handler and field chaining.
// Metrics carries every counter and histogram the service emits; decision
// outcomes, admin bypasses and missing-ACL denials get their own series so
// policy denials and data inconsistencies can be told apart on a
// dashboard.
package observability
