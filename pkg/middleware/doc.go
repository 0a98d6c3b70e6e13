// Package middleware provides HTTP middleware for principal resolution,
// request correlation and rate limiting.
//
// # Middleware Components
//
// PrincipalMiddleware: identity header resolution
//
//	router.Use(middleware.NewPrincipalMiddleware(logger).Handler)
//	// Parses X-Warden-Principal / X-Warden-Groups into an authz.Principal;
//	// requests without identity headers proceed as anonymous
//
// RequireAuthenticated: reject anonymous callers on mutating routes
//
// RequestID / RequestLogger: correlation id plus one log line per request
//
// RateLimitMiddleware: Redis-backed per-principal rate limiting
//
//	limiter := middleware.NewRateLimitMiddleware(redisClient, logger)
//	router.Use(limiter.Handler)
//
// # Rate Limiting
//
// Anonymous: 100 req/min keyed by remote address
// Per-User: 1000 req/min keyed by principal id
// Admins: exempt
//
// # Related Packages
//
//   - pkg/authz: principal model and bootstrap group ids
//   - pkg/contextkeys: request-scoped principal storage
package middleware
