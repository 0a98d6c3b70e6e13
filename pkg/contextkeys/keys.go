// Package contextkeys provides centralized context key definitions
//
// All context keys shared between middleware and handlers are defined here.
// Request-id and logger propagation live in pkg/observability; this package
// owns the authorization-specific keys.
package contextkeys

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/authz"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the *authz.Principal resolved for the request.
	// Set by: middleware.Principal
	// Required by: every decision, ACL and registry handler
	PrincipalKey Key = "principal"

	// RequestStartTimeKey contains the request start timestamp.
	// Set by: middleware.Principal
	// Used by: audit records for duration calculation
	RequestStartTimeKey Key = "request_start_time"
)

// WithPrincipal stores the resolved principal in the context
func WithPrincipal(ctx context.Context, principal *authz.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// PrincipalFrom returns the principal resolved for the request, or nil
func PrincipalFrom(ctx context.Context) *authz.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*authz.Principal); ok {
		return p
	}
	return nil
}

// WithRequestStartTime stores the request start timestamp in the context
func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// RequestStartTimeFrom returns the request start timestamp, zero when unset
func RequestStartTimeFrom(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
