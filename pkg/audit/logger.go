package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// LogAccessDenied records a denied authorization decision
	LogAccessDenied(ctx context.Context, principalID, objectID int64, objectType, reason string) error

	// LogACLChange records an ACL create, update or delete
	LogACLChange(ctx context.Context, eventType EventType, principalID, objectID int64, addedPrincipals []int64) error

	// LogApprovalGrant records an access requirement approval
	LogApprovalGrant(ctx context.Context, grantedBy, accessorID, requirementID int64) error

	// Close flushes any buffered events
	Close() error
}

func newEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
	}
}

// NopLogger discards all events. Used where auditing is disabled.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

func (NopLogger) LogAccessDenied(ctx context.Context, principalID, objectID int64, objectType, reason string) error {
	return nil
}

func (NopLogger) LogACLChange(ctx context.Context, eventType EventType, principalID, objectID int64, addedPrincipals []int64) error {
	return nil
}

func (NopLogger) LogApprovalGrant(ctx context.Context, grantedBy, accessorID, requirementID int64) error {
	return nil
}

func (NopLogger) Close() error { return nil }
