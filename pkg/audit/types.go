package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
	EventTypeAdminBypass  EventType = "authz.admin_bypass"
	EventTypeMissingACL   EventType = "authz.missing_acl"

	// ACL lifecycle events
	EventTypeACLCreate EventType = "acl.create"
	EventTypeACLUpdate EventType = "acl.update"
	EventTypeACLDelete EventType = "acl.delete"

	// Access requirement events
	EventTypeRequirementCreate EventType = "requirement.create"
	EventTypeApprovalGrant     EventType = "requirement.approval_grant"

	// Registry events
	EventTypeRepositoryCreate EventType = "registry.repository_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	PrincipalID *int64 `json:"principal_id,omitempty"`

	// Subject
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   *int64 `json:"object_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	PrincipalID *int64
	EventTypes  []EventType
	Status      *EventStatus
	ObjectID    *int64

	Limit  int
	Offset int
}
