package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		principal_id BIGINT,
		object_type VARCHAR(50),
		object_id BIGINT,
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_principal_id ON audit_logs(principal_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_object ON audit_logs(object_type, object_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log records an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			principal_id, object_type, object_id,
			request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.PrincipalID, event.ObjectType, event.ObjectID,
		event.RequestID, event.Message, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// LogAccessDenied records a denied authorization decision
func (l *DBLogger) LogAccessDenied(ctx context.Context, principalID, objectID int64, objectType, reason string) error {
	event := newEvent(ctx, EventTypeAccessDenied, EventStatusDenied)
	event.PrincipalID = &principalID
	event.ObjectType = objectType
	event.ObjectID = &objectID
	event.Message = reason
	return l.Log(ctx, event)
}

// LogACLChange records an ACL create, update or delete
func (l *DBLogger) LogACLChange(ctx context.Context, eventType EventType, principalID, objectID int64, addedPrincipals []int64) error {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.PrincipalID = &principalID
	event.ObjectType = "entity"
	event.ObjectID = &objectID
	if len(addedPrincipals) > 0 {
		event.Metadata = map[string]interface{}{"added_principals": addedPrincipals}
	}
	return l.Log(ctx, event)
}

// LogApprovalGrant records an access requirement approval
func (l *DBLogger) LogApprovalGrant(ctx context.Context, grantedBy, accessorID, requirementID int64) error {
	event := newEvent(ctx, EventTypeApprovalGrant, EventStatusSuccess)
	event.PrincipalID = &grantedBy
	event.ObjectType = "access_requirement"
	event.ObjectID = &requirementID
	event.Metadata = map[string]interface{}{"accessor_id": accessorID}
	return l.Log(ctx, event)
}

// Close is a no-op; the logger does not own the database handle
func (l *DBLogger) Close() error {
	return nil
}

// Search queries stored audit events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.PrincipalID != nil {
		conditions = append(conditions, "principal_id = "+arg(*filter.PrincipalID))
	}
	if filter.ObjectID != nil {
		conditions = append(conditions, "object_id = "+arg(*filter.ObjectID))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+arg(string(*filter.Status)))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(string(et))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, timestamp, event_type, status, principal_id,
		       object_type, object_id, request_id, message, metadata
		FROM audit_logs
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var event Event
		var objectType, requestID, message sql.NullString
		var metadataJSON []byte
		var timestamp time.Time
		if err := rows.Scan(
			&event.ID, &timestamp, &event.EventType, &event.Status, &event.PrincipalID,
			&objectType, &event.ObjectID, &requestID, &message, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		event.Timestamp = timestamp
		event.ObjectType = objectType.String
		event.RequestID = requestID.String
		event.Message = message.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
