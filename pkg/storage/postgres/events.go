package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/registry"
)

// EventStore persists registry events keyed by event id
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a registry event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// RecordEvent implements registry.EventStore. The event id primary key
// makes the insert the authoritative replay filter.
func (s *EventStore) RecordEvent(ctx context.Context, event *registry.Event) (bool, error) {
	query := `
		INSERT INTO registry_events (event_id, action, repository_name, tag, digest, principal_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Action,
		event.Repository,
		nullString(event.Tag),
		nullString(event.Digest),
		event.PrincipalID,
		event.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read event insert result: %w", err)
	}
	return n > 0, nil
}

// PurgeOlderThan implements registry.EventStore
func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM registry_events WHERE recorded_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
