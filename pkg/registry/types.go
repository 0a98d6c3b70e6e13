package registry

import (
	"context"
	"time"
)

// Repository maps a registry repository path to its node in the resource
// tree.
type Repository struct {
	NodeID          int64     `json:"node_id"`
	Name            string    `json:"name"`
	ParentProjectID int64     `json:"parent_project_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// RepositoryResolver maps repository paths to tree nodes. Implemented by
// the postgres docker repository DAO.
type RepositoryResolver interface {
	// ResolveRepository returns the repository registered under the exact
	// path, authz.ErrNotFound when no such repository exists.
	ResolveRepository(ctx context.Context, repositoryPath string) (*Repository, error)
}

// RepositoryRegistrar creates repository nodes as pushes to new paths
// complete.
type RepositoryRegistrar interface {
	// EnsureRepository returns the existing repository for the path or
	// creates one under the given project.
	EnsureRepository(ctx context.Context, repositoryPath string, parentProjectID, createdBy int64) (*Repository, error)
}

// ScopePermission is the per-scope resolution result: the subset of the
// requested actions the principal may actually perform.
type ScopePermission struct {
	Scope            Scope    `json:"scope"`
	PermittedActions []string `json:"permitted_actions"`
}

// Permits reports whether the permission includes the action
func (p ScopePermission) Permits(action string) bool {
	for _, a := range p.PermittedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Event is one registry notification callback entry.
type Event struct {
	EventID     string    `json:"event_id"`
	Action      string    `json:"action"`
	Repository  string    `json:"repository"`
	Tag         string    `json:"tag,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	PrincipalID int64     `json:"principal_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventStore persists registry events. The event id is the primary key, so
// the store is the dedupe authority of last resort.
type EventStore interface {
	// RecordEvent inserts the event, reporting false when the event id was
	// already recorded.
	RecordEvent(ctx context.Context, event *Event) (bool, error)

	// PurgeOlderThan removes events recorded before the cutoff and returns
	// the number removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
