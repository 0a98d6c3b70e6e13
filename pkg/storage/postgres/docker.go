package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/hierarchy"
	"github.com/platinummonkey/warden/pkg/registry"
)

// DockerStore maps registry repository paths to tree nodes
type DockerStore struct {
	db    *sql.DB
	nodes *NodeStore
}

// NewDockerStore creates a docker repository store
func NewDockerStore(db *sql.DB, nodes *NodeStore) *DockerStore {
	return &DockerStore{db: db, nodes: nodes}
}

// ResolveRepository implements registry.RepositoryResolver
func (s *DockerStore) ResolveRepository(ctx context.Context, repositoryPath string) (*registry.Repository, error) {
	query := `
		SELECT node_id, repository_name, parent_project_id, created_at
		FROM docker_repositories
		WHERE repository_name = $1
	`

	var repo registry.Repository
	err := s.db.QueryRowContext(ctx, query, repositoryPath).Scan(
		&repo.NodeID,
		&repo.Name,
		&repo.ParentProjectID,
		&repo.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %q: %w", repositoryPath, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository: %w", err)
	}
	return &repo, nil
}

// EnsureRepository implements registry.RepositoryRegistrar. The first push
// to a new path creates a repository node under the parent project; later
// pushes return the existing mapping.
func (s *DockerStore) EnsureRepository(ctx context.Context, repositoryPath string, parentProjectID, createdBy int64) (*registry.Repository, error) {
	existing, err := s.ResolveRepository(ctx, repositoryPath)
	if err == nil {
		return existing, nil
	}

	node, err := s.nodes.CreateNode(ctx, &hierarchy.Node{
		ParentID:  &parentProjectID,
		Type:      hierarchy.NodeTypeDockerRepo,
		Name:      repositoryPath,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository node: %w", err)
	}

	query := `
		INSERT INTO docker_repositories (node_id, repository_name, parent_project_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_name) DO NOTHING
		RETURNING created_at
	`

	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, query, node.ID, repositoryPath, parentProjectID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		// Lost the race to a concurrent push; use the winner's mapping.
		if delErr := s.nodes.DeleteNode(ctx, node.ID); delErr != nil {
			return nil, fmt.Errorf("failed to clean up duplicate repository node: %w", delErr)
		}
		return s.ResolveRepository(ctx, repositoryPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register repository: %w", err)
	}

	return &registry.Repository{
		NodeID:          node.ID,
		Name:            repositoryPath,
		ParentProjectID: parentProjectID,
		CreatedAt:       createdAt,
	}, nil
}
