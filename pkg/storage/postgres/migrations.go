package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create nodes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS nodes (
					id BIGSERIAL PRIMARY KEY,
					parent_id BIGINT REFERENCES nodes(id) ON DELETE CASCADE,
					benefactor_id BIGINT NOT NULL,
					node_type VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					created_by BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					etag UUID NOT NULL,
					UNIQUE(parent_id, name)
				);

				CREATE INDEX idx_nodes_parent_id ON nodes(parent_id);
				CREATE INDEX idx_nodes_benefactor_id ON nodes(benefactor_id);
				CREATE INDEX idx_nodes_node_type ON nodes(node_type);
			`,
		},
		{
			Version:     2,
			Description: "Create acls and acl_resource_access tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS acls (
					id BIGSERIAL PRIMARY KEY,
					object_id BIGINT NOT NULL,
					object_type VARCHAR(32) NOT NULL,
					etag UUID NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					modified_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(object_id, object_type)
				);

				CREATE TABLE IF NOT EXISTS acl_resource_access (
					acl_id BIGINT NOT NULL REFERENCES acls(id) ON DELETE CASCADE,
					principal_id BIGINT NOT NULL,
					access_type VARCHAR(32) NOT NULL,
					PRIMARY KEY (acl_id, principal_id, access_type)
				);

				CREATE INDEX idx_acl_resource_access_principal ON acl_resource_access(principal_id);
			`,
		},
		{
			Version:     3,
			Description: "Create access requirement tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_requirements (
					id BIGSERIAL PRIMARY KEY,
					requirement_type VARCHAR(32) NOT NULL,
					access_type VARCHAR(32) NOT NULL,
					terms TEXT,
					description TEXT,
					created_by BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					modified_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS access_requirement_subjects (
					requirement_id BIGINT NOT NULL REFERENCES access_requirements(id) ON DELETE CASCADE,
					subject_id BIGINT NOT NULL,
					PRIMARY KEY (requirement_id, subject_id)
				);

				CREATE INDEX idx_ar_subjects_subject_id ON access_requirement_subjects(subject_id);

				CREATE TABLE IF NOT EXISTS access_approvals (
					id BIGSERIAL PRIMARY KEY,
					requirement_id BIGINT NOT NULL REFERENCES access_requirements(id) ON DELETE CASCADE,
					accessor_id BIGINT NOT NULL,
					granted_by BIGINT NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(requirement_id, accessor_id)
				);

				CREATE INDEX idx_access_approvals_accessor ON access_approvals(accessor_id);
			`,
		},
		{
			Version:     4,
			Description: "Create docker repository mapping table",
			SQL: `
				CREATE TABLE IF NOT EXISTS docker_repositories (
					node_id BIGINT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
					repository_name VARCHAR(512) NOT NULL UNIQUE,
					parent_project_id BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_docker_repositories_project ON docker_repositories(parent_project_id);
			`,
		},
		{
			Version:     5,
			Description: "Create registry events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS registry_events (
					event_id VARCHAR(128) PRIMARY KEY,
					action VARCHAR(32) NOT NULL,
					repository_name VARCHAR(512) NOT NULL,
					tag VARCHAR(255),
					digest VARCHAR(255),
					principal_id BIGINT NOT NULL,
					occurred_at TIMESTAMP NOT NULL,
					recorded_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_registry_events_repository ON registry_events(repository_name);
				CREATE INDEX idx_registry_events_recorded_at ON registry_events(recorded_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).
			WithField("description", migration.Description).
			Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
