package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/hierarchy"
)

// NodeStore persists the resource tree and maintains benefactor pointers
type NodeStore struct {
	db *sql.DB
}

// NewNodeStore creates a new node store
func NewNodeStore(db *sql.DB) *NodeStore {
	return &NodeStore{db: db}
}

// CreateNode inserts a node. A root becomes its own benefactor; any other
// node inherits its parent's benefactor at creation time.
func (s *NodeStore) CreateNode(ctx context.Context, node *hierarchy.Node) (*hierarchy.Node, error) {
	if !node.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown node type %q", authz.ErrInvalidInput, node.Type)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	benefactor := int64(0)
	if node.ParentID != nil {
		query := `SELECT benefactor_id FROM nodes WHERE id = $1 FOR SHARE`
		if err := tx.QueryRowContext(ctx, query, *node.ParentID).Scan(&benefactor); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("parent node %d: %w", *node.ParentID, authz.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to resolve parent benefactor: %w", err)
		}
	}

	node.ETag = uuid.NewString()
	query := `
		INSERT INTO nodes (parent_id, benefactor_id, node_type, name, created_by, etag)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query,
		node.ParentID,
		benefactor,
		string(node.Type),
		node.Name,
		node.CreatedBy,
		node.ETag,
	).Scan(&node.ID, &node.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	if node.ParentID == nil {
		benefactor = node.ID
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET benefactor_id = $1 WHERE id = $1`, node.ID); err != nil {
			return nil, fmt.Errorf("failed to set root benefactor: %w", err)
		}
	}
	node.BenefactorID = benefactor

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit node create: %w", err)
	}
	return node, nil
}

// GetNode retrieves a node by id
func (s *NodeStore) GetNode(ctx context.Context, nodeID int64) (*hierarchy.Node, error) {
	query := `
		SELECT id, parent_id, benefactor_id, node_type, name, created_by, created_at, etag
		FROM nodes
		WHERE id = $1
	`

	var node hierarchy.Node
	var parentID sql.NullInt64
	var nodeType string

	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(
		&node.ID,
		&parentID,
		&node.BenefactorID,
		&nodeType,
		&node.Name,
		&node.CreatedBy,
		&node.CreatedAt,
		&node.ETag,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	node.Type = hierarchy.NodeType(nodeType)
	if parentID.Valid {
		id := parentID.Int64
		node.ParentID = &id
	}
	return &node, nil
}

// DeleteNode removes a node and, via cascade, its subtree
func (s *NodeStore) DeleteNode(ctx context.Context, nodeID int64) error {
	query := `DELETE FROM nodes WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return nil
}

// GetBenefactor implements authz.HierarchyLookup
func (s *NodeStore) GetBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	var benefactor int64
	err := s.db.QueryRowContext(ctx, `SELECT benefactor_id FROM nodes WHERE id = $1`, nodeID).Scan(&benefactor)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get benefactor: %w", err)
	}
	return benefactor, nil
}

// GetCreatedBy implements authz.HierarchyLookup
func (s *NodeStore) GetCreatedBy(ctx context.Context, nodeID int64) (int64, error) {
	var createdBy int64
	err := s.db.QueryRowContext(ctx, `SELECT created_by FROM nodes WHERE id = $1`, nodeID).Scan(&createdBy)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get creator: %w", err)
	}
	return createdBy, nil
}

// IsProject implements authz.HierarchyLookup
func (s *NodeStore) IsProject(ctx context.Context, nodeID int64) (bool, error) {
	var nodeType string
	err := s.db.QueryRowContext(ctx, `SELECT node_type FROM nodes WHERE id = $1`, nodeID).Scan(&nodeType)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get node type: %w", err)
	}
	return hierarchy.NodeType(nodeType) == hierarchy.NodeTypeProject, nil
}

// AncestorIDs returns the ancestor chain, nearest first
func (s *NodeStore) AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error) {
	query := `
		WITH RECURSIVE ancestors AS (
			SELECT id, parent_id, 0 AS depth FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id, n.parent_id, a.depth + 1
			FROM nodes n
			JOIN ancestors a ON n.id = a.parent_id
		)
		SELECT id FROM ancestors ORDER BY depth ASC
	`

	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if !includeSelf {
		ids = ids[1:]
	}
	return ids, nil
}

// RebindBenefactor repoints the part of nodeID's subtree that currently
// inherits from oldBenefactor at newBenefactor. The subtree rows are locked
// first so concurrent permission reads never observe a half-applied rebind.
func (s *NodeStore) RebindBenefactor(ctx context.Context, nodeID, oldBenefactor, newBenefactor int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
		)
		SELECT id FROM nodes WHERE id IN (SELECT id FROM subtree) AND benefactor_id = $2 FOR UPDATE
	`
	rows, err := tx.QueryContext(ctx, lockQuery, nodeID, oldBenefactor)
	if err != nil {
		return fmt.Errorf("failed to lock subtree: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan subtree id: %w", err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	updateQuery := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
		)
		UPDATE nodes SET benefactor_id = $3
		WHERE id IN (SELECT id FROM subtree) AND benefactor_id = $2
	`
	if _, err := tx.ExecContext(ctx, updateQuery, nodeID, oldBenefactor, newBenefactor); err != nil {
		return fmt.Errorf("failed to rebind benefactor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebind: %w", err)
	}
	return nil
}

// ParentBenefactor returns the benefactor of the node's parent
func (s *NodeStore) ParentBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	query := `
		SELECT p.benefactor_id
		FROM nodes n
		JOIN nodes p ON p.id = n.parent_id
		WHERE n.id = $1
	`

	var benefactor int64
	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(&benefactor)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: node %d has no parent", authz.ErrInvalidInput, nodeID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get parent benefactor: %w", err)
	}
	return benefactor, nil
}
