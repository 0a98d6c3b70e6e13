package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/hierarchy"
	"github.com/platinummonkey/warden/pkg/registry"
)

// sqliteBackend implements the store interfaces over a real SQL database so
// the full service graph can be exercised end to end. The SQL mirrors the
// postgres DAOs in sqlite dialect.
type sqliteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
	CREATE TABLE nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER REFERENCES nodes(id) ON DELETE CASCADE,
		benefactor_id INTEGER NOT NULL,
		node_type TEXT NOT NULL,
		name TEXT NOT NULL,
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		etag TEXT NOT NULL,
		UNIQUE(parent_id, name)
	);

	CREATE TABLE acls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		object_id INTEGER NOT NULL,
		object_type TEXT NOT NULL,
		etag TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(object_id, object_type)
	);

	CREATE TABLE acl_resource_access (
		acl_id INTEGER NOT NULL REFERENCES acls(id) ON DELETE CASCADE,
		principal_id INTEGER NOT NULL,
		access_type TEXT NOT NULL,
		PRIMARY KEY (acl_id, principal_id, access_type)
	);

	CREATE TABLE access_requirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requirement_type TEXT NOT NULL,
		access_type TEXT NOT NULL,
		terms TEXT,
		description TEXT,
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		modified_at DATETIME NOT NULL
	);

	CREATE TABLE access_requirement_subjects (
		requirement_id INTEGER NOT NULL REFERENCES access_requirements(id) ON DELETE CASCADE,
		subject_id INTEGER NOT NULL,
		PRIMARY KEY (requirement_id, subject_id)
	);

	CREATE TABLE access_approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requirement_id INTEGER NOT NULL REFERENCES access_requirements(id) ON DELETE CASCADE,
		accessor_id INTEGER NOT NULL,
		granted_by INTEGER NOT NULL,
		granted_at DATETIME NOT NULL,
		UNIQUE(requirement_id, accessor_id)
	);

	CREATE TABLE docker_repositories (
		node_id INTEGER PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
		repository_name TEXT NOT NULL UNIQUE,
		parent_project_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE registry_events (
		event_id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		repository_name TEXT NOT NULL,
		tag TEXT,
		digest TEXT,
		principal_id INTEGER NOT NULL,
		occurred_at DATETIME NOT NULL,
		recorded_at DATETIME NOT NULL
	);
`

func newSQLiteBackend(t *testing.T) *sqliteBackend {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// A pooled second connection would see its own empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(sqliteSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return &sqliteBackend{db: db}
}

// placeholders returns "?,?,..." for building IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (b *sqliteBackend) CreateNode(ctx context.Context, node *hierarchy.Node) (*hierarchy.Node, error) {
	if !node.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown node type %q", authz.ErrInvalidInput, node.Type)
	}

	benefactor := int64(0)
	if node.ParentID != nil {
		err := b.db.QueryRowContext(ctx,
			`SELECT benefactor_id FROM nodes WHERE id = ?`, *node.ParentID,
		).Scan(&benefactor)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("parent node %d: %w", *node.ParentID, authz.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
	}

	node.ETag = uuid.NewString()
	node.CreatedAt = time.Now().UTC()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO nodes (parent_id, benefactor_id, node_type, name, created_by, created_at, etag)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		node.ParentID, benefactor, string(node.Type), node.Name, node.CreatedBy, node.CreatedAt, node.ETag,
	)
	if err != nil {
		return nil, err
	}
	node.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if node.ParentID == nil {
		benefactor = node.ID
		if _, err := b.db.ExecContext(ctx,
			`UPDATE nodes SET benefactor_id = ? WHERE id = ?`, node.ID, node.ID,
		); err != nil {
			return nil, err
		}
	}
	node.BenefactorID = benefactor
	return node, nil
}

func (b *sqliteBackend) GetNode(ctx context.Context, nodeID int64) (*hierarchy.Node, error) {
	var node hierarchy.Node
	var parentID sql.NullInt64
	var nodeType string

	err := b.db.QueryRowContext(ctx,
		`SELECT id, parent_id, benefactor_id, node_type, name, created_by, created_at, etag
		 FROM nodes WHERE id = ?`, nodeID,
	).Scan(&node.ID, &parentID, &node.BenefactorID, &nodeType,
		&node.Name, &node.CreatedBy, &node.CreatedAt, &node.ETag)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	node.Type = hierarchy.NodeType(nodeType)
	if parentID.Valid {
		id := parentID.Int64
		node.ParentID = &id
	}
	return &node, nil
}

func (b *sqliteBackend) DeleteNode(ctx context.Context, nodeID int64) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, nodeID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return nil
}

func (b *sqliteBackend) GetBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	var benefactor int64
	err := b.db.QueryRowContext(ctx, `SELECT benefactor_id FROM nodes WHERE id = ?`, nodeID).Scan(&benefactor)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return benefactor, err
}

func (b *sqliteBackend) GetCreatedBy(ctx context.Context, nodeID int64) (int64, error) {
	var createdBy int64
	err := b.db.QueryRowContext(ctx, `SELECT created_by FROM nodes WHERE id = ?`, nodeID).Scan(&createdBy)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return createdBy, err
}

func (b *sqliteBackend) IsProject(ctx context.Context, nodeID int64) (bool, error) {
	var nodeType string
	err := b.db.QueryRowContext(ctx, `SELECT node_type FROM nodes WHERE id = ?`, nodeID).Scan(&nodeType)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return hierarchy.NodeType(nodeType) == hierarchy.NodeTypeProject, err
}

func (b *sqliteBackend) AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error) {
	rows, err := b.db.QueryContext(ctx, `
		WITH RECURSIVE ancestors AS (
			SELECT id, parent_id, 0 AS depth FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id, a.depth + 1
			FROM nodes n JOIN ancestors a ON n.id = a.parent_id
		)
		SELECT id FROM ancestors ORDER BY depth ASC
	`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
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

func (b *sqliteBackend) RebindBenefactor(ctx context.Context, nodeID, oldBenefactor, newBenefactor int64) error {
	_, err := b.db.ExecContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
		)
		UPDATE nodes SET benefactor_id = ?
		WHERE id IN (SELECT id FROM subtree) AND benefactor_id = ?
	`, nodeID, newBenefactor, oldBenefactor)
	return err
}

func (b *sqliteBackend) ParentBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	var benefactor int64
	err := b.db.QueryRowContext(ctx, `
		SELECT p.benefactor_id
		FROM nodes n JOIN nodes p ON p.id = n.parent_id
		WHERE n.id = ?
	`, nodeID).Scan(&benefactor)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: node %d has no parent", authz.ErrInvalidInput, nodeID)
	}
	return benefactor, err
}

func (b *sqliteBackend) Get(ctx context.Context, objectID int64, objectType authz.ObjectType) (*authz.AccessControlList, error) {
	var aclID int64
	acl := &authz.AccessControlList{ID: objectID, ObjectType: objectType}

	err := b.db.QueryRowContext(ctx,
		`SELECT id, etag, created_at FROM acls WHERE object_id = ? AND object_type = ?`,
		objectID, string(objectType),
	).Scan(&aclID, &acl.Etag, &acl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acl for %s %d: %w", objectType, objectID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT principal_id, access_type FROM acl_resource_access
		 WHERE acl_id = ? ORDER BY principal_id, access_type`, aclID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byPrincipal := make(map[int64][]authz.AccessType)
	var order []int64
	for rows.Next() {
		var principalID int64
		var accessType string
		if err := rows.Scan(&principalID, &accessType); err != nil {
			return nil, err
		}
		if _, seen := byPrincipal[principalID]; !seen {
			order = append(order, principalID)
		}
		byPrincipal[principalID] = append(byPrincipal[principalID], authz.AccessType(accessType))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, principalID := range order {
		acl.ResourceAccess = append(acl.ResourceAccess, authz.ResourceAccess{
			PrincipalID: principalID,
			AccessTypes: byPrincipal[principalID],
		})
	}
	return acl, nil
}

func (b *sqliteBackend) Create(ctx context.Context, acl *authz.AccessControlList) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := b.insertACL(ctx, tx, acl); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) Replace(ctx context.Context, acl *authz.AccessControlList) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM acls WHERE object_id = ? AND object_type = ?`,
		acl.ID, string(acl.ObjectType),
	); err != nil {
		return err
	}
	if err := b.insertACL(ctx, tx, acl); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) insertACL(ctx context.Context, tx *sql.Tx, acl *authz.AccessControlList) error {
	acl.Etag = uuid.NewString()
	acl.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO acls (object_id, object_type, etag, created_at) VALUES (?, ?, ?, ?)`,
		acl.ID, string(acl.ObjectType), acl.Etag, acl.CreatedAt,
	)
	if err != nil {
		return err
	}
	aclID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, ra := range acl.ResourceAccess {
		for _, at := range ra.AccessTypes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO acl_resource_access (acl_id, principal_id, access_type) VALUES (?, ?, ?)`,
				aclID, ra.PrincipalID, string(at),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, objectID int64, objectType authz.ObjectType) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM acls WHERE object_id = ? AND object_type = ?`,
		objectID, string(objectType),
	)
	return err
}

func (b *sqliteBackend) CanAccess(ctx context.Context, groups authz.IDSet, benefactorID int64, objectType authz.ObjectType, accessType authz.AccessType) (bool, error) {
	var aclID int64
	err := b.db.QueryRowContext(ctx,
		`SELECT id FROM acls WHERE object_id = ? AND object_type = ?`,
		benefactorID, string(objectType),
	).Scan(&aclID)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("benefactor %d: %w", benefactorID, authz.ErrNoACL)
	}
	if err != nil {
		return false, err
	}

	ids := groups.Values()
	if len(ids) == 0 {
		return false, nil
	}
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM acl_resource_access
			WHERE acl_id = ? AND access_type = ? AND principal_id IN (%s)
		)
	`, placeholders(len(ids)))

	args := append([]interface{}{aclID, string(accessType)}, int64Args(ids)...)
	var allowed bool
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (b *sqliteBackend) AccessibleBenefactors(ctx context.Context, groups authz.IDSet, objectType authz.ObjectType, candidates authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	if len(candidates) == 0 || len(groups) == 0 {
		return out, nil
	}

	candidateIDs := candidates.Values()
	groupIDs := groups.Values()
	query := fmt.Sprintf(`
		SELECT DISTINCT a.object_id
		FROM acls a
		JOIN acl_resource_access ra ON ra.acl_id = a.id
		WHERE a.object_id IN (%s)
		  AND a.object_type = ?
		  AND ra.access_type = ?
		  AND ra.principal_id IN (%s)
	`, placeholders(len(candidateIDs)), placeholders(len(groupIDs)))

	args := int64Args(candidateIDs)
	args = append(args, string(objectType), string(authz.AccessRead))
	args = append(args, int64Args(groupIDs)...)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out.Add(id)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) AccessibleProjectIDs(ctx context.Context, principals authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	if len(principals) == 0 {
		return out, nil
	}

	ids := principals.Values()
	query := fmt.Sprintf(`
		SELECT DISTINCT n.id
		FROM nodes n
		JOIN acls a ON a.object_id = n.benefactor_id AND a.object_type = ?
		JOIN acl_resource_access ra ON ra.acl_id = a.id
		WHERE n.node_type = 'project'
		  AND ra.access_type = ?
		  AND ra.principal_id IN (%s)
	`, placeholders(len(ids)))

	args := append([]interface{}{string(authz.ObjectTypeEntity), string(authz.AccessRead)}, int64Args(ids)...)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out.Add(id)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) NonVisibleChildren(ctx context.Context, groups authz.IDSet, parentID int64) ([]int64, error) {
	ids := groups.Values()
	if len(ids) == 0 {
		ids = []int64{0}
	}
	query := fmt.Sprintf(`
		SELECT n.id
		FROM nodes n
		WHERE n.parent_id = ?
		  AND NOT EXISTS (
			SELECT 1
			FROM acls a
			JOIN acl_resource_access ra ON ra.acl_id = a.id
			WHERE a.object_id = n.benefactor_id
			  AND a.object_type = ?
			  AND ra.access_type = ?
			  AND ra.principal_id IN (%s)
		  )
		ORDER BY n.id
	`, placeholders(len(ids)))

	args := append([]interface{}{parentID, string(authz.ObjectTypeEntity), string(authz.AccessRead)}, int64Args(ids)...)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hidden []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		hidden = append(hidden, id)
	}
	return hidden, rows.Err()
}

func (b *sqliteBackend) UnmetRequirementIDs(ctx context.Context, subjectIDs []int64, accessType authz.AccessType, accessorIDs []int64) ([]int64, error) {
	if len(subjectIDs) == 0 {
		return []int64{}, nil
	}
	accessors := accessorIDs
	if len(accessors) == 0 {
		accessors = []int64{0}
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ar.id
		FROM access_requirements ar
		JOIN access_requirement_subjects ars ON ars.requirement_id = ar.id
		WHERE ars.subject_id IN (%s)
		  AND ar.access_type = ?
		  AND NOT EXISTS (
			SELECT 1 FROM access_approvals aa
			WHERE aa.requirement_id = ar.id AND aa.accessor_id IN (%s)
		  )
		ORDER BY ar.id
	`, placeholders(len(subjectIDs)), placeholders(len(accessors)))

	args := int64Args(subjectIDs)
	args = append(args, string(accessType))
	args = append(args, int64Args(accessors)...)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *sqliteBackend) RequirementsForSubjects(ctx context.Context, subjectIDs []int64) ([]accessreq.AccessRequirement, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT ar.id, ar.requirement_type, ar.access_type, ar.terms, ar.description,
		       ar.created_by, ar.created_at, ar.modified_at, ars.subject_id
		FROM access_requirements ar
		JOIN access_requirement_subjects ars ON ars.requirement_id = ar.id
		WHERE ar.id IN (
			SELECT DISTINCT requirement_id
			FROM access_requirement_subjects
			WHERE subject_id IN (%s)
		)
		ORDER BY ar.id, ars.subject_id
	`, placeholders(len(subjectIDs)))

	rows, err := b.db.QueryContext(ctx, query, int64Args(subjectIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []accessreq.AccessRequirement
	for rows.Next() {
		var (
			req               accessreq.AccessRequirement
			reqType, accessAt string
			terms, desc       sql.NullString
			subjectID         int64
		)
		err := rows.Scan(&req.ID, &reqType, &accessAt, &terms, &desc,
			&req.CreatedBy, &req.CreatedAt, &req.ModifiedAt, &subjectID)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && out[len(out)-1].ID == req.ID {
			out[len(out)-1].SubjectIDs = append(out[len(out)-1].SubjectIDs, subjectID)
			continue
		}
		req.Type = accessreq.RequirementType(reqType)
		req.AccessType = authz.AccessType(accessAt)
		req.Terms = terms.String
		req.Description = desc.String
		req.SubjectIDs = []int64{subjectID}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) GetRequirement(ctx context.Context, id int64) (*accessreq.AccessRequirement, error) {
	var (
		req               accessreq.AccessRequirement
		reqType, accessAt string
		terms, desc       sql.NullString
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT id, requirement_type, access_type, terms, description, created_by, created_at, modified_at
		 FROM access_requirements WHERE id = ?`, id,
	).Scan(&req.ID, &reqType, &accessAt, &terms, &desc,
		&req.CreatedBy, &req.CreatedAt, &req.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("access requirement %d: %w", id, authz.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	req.Type = accessreq.RequirementType(reqType)
	req.AccessType = authz.AccessType(accessAt)
	req.Terms = terms.String
	req.Description = desc.String

	rows, err := b.db.QueryContext(ctx,
		`SELECT subject_id FROM access_requirement_subjects WHERE requirement_id = ? ORDER BY subject_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var subjectID int64
		if err := rows.Scan(&subjectID); err != nil {
			return nil, err
		}
		req.SubjectIDs = append(req.SubjectIDs, subjectID)
	}
	return &req, rows.Err()
}

func (b *sqliteBackend) CreateRequirement(ctx context.Context, req *accessreq.AccessRequirement) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown requirement type %q", authz.ErrInvalidInput, req.Type)
	}
	if len(req.SubjectIDs) == 0 {
		return fmt.Errorf("%w: requirement must have at least one subject", authz.ErrInvalidInput)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	req.CreatedAt = now
	req.ModifiedAt = now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO access_requirements (requirement_type, access_type, terms, description, created_by, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(req.Type), string(req.AccessType), req.Terms, req.Description, req.CreatedBy, now, now,
	)
	if err != nil {
		return err
	}
	req.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for _, subjectID := range req.SubjectIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO access_requirement_subjects (requirement_id, subject_id) VALUES (?, ?)`,
			req.ID, subjectID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) CreateApproval(ctx context.Context, approval *accessreq.Approval) error {
	approval.GrantedAt = time.Now().UTC()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO access_approvals (requirement_id, accessor_id, granted_by, granted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (requirement_id, accessor_id) DO UPDATE SET granted_by = excluded.granted_by`,
		approval.RequirementID, approval.AccessorID, approval.GrantedBy, approval.GrantedAt,
	)
	if err != nil {
		return err
	}
	return b.db.QueryRowContext(ctx,
		`SELECT id FROM access_approvals WHERE requirement_id = ? AND accessor_id = ?`,
		approval.RequirementID, approval.AccessorID,
	).Scan(&approval.ID)
}

func (b *sqliteBackend) ResolveRepository(ctx context.Context, repositoryPath string) (*registry.Repository, error) {
	var repo registry.Repository
	err := b.db.QueryRowContext(ctx,
		`SELECT node_id, repository_name, parent_project_id, created_at
		 FROM docker_repositories WHERE repository_name = ?`, repositoryPath,
	).Scan(&repo.NodeID, &repo.Name, &repo.ParentProjectID, &repo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %q: %w", repositoryPath, authz.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (b *sqliteBackend) EnsureRepository(ctx context.Context, repositoryPath string, parentProjectID, createdBy int64) (*registry.Repository, error) {
	existing, err := b.ResolveRepository(ctx, repositoryPath)
	if err == nil {
		return existing, nil
	}

	node, err := b.CreateNode(ctx, &hierarchy.Node{
		ParentID:  &parentProjectID,
		Type:      hierarchy.NodeTypeDockerRepo,
		Name:      repositoryPath,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC()
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO docker_repositories (node_id, repository_name, parent_project_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		node.ID, repositoryPath, parentProjectID, createdAt,
	); err != nil {
		return nil, err
	}

	return &registry.Repository{
		NodeID:          node.ID,
		Name:            repositoryPath,
		ParentProjectID: parentProjectID,
		CreatedAt:       createdAt,
	}, nil
}

func (b *sqliteBackend) RecordEvent(ctx context.Context, event *registry.Event) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO registry_events
		 (event_id, action, repository_name, tag, digest, principal_id, occurred_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.Action, event.Repository, event.Tag, event.Digest,
		event.PrincipalID, event.OccurredAt, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *sqliteBackend) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM registry_events WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
