package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/authz"
)

// ACLStore persists access control lists in their normalized form: one row
// per (acl, principal, access type) triple, which keeps the hot CanAccess
// query a single indexed EXISTS.
type ACLStore struct {
	db *sql.DB
}

// NewACLStore creates a new ACL store
func NewACLStore(db *sql.DB) *ACLStore {
	return &ACLStore{db: db}
}

// Get retrieves the ACL owned by an object
func (s *ACLStore) Get(ctx context.Context, objectID int64, objectType authz.ObjectType) (*authz.AccessControlList, error) {
	query := `
		SELECT id, etag, created_at
		FROM acls
		WHERE object_id = $1 AND object_type = $2
	`

	var aclID int64
	var etag string
	var createdAt time.Time

	err := s.db.QueryRowContext(ctx, query, objectID, string(objectType)).Scan(&aclID, &etag, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acl for %s %d: %w", objectType, objectID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get acl: %w", err)
	}

	acl := &authz.AccessControlList{
		ID:         objectID,
		ObjectType: objectType,
		Etag:       etag,
		CreatedAt:  createdAt,
	}

	accessQuery := `
		SELECT principal_id, access_type
		FROM acl_resource_access
		WHERE acl_id = $1
		ORDER BY principal_id, access_type
	`
	rows, err := s.db.QueryContext(ctx, accessQuery, aclID)
	if err != nil {
		return nil, fmt.Errorf("failed to get acl entries: %w", err)
	}
	defer rows.Close()

	byPrincipal := make(map[int64][]authz.AccessType)
	var order []int64
	for rows.Next() {
		var principalID int64
		var accessType string
		if err := rows.Scan(&principalID, &accessType); err != nil {
			return nil, fmt.Errorf("failed to scan acl entry: %w", err)
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

// Create persists a new ACL. The object must not already own one.
func (s *ACLStore) Create(ctx context.Context, acl *authz.AccessControlList) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertACL(ctx, tx, acl); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit acl create: %w", err)
	}
	return nil
}

// Replace swaps the object's ACL for the given one. Delete and insert run in
// one transaction so no reader ever finds the object without an ACL.
func (s *ACLStore) Replace(ctx context.Context, acl *authz.AccessControlList) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM acls WHERE object_id = $1 AND object_type = $2`
	if _, err := tx.ExecContext(ctx, deleteQuery, acl.ID, string(acl.ObjectType)); err != nil {
		return fmt.Errorf("failed to delete previous acl: %w", err)
	}
	if err := insertACL(ctx, tx, acl); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit acl replace: %w", err)
	}
	return nil
}

func insertACL(ctx context.Context, tx *sql.Tx, acl *authz.AccessControlList) error {
	acl.Etag = uuid.NewString()
	query := `
		INSERT INTO acls (object_id, object_type, etag)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	var aclID int64
	err := tx.QueryRowContext(ctx, query, acl.ID, string(acl.ObjectType), acl.Etag).
		Scan(&aclID, &acl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create acl: %w", err)
	}

	entryQuery := `
		INSERT INTO acl_resource_access (acl_id, principal_id, access_type)
		VALUES ($1, $2, $3)
	`
	for _, ra := range acl.ResourceAccess {
		for _, at := range dedupeAccessTypes(ra.AccessTypes) {
			if _, err := tx.ExecContext(ctx, entryQuery, aclID, ra.PrincipalID, string(at)); err != nil {
				return fmt.Errorf("failed to create acl entry for principal %d: %w", ra.PrincipalID, err)
			}
		}
	}
	return nil
}

// Delete removes an object's ACL; entries cascade. Deleting an ACL that does
// not exist is a no-op.
func (s *ACLStore) Delete(ctx context.Context, objectID int64, objectType authz.ObjectType) error {
	query := `DELETE FROM acls WHERE object_id = $1 AND object_type = $2`
	if _, err := s.db.ExecContext(ctx, query, objectID, string(objectType)); err != nil {
		return fmt.Errorf("failed to delete acl: %w", err)
	}
	return nil
}

// CanAccess reports whether any of the groups is granted accessType by the
// benefactor's ACL. A benefactor without an ACL yields authz.ErrNoACL so
// callers can tell a broken pointer apart from a plain denial.
func (s *ACLStore) CanAccess(ctx context.Context, groups authz.IDSet, benefactorID int64, objectType authz.ObjectType, accessType authz.AccessType) (bool, error) {
	var aclID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM acls WHERE object_id = $1 AND object_type = $2`,
		benefactorID, string(objectType),
	).Scan(&aclID)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("benefactor %d: %w", benefactorID, authz.ErrNoACL)
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up acl: %w", err)
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM acl_resource_access
			WHERE acl_id = $1 AND access_type = $2 AND principal_id = ANY($3)
		)
	`

	var allowed bool
	err = s.db.QueryRowContext(ctx, query, aclID, string(accessType), pq.Array(groups.Values())).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return allowed, nil
}

// AccessibleBenefactors filters candidates down to those whose ACL grants
// READ to any of the groups
func (s *ACLStore) AccessibleBenefactors(ctx context.Context, groups authz.IDSet, objectType authz.ObjectType, candidates authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	if len(candidates) == 0 {
		return out, nil
	}

	query := `
		SELECT DISTINCT a.object_id
		FROM acls a
		JOIN acl_resource_access ra ON ra.acl_id = a.id
		WHERE a.object_id = ANY($1)
		  AND a.object_type = $2
		  AND ra.access_type = $3
		  AND ra.principal_id = ANY($4)
	`

	rows, err := s.db.QueryContext(ctx, query,
		pq.Array(candidates.Values()),
		string(objectType),
		string(authz.AccessRead),
		pq.Array(groups.Values()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to filter benefactors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan benefactor id: %w", err)
		}
		out.Add(id)
	}
	return out, rows.Err()
}

// AccessibleProjectIDs returns every project whose benefactor ACL grants
// READ to any of the principals
func (s *ACLStore) AccessibleProjectIDs(ctx context.Context, principals authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	if len(principals) == 0 {
		return out, nil
	}

	query := `
		SELECT DISTINCT n.id
		FROM nodes n
		JOIN acls a ON a.object_id = n.benefactor_id AND a.object_type = $1
		JOIN acl_resource_access ra ON ra.acl_id = a.id
		WHERE n.node_type = 'project'
		  AND ra.access_type = $2
		  AND ra.principal_id = ANY($3)
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(authz.ObjectTypeEntity),
		string(authz.AccessRead),
		pq.Array(principals.Values()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query visible projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		out.Add(id)
	}
	return out, rows.Err()
}

// NonVisibleChildren returns the children of a parent whose benefactor ACL
// does not grant READ to any of the groups. Callers use it to subtract
// hidden ids from child listings.
func (s *ACLStore) NonVisibleChildren(ctx context.Context, groups authz.IDSet, parentID int64) ([]int64, error) {
	query := `
		SELECT n.id
		FROM nodes n
		WHERE n.parent_id = $1
		  AND NOT EXISTS (
			SELECT 1
			FROM acls a
			JOIN acl_resource_access ra ON ra.acl_id = a.id
			WHERE a.object_id = n.benefactor_id
			  AND a.object_type = $2
			  AND ra.access_type = $3
			  AND ra.principal_id = ANY($4)
		  )
		ORDER BY n.id
	`

	rows, err := s.db.QueryContext(ctx, query,
		parentID,
		string(authz.ObjectTypeEntity),
		string(authz.AccessRead),
		pq.Array(groups.Values()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query non-visible children: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func dedupeAccessTypes(types []authz.AccessType) []authz.AccessType {
	seen := make(map[authz.AccessType]struct{}, len(types))
	out := make([]authz.AccessType, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
