package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/authz"
)

// RequirementStore persists access requirements and approvals
type RequirementStore struct {
	db *sql.DB
}

// NewRequirementStore creates a new requirement store
func NewRequirementStore(db *sql.DB) *RequirementStore {
	return &RequirementStore{db: db}
}

// UnmetRequirementIDs implements accessreq.Store. The ordering by id is the
// stable order the gate exposes to callers.
func (s *RequirementStore) UnmetRequirementIDs(ctx context.Context, subjectIDs []int64, accessType authz.AccessType, accessorIDs []int64) ([]int64, error) {
	if len(subjectIDs) == 0 {
		return []int64{}, nil
	}

	query := `
		SELECT DISTINCT ar.id
		FROM access_requirements ar
		JOIN access_requirement_subjects ars ON ars.requirement_id = ar.id
		WHERE ars.subject_id = ANY($1)
		  AND ar.access_type = $2
		  AND NOT EXISTS (
			SELECT 1 FROM access_approvals aa
			WHERE aa.requirement_id = ar.id AND aa.accessor_id = ANY($3)
		  )
		ORDER BY ar.id
	`

	rows, err := s.db.QueryContext(ctx, query,
		pq.Array(subjectIDs),
		string(accessType),
		pq.Array(accessorIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmet requirements: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan requirement id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequirementsForSubjects implements accessreq.Store
func (s *RequirementStore) RequirementsForSubjects(ctx context.Context, subjectIDs []int64) ([]accessreq.AccessRequirement, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ar.id, ar.requirement_type, ar.access_type, ar.terms, ar.description,
		       ar.created_by, ar.created_at, ar.modified_at, ars.subject_id
		FROM access_requirements ar
		JOIN access_requirement_subjects ars ON ars.requirement_id = ar.id
		WHERE ar.id IN (
			SELECT DISTINCT requirement_id
			FROM access_requirement_subjects
			WHERE subject_id = ANY($1)
		)
		ORDER BY ar.id, ars.subject_id
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(subjectIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query requirements: %w", err)
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
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
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

// GetRequirement implements accessreq.Store
func (s *RequirementStore) GetRequirement(ctx context.Context, id int64) (*accessreq.AccessRequirement, error) {
	query := `
		SELECT id, requirement_type, access_type, terms, description, created_by, created_at, modified_at
		FROM access_requirements
		WHERE id = $1
	`

	var (
		req               accessreq.AccessRequirement
		reqType, accessAt string
		terms, desc       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &reqType, &accessAt, &terms, &desc,
		&req.CreatedBy, &req.CreatedAt, &req.ModifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("access requirement %d: %w", id, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}

	req.Type = accessreq.RequirementType(reqType)
	req.AccessType = authz.AccessType(accessAt)
	req.Terms = terms.String
	req.Description = desc.String

	subjectQuery := `
		SELECT subject_id FROM access_requirement_subjects
		WHERE requirement_id = $1
		ORDER BY subject_id
	`
	rows, err := s.db.QueryContext(ctx, subjectQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement subjects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subjectID int64
		if err := rows.Scan(&subjectID); err != nil {
			return nil, fmt.Errorf("failed to scan subject id: %w", err)
		}
		req.SubjectIDs = append(req.SubjectIDs, subjectID)
	}
	return &req, rows.Err()
}

// CreateRequirement implements accessreq.Store
func (s *RequirementStore) CreateRequirement(ctx context.Context, req *accessreq.AccessRequirement) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown requirement type %q", authz.ErrInvalidInput, req.Type)
	}
	if len(req.SubjectIDs) == 0 {
		return fmt.Errorf("%w: requirement must have at least one subject", authz.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO access_requirements (requirement_type, access_type, terms, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, modified_at
	`
	err = tx.QueryRowContext(ctx, query,
		string(req.Type),
		string(req.AccessType),
		req.Terms,
		req.Description,
		req.CreatedBy,
	).Scan(&req.ID, &req.CreatedAt, &req.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to create requirement: %w", err)
	}

	subjectQuery := `
		INSERT INTO access_requirement_subjects (requirement_id, subject_id)
		VALUES ($1, $2)
	`
	for _, subjectID := range req.SubjectIDs {
		if _, err := tx.ExecContext(ctx, subjectQuery, req.ID, subjectID); err != nil {
			return fmt.Errorf("failed to attach subject %d: %w", subjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requirement create: %w", err)
	}
	return nil
}

// CreateApproval implements accessreq.Store
func (s *RequirementStore) CreateApproval(ctx context.Context, approval *accessreq.Approval) error {
	query := `
		INSERT INTO access_approvals (requirement_id, accessor_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (requirement_id, accessor_id) DO UPDATE SET granted_by = EXCLUDED.granted_by
		RETURNING id, granted_at
	`

	err := s.db.QueryRowContext(ctx, query,
		approval.RequirementID,
		approval.AccessorID,
		approval.GrantedBy,
	).Scan(&approval.ID, &approval.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}
