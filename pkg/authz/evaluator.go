package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// HierarchyLookup resolves facts about a node in the resource graph. The
// benefactor pointer is precomputed by the hierarchy store; resolution is a
// single hop, never a live walk up the parent chain.
type HierarchyLookup interface {
	// GetBenefactor returns the id of the node whose own ACL governs nodeID.
	// Returns ErrNotFound if the node does not exist.
	GetBenefactor(ctx context.Context, nodeID int64) (int64, error)

	// GetCreatedBy returns the principal id that created the node.
	GetCreatedBy(ctx context.Context, nodeID int64) (int64, error)

	// IsProject reports whether the node is a project root.
	IsProject(ctx context.Context, nodeID int64) (bool, error)
}

// ACLStore persists access control lists keyed by (object id, object type).
type ACLStore interface {
	// Get returns the ACL owned by the object. Returns ErrNotFound if the
	// object owns no ACL.
	Get(ctx context.Context, objectID int64, objectType ObjectType) (*AccessControlList, error)

	// Create attaches a new ACL to the object named by acl.ID.
	Create(ctx context.Context, acl *AccessControlList) error

	// Delete removes the object's ACL. Deleting a missing ACL is not an
	// error at this layer.
	Delete(ctx context.Context, objectID int64, objectType ObjectType) error

	// Replace swaps the object's ACL for the given one atomically. The
	// object is never observable without an ACL mid-replace, and a failed
	// replace leaves the previous ACL in force.
	Replace(ctx context.Context, acl *AccessControlList) error

	// CanAccess reports whether any group id holds accessType on the
	// benefactor's own ACL. Returns ErrNoACL when the benefactor owns no
	// ACL so callers can fail closed while keeping the condition visible.
	CanAccess(ctx context.Context, groups IDSet, benefactorID int64, objectType ObjectType, accessType AccessType) (bool, error)

	// AccessibleBenefactors filters candidates down to the benefactor ids
	// on which any of the groups holds READ.
	AccessibleBenefactors(ctx context.Context, groups IDSet, objectType ObjectType, candidates IDSet) (IDSet, error)

	// AccessibleProjectIDs returns every project root readable by any of
	// the given principal ids, directly or through inheritance.
	AccessibleProjectIDs(ctx context.Context, principals IDSet) (IDSet, error)
}

// RequirementGate computes unmet compliance requirements for a node. The
// gate is independent of ACL grants: both must pass before a download.
type RequirementGate interface {
	UnmetRequirementIDs(ctx context.Context, principal *Principal, nodeID int64, accessType AccessType) ([]int64, error)
}

// Evaluator is the central permission decision engine. It is pure with
// respect to in-process state and safe for concurrent use.
type Evaluator struct {
	hierarchy HierarchyLookup
	acls      ACLStore
	gate      RequirementGate
	logger    *observability.Logger
	metrics   *observability.Metrics

	certifiedGate bool
	trashFolderID int64
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithMetrics records decision outcomes to the given metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithCertifiedGate requires certified-group membership for CREATE and for
// UPDATE of non-project entities
func WithCertifiedGate(enabled bool) Option {
	return func(e *Evaluator) { e.certifiedGate = enabled }
}

// WithTrashFolder sets the reserved trash container node id
func WithTrashFolder(nodeID int64) Option {
	return func(e *Evaluator) { e.trashFolderID = nodeID }
}

// NewEvaluator creates a permission evaluator over the given collaborators
func NewEvaluator(hierarchy HierarchyLookup, acls ACLStore, gate RequirementGate, logger *observability.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		hierarchy: hierarchy,
		acls:      acls,
		gate:      gate,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const (
	reasonCertifiedOnly = "only certified users may create or update content"
	reasonAnonymousRead = "anonymous callers have at most READ and DOWNLOAD permission"
	reasonInTrash       = "the requested entity is in the trash can"
	reasonUnmetARs      = "there are unmet access requirements that must be met before download"
)

// CanAccess reports whether any of the group ids holds accessType on the
// object, resolving inheritance through the benefactor pointer. The admin
// group bypasses the ACL entirely; the bypass is counted and logged so it
// stays auditable. A benefactor without an ACL fails closed.
func (e *Evaluator) CanAccess(ctx context.Context, groups IDSet, objectID int64, objectType ObjectType, accessType AccessType) (bool, error) {
	if len(groups) == 0 {
		return false, fmt.Errorf("%w: empty group set", ErrInvalidInput)
	}
	if groups.Contains(AdminGroupID) {
		e.recordAdminBypass(objectType, accessType)
		return true, nil
	}

	benefactor, err := e.resolveBenefactor(ctx, objectID, objectType)
	if err != nil {
		return false, err
	}

	allowed, err := e.acls.CanAccess(ctx, groups, benefactor, objectType, accessType)
	if errors.Is(err, ErrNoACL) {
		// Inconsistent data: the benefactor pointer names a node that owns
		// no ACL. Deny, but keep the condition distinguishable from an
		// ordinary denial.
		e.logger.WithField("object_id", objectID).
			WithField("benefactor_id", benefactor).
			Warn("benefactor has no ACL, failing closed")
		e.recordMissingACL(objectType)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acl check for object %d: %w", objectID, err)
	}
	e.recordDecision(allowed, objectType, accessType)
	return allowed, nil
}

// HasAccess answers the full decision for a principal, layering the
// anonymous restriction, the trash check, the certified-user gate and the
// download requirement gate on top of the ACL check.
func (e *Evaluator) HasAccess(ctx context.Context, principal *Principal, objectID int64, objectType ObjectType, accessType AccessType) (Decision, error) {
	if principal == nil {
		return Decision{}, fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}

	if objectType == ObjectTypeEntity && e.trashFolderID != 0 {
		benefactor, err := e.hierarchy.GetBenefactor(ctx, objectID)
		if err != nil {
			return Decision{}, err
		}
		if benefactor == e.trashFolderID && accessType != AccessCreate && accessType != AccessDelete {
			return Denied(reasonInTrash), nil
		}
	}

	if principal.IsAnonymous() && accessType != AccessRead && accessType != AccessDownload {
		return Denied(reasonAnonymousRead), nil
	}

	if principal.IsAdmin {
		e.recordAdminBypass(objectType, accessType)
		return Authorized(), nil
	}

	if e.certifiedGate && objectType == ObjectTypeEntity && !principal.IsCertified() {
		gated := accessType == AccessCreate
		if accessType == AccessUpdate {
			isProject, err := e.hierarchy.IsProject(ctx, objectID)
			if err != nil {
				return Decision{}, err
			}
			gated = !isProject
		}
		if gated {
			return Denied(reasonCertifiedOnly), nil
		}
	}

	allowed, err := e.CanAccess(ctx, principal.Groups, objectID, objectType, accessType)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return Denied(fmt.Sprintf("you do not have %s permission for the requested object", accessType)), nil
	}

	if accessType == AccessDownload && objectType == ObjectTypeEntity && e.gate != nil {
		unmet, err := e.gate.UnmetRequirementIDs(ctx, principal, objectID, AccessDownload)
		if err != nil {
			return Decision{}, fmt.Errorf("requirement gate for object %d: %w", objectID, err)
		}
		if len(unmet) > 0 {
			return Denied(reasonUnmetARs), nil
		}
	}

	return Authorized(), nil
}

// UserPermissions computes the full permission bundle for one entity in a
// single call, the shape the web UI renders from.
func (e *Evaluator) UserPermissions(ctx context.Context, principal *Principal, entityID int64) (*UserEntityPermissions, error) {
	if principal == nil {
		return nil, fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}
	creator, err := e.hierarchy.GetCreatedBy(ctx, entityID)
	if err != nil {
		return nil, err
	}

	perms := &UserEntityPermissions{
		OwnerPrincipalID: creator,
		IsCertified:      principal.IsCertified(),
	}

	checks := []struct {
		target *bool
		access AccessType
	}{
		{&perms.CanView, AccessRead},
		{&perms.CanEdit, AccessUpdate},
		{&perms.CanDelete, AccessDelete},
		{&perms.CanDownload, AccessDownload},
		{&perms.CanAddChild, AccessCreate},
		{&perms.CanChangePermissions, AccessChangePermissions},
		{&perms.CanModerate, AccessModerate},
	}
	for _, c := range checks {
		d, err := e.HasAccess(ctx, principal, entityID, ObjectTypeEntity, c.access)
		if err != nil {
			return nil, err
		}
		*c.target = d.Allowed()
	}

	publicRead, err := e.HasAccess(ctx, AnonymousPrincipal(), entityID, ObjectTypeEntity, AccessRead)
	if err != nil {
		return nil, err
	}
	perms.CanPublicRead = publicRead.Allowed()

	return perms, nil
}

func (e *Evaluator) resolveBenefactor(ctx context.Context, objectID int64, objectType ObjectType) (int64, error) {
	// Only entities inherit permissions; teams and evaluations govern
	// themselves.
	if objectType != ObjectTypeEntity {
		return objectID, nil
	}
	benefactor, err := e.hierarchy.GetBenefactor(ctx, objectID)
	if err != nil {
		return 0, fmt.Errorf("resolving benefactor of node %d: %w", objectID, err)
	}
	return benefactor, nil
}

func (e *Evaluator) recordDecision(allowed bool, objectType ObjectType, accessType AccessType) {
	if e.metrics == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	e.metrics.DecisionsTotal.WithLabelValues(outcome, string(objectType), string(accessType)).Inc()
}

func (e *Evaluator) recordAdminBypass(objectType ObjectType, accessType AccessType) {
	e.logger.WithField("object_type", string(objectType)).
		WithField("access_type", string(accessType)).
		Debug("admin bypass of ACL check")
	if e.metrics != nil {
		e.metrics.AdminBypassTotal.Inc()
		e.metrics.DecisionsTotal.WithLabelValues("allowed", string(objectType), string(accessType)).Inc()
	}
}

func (e *Evaluator) recordMissingACL(objectType ObjectType) {
	if e.metrics != nil {
		e.metrics.MissingACLTotal.Inc()
		e.metrics.DecisionsTotal.WithLabelValues("no_acl", string(objectType), "").Inc()
	}
}
