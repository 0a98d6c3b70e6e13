package authz

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// HierarchyMaintainer extends HierarchyLookup with the benefactor pointer
// maintenance performed when an ACL is created or deleted. The store
// serializes rebinds per object id so a pointer is never read mid-update.
type HierarchyMaintainer interface {
	HierarchyLookup

	// RebindBenefactor repoints every node in nodeID's subtree that
	// currently inherits from oldBenefactor to newBenefactor.
	RebindBenefactor(ctx context.Context, nodeID, oldBenefactor, newBenefactor int64) error

	// ParentBenefactor returns the benefactor of the node's parent, or
	// ErrInvalidInput if the node is a root.
	ParentBenefactor(ctx context.Context, nodeID int64) (int64, error)
}

// BenefactorMismatchError reports an attempt to read the ACL of a node that
// inherits its permissions. It carries the benefactor so callers can
// redirect.
type BenefactorMismatchError struct {
	NodeID       int64
	BenefactorID int64
}

func (e *BenefactorMismatchError) Error() string {
	return fmt.Sprintf("node %d inherits its permissions from node %d", e.NodeID, e.BenefactorID)
}

// ACLManager owns the ACL lifecycle at the inheritance boundary: reading an
// owned ACL, creating one to break inheritance, and deleting one to restore
// it. Every mutation is authorized through the evaluator first.
type ACLManager struct {
	hierarchy HierarchyMaintainer
	acls      ACLStore
	evaluator *Evaluator
	logger    *observability.Logger
}

// NewACLManager creates an ACL lifecycle manager
func NewACLManager(hierarchy HierarchyMaintainer, acls ACLStore, evaluator *Evaluator, logger *observability.Logger) *ACLManager {
	return &ACLManager{hierarchy: hierarchy, acls: acls, evaluator: evaluator, logger: logger}
}

// GetACL returns the ACL owned by the node. If the node inherits its
// permissions the result is a BenefactorMismatchError naming the governing
// node, so callers never mistake an inherited ACL for an owned one.
func (m *ACLManager) GetACL(ctx context.Context, principal *Principal, nodeID int64) (*AccessControlList, error) {
	d, err := m.evaluator.HasAccess(ctx, principal, nodeID, ObjectTypeEntity, AccessRead)
	if err != nil {
		return nil, err
	}
	if err := d.CheckOrErr(); err != nil {
		return nil, err
	}

	benefactor, err := m.hierarchy.GetBenefactor(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if benefactor != nodeID {
		return nil, &BenefactorMismatchError{NodeID: nodeID, BenefactorID: benefactor}
	}
	return m.acls.Get(ctx, nodeID, ObjectTypeEntity)
}

// UpdateACL replaces the ACL a node already owns
func (m *ACLManager) UpdateACL(ctx context.Context, principal *Principal, acl *AccessControlList) (*AccessControlList, error) {
	if err := validateACLContent(acl); err != nil {
		return nil, err
	}
	benefactor, err := m.hierarchy.GetBenefactor(ctx, acl.ID)
	if err != nil {
		return nil, err
	}
	if benefactor != acl.ID {
		return nil, Denied("cannot update the ACL of a node that inherits its permissions").CheckOrErr()
	}

	d, err := m.evaluator.HasAccess(ctx, principal, acl.ID, ObjectTypeEntity, AccessChangePermissions)
	if err != nil {
		return nil, err
	}
	if err := d.CheckOrErr(); err != nil {
		return nil, err
	}

	acl.ObjectType = ObjectTypeEntity
	// The node is its own benefactor here, so it must never be left without
	// an ACL. Replace runs delete and insert in one store transaction.
	if err := m.acls.Replace(ctx, acl); err != nil {
		return nil, fmt.Errorf("replacing ACL of node %d: %w", acl.ID, err)
	}
	return m.acls.Get(ctx, acl.ID, ObjectTypeEntity)
}

// OverrideInheritance attaches a new ACL to a node that currently inherits
// its permissions, making the node its own benefactor and repointing its
// subtree.
func (m *ACLManager) OverrideInheritance(ctx context.Context, principal *Principal, acl *AccessControlList) (*AccessControlList, error) {
	if err := validateACLContent(acl); err != nil {
		return nil, err
	}
	nodeID := acl.ID
	benefactor, err := m.hierarchy.GetBenefactor(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if benefactor == nodeID {
		return nil, Denied("node already owns an ACL").CheckOrErr()
	}

	// Changing where permissions come from requires CHANGE_PERMISSIONS on
	// the current benefactor.
	d, err := m.evaluator.HasAccess(ctx, principal, benefactor, ObjectTypeEntity, AccessChangePermissions)
	if err != nil {
		return nil, err
	}
	if err := d.CheckOrErr(); err != nil {
		return nil, err
	}

	acl.ObjectType = ObjectTypeEntity
	if err := m.acls.Create(ctx, acl); err != nil {
		return nil, fmt.Errorf("creating ACL for node %d: %w", nodeID, err)
	}
	if err := m.hierarchy.RebindBenefactor(ctx, nodeID, benefactor, nodeID); err != nil {
		return nil, fmt.Errorf("rebinding subtree of node %d: %w", nodeID, err)
	}
	m.logger.WithField("node_id", nodeID).
		WithField("old_benefactor", benefactor).
		Info("ACL created, inheritance overridden")
	return m.acls.Get(ctx, nodeID, ObjectTypeEntity)
}

// RestoreInheritance deletes the ACL a node owns and repoints the node and
// its inheriting subtree at the parent's benefactor. Descendants fail
// closed between the delete and the rebind: the rebind runs in the same
// store transaction as the delete's pointer update.
func (m *ACLManager) RestoreInheritance(ctx context.Context, principal *Principal, nodeID int64) (*AccessControlList, error) {
	benefactor, err := m.hierarchy.GetBenefactor(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if benefactor != nodeID {
		return nil, Denied("node already inherits its permissions").CheckOrErr()
	}

	d, err := m.evaluator.HasAccess(ctx, principal, nodeID, ObjectTypeEntity, AccessChangePermissions)
	if err != nil {
		return nil, err
	}
	if err := d.CheckOrErr(); err != nil {
		return nil, err
	}

	parentBenefactor, err := m.hierarchy.ParentBenefactor(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node %d has no parent to inherit from: %w", nodeID, err)
	}

	if err := m.acls.Delete(ctx, nodeID, ObjectTypeEntity); err != nil {
		return nil, err
	}
	if err := m.hierarchy.RebindBenefactor(ctx, nodeID, nodeID, parentBenefactor); err != nil {
		return nil, fmt.Errorf("rebinding subtree of node %d: %w", nodeID, err)
	}
	m.logger.WithField("node_id", nodeID).
		WithField("new_benefactor", parentBenefactor).
		Info("ACL deleted, inheritance restored")
	return m.acls.Get(ctx, parentBenefactor, ObjectTypeEntity)
}

func validateACLContent(acl *AccessControlList) error {
	if acl == nil || acl.ID == 0 {
		return fmt.Errorf("%w: acl and acl.ID are required", ErrInvalidInput)
	}
	if len(acl.ResourceAccess) == 0 {
		return fmt.Errorf("%w: acl must grant access to at least one principal", ErrInvalidInput)
	}
	for _, ra := range acl.ResourceAccess {
		if ra.PrincipalID == 0 {
			return fmt.Errorf("%w: resource access entry missing principal id", ErrInvalidInput)
		}
		if len(ra.AccessTypes) == 0 {
			return fmt.Errorf("%w: resource access entry for principal %d grants no access types", ErrInvalidInput, ra.PrincipalID)
		}
	}
	return nil
}
