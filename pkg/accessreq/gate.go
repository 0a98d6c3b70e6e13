package accessreq

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Store persists requirements and approvals. The unmet query runs entirely
// in the store so the gate never loads requirement bodies it does not need.
type Store interface {
	// UnmetRequirementIDs returns the ids of requirements attached to any
	// of subjectIDs, gating accessType, and not approved for any of the
	// accessor ids. Result order is the store's natural order and stable.
	UnmetRequirementIDs(ctx context.Context, subjectIDs []int64, accessType authz.AccessType, accessorIDs []int64) ([]int64, error)

	// RequirementsForSubjects returns every requirement attached to any of
	// the subjects.
	RequirementsForSubjects(ctx context.Context, subjectIDs []int64) ([]AccessRequirement, error)

	// GetRequirement returns one requirement by id, authz.ErrNotFound when
	// absent.
	GetRequirement(ctx context.Context, id int64) (*AccessRequirement, error)

	// CreateRequirement persists a new requirement and assigns its id.
	CreateRequirement(ctx context.Context, req *AccessRequirement) error

	// CreateApproval records an accessor as having satisfied a requirement.
	CreateApproval(ctx context.Context, approval *Approval) error
}

// AncestorLookup exposes the slice of the hierarchy the gate needs:
// requirements attached to any ancestor of a node also gate the node.
type AncestorLookup interface {
	// AncestorIDs returns the node's ancestor path, nearest first,
	// optionally including the node itself.
	AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error)

	// GetCreatedBy returns the principal id that created the node.
	GetCreatedBy(ctx context.Context, nodeID int64) (int64, error)
}

// Gate computes the unmet compliance requirements blocking an action on a
// node. It is read-only and safe for concurrent use.
type Gate struct {
	store   Store
	lookup  AncestorLookup
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGate creates a requirement gate. metrics may be nil.
func NewGate(store Store, lookup AncestorLookup, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{store: store, lookup: lookup, logger: logger, metrics: metrics}
}

// UnmetRequirementIDs returns the ids of requirements blocking accessType on
// nodeID for the principal, in the store's stable order. An empty result
// means the action may proceed as far as compliance gating is concerned;
// the ACL check is independent and still required.
//
// The node's creator is never blocked by requirements on their own node.
func (g *Gate) UnmetRequirementIDs(ctx context.Context, principal *authz.Principal, nodeID int64, accessType authz.AccessType) ([]int64, error) {
	if principal == nil {
		return nil, fmt.Errorf("%w: principal is required", authz.ErrInvalidInput)
	}

	creator, err := g.lookup.GetCreatedBy(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("looking up creator of node %d: %w", nodeID, err)
	}
	if creator == principal.ID {
		return []int64{}, nil
	}

	subjects, err := g.lookup.AncestorIDs(ctx, nodeID, true)
	if err != nil {
		return nil, fmt.Errorf("resolving ancestors of node %d: %w", nodeID, err)
	}

	unmet, err := g.store.UnmetRequirementIDs(ctx, subjects, accessType, principal.Groups.Values())
	if err != nil {
		return nil, fmt.Errorf("unmet requirement query for node %d: %w", nodeID, err)
	}
	if len(unmet) > 0 {
		g.logger.WithField("node_id", nodeID).
			WithField("principal_id", principal.ID).
			WithField("unmet", len(unmet)).
			Debug("access requirements unmet")
		if g.metrics != nil {
			g.metrics.UnmetRequirementsTotal.WithLabelValues(string(accessType)).Inc()
		}
	}
	return unmet, nil
}

// UnmetRequirements resolves the full requirement bodies for presentation,
// preserving the unmet order.
func (g *Gate) UnmetRequirements(ctx context.Context, principal *authz.Principal, nodeID int64, accessType authz.AccessType) ([]AccessRequirement, error) {
	ids, err := g.UnmetRequirementIDs(ctx, principal, nodeID, accessType)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []AccessRequirement{}, nil
	}

	subjects, err := g.lookup.AncestorIDs(ctx, nodeID, true)
	if err != nil {
		return nil, err
	}
	all, err := g.store.RequirementsForSubjects(ctx, subjects)
	if err != nil {
		return nil, fmt.Errorf("loading requirements for node %d: %w", nodeID, err)
	}

	byID := make(map[int64]AccessRequirement, len(all))
	for _, req := range all {
		byID[req.ID] = req
	}
	out := make([]AccessRequirement, 0, len(ids))
	for _, id := range ids {
		if req, ok := byID[id]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}
