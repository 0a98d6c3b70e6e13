package authz

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// BenefactorResolver answers coarse-grained visibility questions over sets
// of benefactor ids, used to scope listing and search queries.
type BenefactorResolver struct {
	acls   ACLStore
	logger *observability.Logger
}

// NewBenefactorResolver creates a resolver over the given ACL store
func NewBenefactorResolver(acls ACLStore, logger *observability.Logger) *BenefactorResolver {
	return &BenefactorResolver{acls: acls, logger: logger}
}

// AccessibleBenefactors returns the subset of candidates on which the
// principal holds READ. A benefactor id is always self-governing, so no
// hierarchy hop is needed. Candidates that do not exist are silently
// excluded: the input is typically a pre-filtered id set from a broader
// query, and a stale id just means "not visible".
func (r *BenefactorResolver) AccessibleBenefactors(ctx context.Context, principal *Principal, objectType ObjectType, candidates IDSet) (IDSet, error) {
	if principal == nil {
		return nil, fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}
	if len(candidates) == 0 {
		return IDSet{}, nil
	}
	if principal.IsAdmin {
		// Administrators see every candidate; copy so callers cannot
		// alias the input set.
		out := make(IDSet, len(candidates))
		for id := range candidates {
			out.Add(id)
		}
		return out, nil
	}
	accessible, err := r.acls.AccessibleBenefactors(ctx, principal.Groups, objectType, candidates)
	if err != nil {
		return nil, fmt.Errorf("filtering %d benefactor candidates: %w", len(candidates), err)
	}
	return accessible, nil
}

// AccessibleProjectIDs returns every project root readable by any of the
// given principal ids, directly or via an inherited ACL. Results stay
// consistent with CanAccess: any returned id independently passes a READ
// check against the same principal set.
func (r *BenefactorResolver) AccessibleProjectIDs(ctx context.Context, principalIDs IDSet) (IDSet, error) {
	if len(principalIDs) == 0 {
		return IDSet{}, nil
	}
	ids, err := r.acls.AccessibleProjectIDs(ctx, principalIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving accessible projects: %w", err)
	}
	return ids, nil
}
