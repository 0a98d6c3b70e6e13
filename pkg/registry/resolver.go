package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/observability"
)

// ScopeResolver turns parsed token scopes into permitted-action sets. Each
// requested action is checked individually; a scope is never granted or
// refused as a whole.
type ScopeResolver struct {
	repos     RepositoryResolver
	evaluator *authz.Evaluator
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewScopeResolver creates a scope resolver. metrics may be nil.
func NewScopeResolver(repos RepositoryResolver, evaluator *authz.Evaluator, logger *observability.Logger, metrics *observability.Metrics) *ScopeResolver {
	return &ScopeResolver{repos: repos, evaluator: evaluator, logger: logger, metrics: metrics}
}

// ResolvePermissions resolves every scope for the principal. An
// unresolvable repository yields an empty permitted set for that scope, not
// an error: the registry expects a token that simply grants nothing.
func (r *ScopeResolver) ResolvePermissions(ctx context.Context, principal *authz.Principal, scopes []Scope) ([]ScopePermission, error) {
	if principal == nil {
		return nil, fmt.Errorf("%w: principal is required", authz.ErrInvalidInput)
	}

	out := make([]ScopePermission, 0, len(scopes))
	for _, scope := range scopes {
		perm, err := r.resolveScope(ctx, principal, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, perm)
	}
	return out, nil
}

func (r *ScopeResolver) resolveScope(ctx context.Context, principal *authz.Principal, scope Scope) (ScopePermission, error) {
	perm := ScopePermission{Scope: scope, PermittedActions: []string{}}

	if scope.Type != ScopeTypeRepository {
		r.count(scope.Type, "unsupported_type")
		return perm, nil
	}

	repo, err := r.repos.ResolveRepository(ctx, scope.Repository)
	if err != nil && !errors.Is(err, authz.ErrNotFound) {
		return perm, fmt.Errorf("resolving repository %q: %w", scope.Repository, err)
	}

	for _, action := range scope.Actions {
		allowed, err := r.actionAllowed(ctx, principal, scope, repo, action)
		if err != nil {
			return perm, err
		}
		if allowed {
			perm.PermittedActions = append(perm.PermittedActions, action)
		}
	}

	result := "partial"
	switch {
	case len(perm.PermittedActions) == len(scope.Actions):
		result = "granted"
	case len(perm.PermittedActions) == 0:
		result = "refused"
	}
	r.count(scope.Type, result)

	r.logger.WithField("repository", scope.Repository).
		WithField("principal_id", principal.ID).
		WithField("requested", scope.Actions).
		WithField("permitted", perm.PermittedActions).
		Debug("resolved registry scope")
	return perm, nil
}

// actionAllowed maps one registry action onto the entity access model:
// pull is DOWNLOAD on the repository node, push is UPDATE on an existing
// node or CREATE on the parent project for a repository that does not
// exist yet.
func (r *ScopeResolver) actionAllowed(ctx context.Context, principal *authz.Principal, scope Scope, repo *Repository, action string) (bool, error) {
	switch action {
	case ActionPull:
		if repo == nil {
			return false, nil
		}
		return r.decide(ctx, principal, repo.NodeID, authz.AccessDownload)

	case ActionPush:
		if repo != nil {
			return r.decide(ctx, principal, repo.NodeID, authz.AccessUpdate)
		}
		projectID, ok := ParentProjectID(scope.Repository)
		if !ok {
			return false, nil
		}
		return r.decide(ctx, principal, projectID, authz.AccessCreate)

	default:
		return false, nil
	}
}

func (r *ScopeResolver) decide(ctx context.Context, principal *authz.Principal, nodeID int64, accessType authz.AccessType) (bool, error) {
	d, err := r.evaluator.HasAccess(ctx, principal, nodeID, authz.ObjectTypeEntity, accessType)
	if err != nil {
		// A dangling node reference behaves like an unknown repository.
		if errors.Is(err, authz.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.Allowed(), nil
}

func (r *ScopeResolver) count(scopeType, result string) {
	if r.metrics != nil {
		r.metrics.ScopeResolutionsTotal.WithLabelValues(scopeType, result).Inc()
	}
}
