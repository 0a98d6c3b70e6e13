package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// ChildVisibilityLister answers which children of a container a caller
// cannot see. Implemented by the postgres ACL store.
type ChildVisibilityLister interface {
	NonVisibleChildren(ctx context.Context, groups authz.IDSet, parentID int64) ([]int64, error)
}

// ACLHandlers exposes the ACL lifecycle over HTTP
type ACLHandlers struct {
	manager   *authz.ACLManager
	hierarchy authz.HierarchyLookup
	children  ChildVisibilityLister
	audit     audit.Logger
	logger    *logrus.Logger
}

// NewACLHandlers creates a new ACL handlers instance
func NewACLHandlers(manager *authz.ACLManager, hierarchy authz.HierarchyLookup, children ChildVisibilityLister, auditLogger audit.Logger, logger *logrus.Logger) *ACLHandlers {
	return &ACLHandlers{
		manager:   manager,
		hierarchy: hierarchy,
		children:  children,
		audit:     auditLogger,
		logger:    logger,
	}
}

// RegisterRoutes registers ACL API routes
func (h *ACLHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/entities/{id}/benefactor", h.getBenefactor).Methods("GET")
	r.HandleFunc("/v1/entities/{id}/acl", h.getACL).Methods("GET")
	r.HandleFunc("/v1/entities/{id}/acl", h.putACL).Methods("PUT")
	r.HandleFunc("/v1/entities/{id}/acl", h.deleteACL).Methods("DELETE")
	r.HandleFunc("/v1/entities/{id}/children/nonVisible", h.nonVisibleChildren).Methods("GET")
}

// BenefactorResponse names the node whose ACL governs the entity
type BenefactorResponse struct {
	EntityID     int64 `json:"entity_id"`
	BenefactorID int64 `json:"benefactor_id"`
}

// getBenefactor handles GET /v1/entities/{id}/benefactor
func (h *ACLHandlers) getBenefactor(w http.ResponseWriter, r *http.Request) {
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	benefactor, err := h.hierarchy.GetBenefactor(r.Context(), entityID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, BenefactorResponse{EntityID: entityID, BenefactorID: benefactor})
}

// getACL handles GET /v1/entities/{id}/acl
//
// A node that inherits its permissions has no ACL of its own; the 404 body
// names the benefactor so clients can follow the redirect.
func (h *ACLHandlers) getACL(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	acl, err := h.manager.GetACL(r.Context(), principal, entityID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, acl)
}

// putACL handles PUT /v1/entities/{id}/acl
//
// When the entity already owns an ACL the body replaces it; when it inherits,
// the call breaks inheritance by attaching the new ACL to the entity.
func (h *ACLHandlers) putACL(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var acl authz.AccessControlList
	if !httputil.ParseJSONOrError(w, r, &acl) {
		return
	}
	acl.ID = entityID
	acl.ObjectType = authz.ObjectTypeEntity

	benefactor, err := h.hierarchy.GetBenefactor(r.Context(), entityID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	var saved *authz.AccessControlList
	eventType := audit.EventTypeACLUpdate
	if benefactor == entityID {
		saved, err = h.manager.UpdateACL(r.Context(), principal, &acl)
	} else {
		eventType = audit.EventTypeACLCreate
		saved, err = h.manager.OverrideInheritance(r.Context(), principal, &acl)
	}
	if err != nil {
		h.logger.WithError(err).WithField("entity_id", entityID).Warn("ACL write rejected")
		httputil.WriteDomainError(w, err)
		return
	}

	if err := h.audit.LogACLChange(r.Context(), eventType, principal.ID, entityID, grantedPrincipals(saved)); err != nil {
		h.logger.WithError(err).Warn("failed to audit ACL change")
	}
	if eventType == audit.EventTypeACLCreate {
		httputil.WriteCreated(w, saved)
		return
	}
	httputil.WriteSuccess(w, saved)
}

// deleteACL handles DELETE /v1/entities/{id}/acl, restoring inheritance
func (h *ACLHandlers) deleteACL(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	inherited, err := h.manager.RestoreInheritance(r.Context(), principal, entityID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	if err := h.audit.LogACLChange(r.Context(), audit.EventTypeACLDelete, principal.ID, entityID, nil); err != nil {
		h.logger.WithError(err).Warn("failed to audit ACL delete")
	}
	httputil.WriteSuccess(w, inherited)
}

// NonVisibleChildrenResponse lists child ids hidden from the caller
type NonVisibleChildrenResponse struct {
	ParentID int64   `json:"parent_id"`
	Children []int64 `json:"children"`
}

// nonVisibleChildren handles GET /v1/entities/{id}/children/nonVisible
func (h *ACLHandlers) nonVisibleChildren(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	parentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	children, err := h.children.NonVisibleChildren(r.Context(), principal.Groups, parentID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if children == nil {
		children = []int64{}
	}
	httputil.WriteSuccess(w, NonVisibleChildrenResponse{ParentID: parentID, Children: children})
}

func grantedPrincipals(acl *authz.AccessControlList) []int64 {
	if acl == nil {
		return nil
	}
	ids := make([]int64, 0, len(acl.ResourceAccess))
	for _, ra := range acl.ResourceAccess {
		ids = append(ids, ra.PrincipalID)
	}
	return ids
}
