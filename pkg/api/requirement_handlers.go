package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// RequirementHandlers exposes access requirements over HTTP
type RequirementHandlers struct {
	gate   *accessreq.Gate
	store  accessreq.Store
	audit  audit.Logger
	logger *logrus.Logger
}

// NewRequirementHandlers creates a new requirement handlers instance
func NewRequirementHandlers(gate *accessreq.Gate, store accessreq.Store, auditLogger audit.Logger, logger *logrus.Logger) *RequirementHandlers {
	return &RequirementHandlers{
		gate:   gate,
		store:  store,
		audit:  auditLogger,
		logger: logger,
	}
}

// RegisterRoutes registers access requirement API routes
func (h *RequirementHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/entities/{id}/accessRequirements/unmet", h.getUnmet).Methods("GET")
	r.HandleFunc("/v1/accessRequirements", h.createRequirement).Methods("POST")
	r.HandleFunc("/v1/accessRequirements/{id}", h.getRequirement).Methods("GET")
	r.HandleFunc("/v1/accessRequirements/{id}/approvals", h.grantApproval).Methods("POST")
}

// UnmetRequirementsResponse lists the requirements blocking an action
type UnmetRequirementsResponse struct {
	EntityID     int64                         `json:"entity_id"`
	AccessType   string                        `json:"access_type"`
	Requirements []accessreq.AccessRequirement `json:"requirements"`
}

// getUnmet handles GET /v1/entities/{id}/accessRequirements/unmet
// Query params: accessType (default DOWNLOAD)
func (h *RequirementHandlers) getUnmet(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	accessType := authz.AccessType(httputil.ParseQueryString(r, "accessType", string(authz.AccessDownload)))
	if !accessType.Valid() {
		httputil.WriteBadRequest(w, "accessType must be a valid access type")
		return
	}

	reqs, err := h.gate.UnmetRequirements(r.Context(), principal, entityID, accessType)
	if err != nil {
		h.logger.WithError(err).WithField("entity_id", entityID).Error("unmet requirement query failed")
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, UnmetRequirementsResponse{
		EntityID:     entityID,
		AccessType:   string(accessType),
		Requirements: reqs,
	})
}

// createRequirement handles POST /v1/accessRequirements
//
// Requirement management is a governance action reserved for admins.
func (h *RequirementHandlers) createRequirement(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if !principal.IsAdmin {
		httputil.WriteForbidden(w, "only administrators may manage access requirements")
		return
	}

	var req accessreq.AccessRequirement
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.CreatedBy = principal.ID

	if err := h.store.CreateRequirement(r.Context(), &req); err != nil {
		h.logger.WithError(err).Warn("requirement create rejected")
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, &req)
}

// getRequirement handles GET /v1/accessRequirements/{id}
func (h *RequirementHandlers) getRequirement(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	req, err := h.store.GetRequirement(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// GrantApprovalRequest names the accessor being approved
type GrantApprovalRequest struct {
	AccessorID int64 `json:"accessor_id"`
}

// grantApproval handles POST /v1/accessRequirements/{id}/approvals
func (h *RequirementHandlers) grantApproval(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if !principal.IsAdmin {
		httputil.WriteForbidden(w, "only administrators may grant approvals")
		return
	}

	requirementID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var body GrantApprovalRequest
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !httputil.RequirePositive(w, body.AccessorID, "accessor_id") {
		return
	}

	// Reject approvals against requirements that do not exist.
	if _, err := h.store.GetRequirement(r.Context(), requirementID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	approval := accessreq.Approval{
		RequirementID: requirementID,
		AccessorID:    body.AccessorID,
		GrantedBy:     principal.ID,
	}
	if err := h.store.CreateApproval(r.Context(), &approval); err != nil {
		h.logger.WithError(err).Warn("approval grant rejected")
		httputil.WriteDomainError(w, err)
		return
	}

	if err := h.audit.LogApprovalGrant(r.Context(), principal.ID, body.AccessorID, requirementID); err != nil {
		h.logger.WithError(err).Warn("failed to audit approval grant")
	}
	httputil.WriteCreated(w, &approval)
}
