package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// DecisionHandlers exposes the decision engine over HTTP
type DecisionHandlers struct {
	evaluator *authz.Evaluator
	audit     audit.Logger
	logger    *logrus.Logger
}

// NewDecisionHandlers creates a new decision handlers instance
func NewDecisionHandlers(evaluator *authz.Evaluator, auditLogger audit.Logger, logger *logrus.Logger) *DecisionHandlers {
	return &DecisionHandlers{
		evaluator: evaluator,
		audit:     auditLogger,
		logger:    logger,
	}
}

// RegisterRoutes registers decision API routes
func (h *DecisionHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/decisions/canAccess", h.canAccess).Methods("GET")
	r.HandleFunc("/v1/entities/{id}/permissions", h.getUserPermissions).Methods("GET")
}

// DecisionResponse is the answer to a canAccess query
type DecisionResponse struct {
	EntityID   int64  `json:"entity_id"`
	ObjectType string `json:"object_type"`
	AccessType string `json:"access_type"`
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// canAccess handles GET /v1/decisions/canAccess
// Query params: entityId (required), accessType (required), objectType (default ENTITY)
func (h *DecisionHandlers) canAccess(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	entityID, err := httputil.ParseQueryInt64(r, "entityId", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !httputil.RequirePositive(w, entityID, "entityId") {
		return
	}

	accessType := authz.AccessType(httputil.ParseQueryString(r, "accessType", ""))
	if !accessType.Valid() {
		httputil.WriteBadRequest(w, "accessType must be a valid access type")
		return
	}

	objectType := authz.ObjectType(httputil.ParseQueryString(r, "objectType", string(authz.ObjectTypeEntity)))
	if !objectType.Valid() {
		httputil.WriteBadRequest(w, "objectType must be ENTITY, TEAM or EVALUATION")
		return
	}

	decision, err := h.evaluator.HasAccess(r.Context(), principal, entityID, objectType, accessType)
	if err != nil {
		h.logger.WithError(err).WithField("entity_id", entityID).Error("decision query failed")
		httputil.WriteDomainError(w, err)
		return
	}

	resp := DecisionResponse{
		EntityID:   entityID,
		ObjectType: string(objectType),
		AccessType: string(accessType),
		Authorized: decision.Allowed(),
		Reason:     decision.Reason(),
	}
	if !decision.Allowed() {
		if err := h.audit.LogAccessDenied(r.Context(), principal.ID, entityID, string(objectType), decision.Reason()); err != nil {
			h.logger.WithError(err).Warn("failed to audit denied decision")
		}
	}
	httputil.WriteSuccess(w, resp)
}

// getUserPermissions handles GET /v1/entities/{id}/permissions
func (h *DecisionHandlers) getUserPermissions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.evaluator.UserPermissions(r.Context(), principal, entityID)
	if err != nil {
		h.logger.WithError(err).WithField("entity_id", entityID).Error("permission bundle query failed")
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}
