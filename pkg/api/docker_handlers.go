package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/registry"
)

// DockerHandlers exposes registry scope resolution and the notification
// callback over HTTP
type DockerHandlers struct {
	resolver  *registry.ScopeResolver
	processor *registry.EventProcessor
	logger    *logrus.Logger
}

// NewDockerHandlers creates a new docker handlers instance
func NewDockerHandlers(resolver *registry.ScopeResolver, processor *registry.EventProcessor, logger *logrus.Logger) *DockerHandlers {
	return &DockerHandlers{
		resolver:  resolver,
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes registers docker registry API routes
func (h *DockerHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/docker/token", h.resolveToken).Methods("GET")
	r.HandleFunc("/v1/docker/events", h.processEvents).Methods("POST")
}

// TokenResponse carries the per-scope granted actions for token issuance.
// Token signing itself belongs to the registry auth service.
type TokenResponse struct {
	PrincipalID int64                      `json:"principal_id"`
	Access      []registry.ScopePermission `json:"access"`
}

// resolveToken handles GET /v1/docker/token
// Query params: scope (repeatable, "type:repository:actions")
func (h *DockerHandlers) resolveToken(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)

	raw := r.URL.Query()["scope"]
	if len(raw) == 0 {
		httputil.WriteBadRequest(w, "at least one scope parameter is required")
		return
	}

	scopes, err := registry.ParseScopes(raw)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	perms, err := h.resolver.ResolvePermissions(r.Context(), principal, scopes)
	if err != nil {
		h.logger.WithError(err).Error("scope resolution failed")
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, TokenResponse{PrincipalID: principal.ID, Access: perms})
}

// EventBatch is the registry notification callback payload
type EventBatch struct {
	Events []registry.Event `json:"events"`
}

// EventBatchResponse reports the per-event disposition
type EventBatchResponse struct {
	Results []registry.EventResult `json:"results"`
}

// processEvents handles POST /v1/docker/events
//
// Processing is idempotent per event id, so registry retries are safe.
func (h *DockerHandlers) processEvents(w http.ResponseWriter, r *http.Request) {
	var batch EventBatch
	if !httputil.ParseJSONOrError(w, r, &batch) {
		return
	}
	if len(batch.Events) == 0 {
		httputil.WriteBadRequest(w, "event batch is empty")
		return
	}

	results, err := h.processor.Process(r.Context(), batch.Events)
	if err != nil {
		h.logger.WithError(err).Error("registry event processing failed")
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, EventBatchResponse{Results: results})
}
