package api

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/registry"
)

// Server wires the authorization service's HTTP surface
type Server struct {
	router *mux.Router
	logger *logrus.Logger

	decisionHandlers    *DecisionHandlers
	aclHandlers         *ACLHandlers
	requirementHandlers *RequirementHandlers
	dockerHandlers      *DockerHandlers
}

// Dependencies carries the collaborators the handlers need
type Dependencies struct {
	Evaluator        *authz.Evaluator
	ACLManager       *authz.ACLManager
	Hierarchy        authz.HierarchyLookup
	ChildrenLister   ChildVisibilityLister
	Gate             *accessreq.Gate
	RequirementStore accessreq.Store
	ScopeResolver    *registry.ScopeResolver
	EventProcessor   *registry.EventProcessor
	Audit            audit.Logger
}

// NewServer creates a new API server and registers all routes
func NewServer(deps Dependencies, logger *logrus.Logger) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}

	s := &Server{
		router:              mux.NewRouter(),
		logger:              logger,
		decisionHandlers:    NewDecisionHandlers(deps.Evaluator, deps.Audit, logger),
		aclHandlers:         NewACLHandlers(deps.ACLManager, deps.Hierarchy, deps.ChildrenLister, deps.Audit, logger),
		requirementHandlers: NewRequirementHandlers(deps.Gate, deps.RequirementStore, deps.Audit, logger),
		dockerHandlers:      NewDockerHandlers(deps.ScopeResolver, deps.EventProcessor, logger),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.decisionHandlers.RegisterRoutes(s.router)
	s.aclHandlers.RegisterRoutes(s.router)
	s.requirementHandlers.RegisterRoutes(s.router)
	s.dockerHandlers.RegisterRoutes(s.router)
}

// Router returns the configured route tree for mounting behind middleware
func (s *Server) Router() *mux.Router {
	return s.router
}
