// Package api provides the HTTP surface of the authorization service.
//
// # Endpoints
//
// Decisions:
//
//	GET /v1/decisions/canAccess?entityId=&accessType=&objectType=
//	GET /v1/entities/{id}/permissions
//
// ACL lifecycle:
//
//	GET    /v1/entities/{id}/benefactor
//	GET    /v1/entities/{id}/acl
//	PUT    /v1/entities/{id}/acl
//	DELETE /v1/entities/{id}/acl
//	GET    /v1/entities/{id}/children/nonVisible
//
// Access requirements:
//
//	GET  /v1/entities/{id}/accessRequirements/unmet?accessType=
//	POST /v1/accessRequirements
//	GET  /v1/accessRequirements/{id}
//	POST /v1/accessRequirements/{id}/approvals
//
// Docker registry:
//
//	GET  /v1/docker/token?scope=repository:proj123/app:pull,push
//	POST /v1/docker/events
//
// Handlers expect to run behind middleware.PrincipalMiddleware, which
// resolves the caller identity; error bodies follow the httputil mapping of
// the authorization error taxonomy.
//
// # Related Packages
//
//   - pkg/authz: decision engine and ACL lifecycle
//   - pkg/accessreq: access requirement gate
//   - pkg/registry: scope resolution and event processing
package api
