package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

const (
	// PrincipalHeader carries the authenticated principal id, asserted by the
	// session layer in front of this service.
	PrincipalHeader = "X-Warden-Principal"
	// GroupsHeader carries the principal's group ids as a comma separated list.
	GroupsHeader = "X-Warden-Groups"
)

// PrincipalMiddleware resolves the caller identity from the validated-identity
// headers. Requests without a principal header proceed as the anonymous
// principal; malformed headers are rejected before any handler runs.
type PrincipalMiddleware struct {
	logger *observability.Logger
}

// NewPrincipalMiddleware creates a new principal extraction middleware
func NewPrincipalMiddleware(logger *observability.Logger) *PrincipalMiddleware {
	return &PrincipalMiddleware{logger: logger}
}

// Handler wraps an HTTP handler with principal resolution
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := principalFromHeaders(r)
		if err != nil {
			m.logger.WithError(err).Warn("rejected request with malformed identity headers")
			httputil.WriteBadRequest(w, err.Error())
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromHeaders(r *http.Request) (*authz.Principal, error) {
	idHeader := r.Header.Get(PrincipalHeader)
	if idHeader == "" {
		return authz.AnonymousPrincipal(), nil
	}

	id, err := strconv.ParseInt(idHeader, 10, 64)
	if err != nil || id <= 0 {
		return nil, wrapInvalidHeader(PrincipalHeader, idHeader)
	}

	groups := []int64{authz.PublicGroupID, authz.AuthenticatedGroupID}
	if raw := r.Header.Get(GroupsHeader); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			gid, err := strconv.ParseInt(part, 10, 64)
			if err != nil || gid <= 0 {
				return nil, wrapInvalidHeader(GroupsHeader, raw)
			}
			groups = append(groups, gid)
		}
	}

	isAdmin := false
	for _, gid := range groups {
		if gid == authz.AdminGroupID {
			isAdmin = true
		}
	}
	return authz.NewPrincipal(id, groups, isAdmin), nil
}

func wrapInvalidHeader(header, value string) error {
	return &invalidHeaderError{header: header, value: value}
}

type invalidHeaderError struct {
	header string
	value  string
}

func (e *invalidHeaderError) Error() string {
	return "invalid " + e.header + " header: " + e.value
}

func (e *invalidHeaderError) Unwrap() error {
	return authz.ErrInvalidInput
}

// GetPrincipal extracts the resolved principal from a request. Handlers
// behind PrincipalMiddleware always see a non-nil principal.
func GetPrincipal(r *http.Request) *authz.Principal {
	return contextkeys.PrincipalFrom(r.Context())
}

// RequireAuthenticated rejects anonymous callers with 401. Mount it on
// mutating routes; read routes stay open for public-read resolution.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r)
		if principal == nil || principal.IsAnonymous() {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
