package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidScope marks a scope string the client formed incorrectly. It is
// a client error, never a silent empty result.
var ErrInvalidScope = errors.New("invalid scope")

// Scope actions understood by the resolver.
const (
	ActionPull = "pull"
	ActionPush = "push"
)

// ScopeTypeRepository is the only scope type that resolves to permissions.
const ScopeTypeRepository = "repository"

// Scope is one parsed token scope: a resource type, a repository path and
// the actions the client is asking for.
type Scope struct {
	Type       string   `json:"type"`
	Repository string   `json:"repository"`
	Actions    []string `json:"actions"`
}

// String reassembles the wire form
func (s Scope) String() string {
	return s.Type + ":" + s.Repository + ":" + strings.Join(s.Actions, ",")
}

// ParseScope parses one "type:repositoryPath:action,action" scope string.
// A malformed scope (wrong field count, empty fields, unknown action) is
// rejected with ErrInvalidScope.
func ParseScope(raw string) (Scope, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("%w: %q must have exactly three colon-separated fields", ErrInvalidScope, raw)
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Scope{}, fmt.Errorf("%w: %q has an empty field", ErrInvalidScope, raw)
	}

	actions := strings.Split(parts[2], ",")
	for _, action := range actions {
		switch action {
		case ActionPull, ActionPush:
		default:
			return Scope{}, fmt.Errorf("%w: unknown action %q in %q", ErrInvalidScope, action, raw)
		}
	}

	return Scope{Type: parts[0], Repository: parts[1], Actions: actions}, nil
}

// ParseScopes parses every scope in the token request, failing on the first
// malformed one
func ParseScopes(raw []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(raw))
	for _, r := range raw {
		s, err := ParseScope(r)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// ParentProjectID extracts the project id from a repository path of the
// form "<project-segment>/<name>", where the project segment is a project
// id with an optional alphabetic prefix ("proj123/app" or "123/app").
// The second return is false when the path has no usable project segment.
func ParentProjectID(repositoryPath string) (int64, bool) {
	segment, rest, found := strings.Cut(repositoryPath, "/")
	if !found || rest == "" {
		return 0, false
	}
	digits := strings.TrimLeftFunc(segment, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if digits == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
