package authz

import "errors"

var (
	// ErrNotFound indicates a referenced node, ACL or repository mapping
	// does not exist. It is propagated to the caller, never converted to a
	// denial, except where a protocol contract says otherwise.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed or missing required argument,
	// rejected before any decision logic runs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoACL indicates a benefactor node without an ACL row. This is a
	// data inconsistency: decisions against it fail closed, but the
	// condition is surfaced distinctly in logs and metrics so it is never
	// mistaken for an ordinary denial.
	ErrNoACL = errors.New("benefactor has no access control list")
)
