package authz

// Decision is the uniform two-state result of every access check: either
// authorized, or denied with a human-readable reason. The zero value is a
// denial with no reason; checks must always use Authorized or Denied.
type Decision struct {
	authorized bool
	reason     string
}

// Authorized returns the allow decision
func Authorized() Decision {
	return Decision{authorized: true}
}

// Denied returns a deny decision carrying the reason shown to the caller
func Denied(reason string) Decision {
	return Decision{authorized: false, reason: reason}
}

// Allowed reports whether the decision permits the action
func (d Decision) Allowed() bool {
	return d.authorized
}

// Reason returns the denial reason, empty for an authorized decision
func (d Decision) Reason() string {
	return d.reason
}

// CheckOrErr is the single propagation choke point: it converts a denial
// into an *AccessDeniedError and is a no-op for an authorized decision.
// Every protected mutation must flow through this before proceeding, so
// denial messages keep a uniform shape and reasons are never dropped.
func (d Decision) CheckOrErr() error {
	if d.authorized {
		return nil
	}
	return &AccessDeniedError{Reason: d.reason}
}

// AccessDeniedError is the authorization failure raised by Decision.CheckOrErr
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}
