// Package audit provides an audit trail for authorization-relevant actions.
//
// Recorded events cover denied decisions, ACL lifecycle changes, access
// requirement approvals and registry repository creation. Events are stored
// in PostgreSQL via DBLogger; NopLogger satisfies the interface where
// auditing is disabled.
package audit
