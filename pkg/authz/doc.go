// Package authz is the core authorization decision engine for the Warden
// resource graph.
//
// # Overview
//
// Resources (projects, folders, files, docker repositories) form a tree.
// Permissions are not stored per node: each node carries a benefactor
// pointer naming the nearest ancestor (possibly itself) that owns an
// AccessControlList, and the benefactor's ACL is the node's effective
// permission set. Deciding whether a principal may act on a node is a
// single pointer hop plus one ACL intersection:
//
//	allowed, err := evaluator.CanAccess(ctx, principal.Groups, nodeID,
//	    authz.ObjectTypeEntity, authz.AccessRead)
//
// # Decisions
//
// Every check produces a Decision, either Authorized or Denied with a
// reason. Code performing a protected mutation funnels the decision
// through CheckOrErr, the single point converting denials into errors:
//
//	d, err := evaluator.HasAccess(ctx, principal, nodeID,
//	    authz.ObjectTypeEntity, authz.AccessUpdate)
//	if err != nil {
//	    return err
//	}
//	if err := d.CheckOrErr(); err != nil {
//	    return err // *authz.AccessDeniedError with the reason
//	}
//
// # Fail-closed
//
// Any ambiguity resolves to denial: a benefactor without an ACL, a missing
// node, an unresolvable repository. A missing ACL is additionally counted
// and logged apart from ordinary denials, since it indicates inconsistent
// data rather than a policy outcome.
//
// # Concurrency
//
// The evaluator and resolver hold no mutable state; any number of
// goroutines may share one instance. Consistency of the data they read is
// owned by the storage layer.
package authz
