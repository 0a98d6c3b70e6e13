// Package postgres persists the resource tree, ACLs, access requirements
// and Docker registry bookkeeping. All write paths go through the primary
// connection; single-row lookups may use read replicas.
package postgres
