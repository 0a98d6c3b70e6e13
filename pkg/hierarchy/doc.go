// Package hierarchy models the resource tree that permissions resolve
// against. Every node carries a precomputed benefactor pointer to the
// nearest ACL-owning ancestor, so a permission check is a single lookup
// instead of a tree walk. The package also provides a read-through cache
// for the hot pointer lookups.
package hierarchy
