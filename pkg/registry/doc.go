// Package registry implements the authorization side of the Docker
// registry token protocol: parsing token scope strings, resolving the
// actions a principal is actually permitted per repository, and absorbing
// the registry's push/pull notification callbacks idempotently.
package registry
