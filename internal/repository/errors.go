// Package repository is the data-access layer: one interface and one
// GORM-backed implementation per entity, returning sentinel errors the
// caller can branch on instead of inspecting driver-specific error types.
package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup by ID finds no row.
	ErrNotFound = errors.New("repository: not found")

	// ErrConflict is returned when a write would violate a uniqueness
	// constraint (duplicate Node name, duplicate Node+Dataset path).
	ErrConflict = errors.New("repository: conflict")

	// ErrInvariant is returned when a write would violate a cross-entity
	// business rule enforced above the database's own constraints — e.g.
	// deleting a Node still referenced by an active Job, or a second
	// is_auth_node Node.
	ErrInvariant = errors.New("repository: invariant violation")

	// ErrTransient wraps errors the caller may reasonably retry (a dropped
	// connection, a busy-database timeout) as opposed to a permanent
	// rejection of the write itself. The GORM repositories in this package
	// do not map any driver error to it; driver errors are returned as-is.
	ErrTransient = errors.New("repository: transient error")
)
