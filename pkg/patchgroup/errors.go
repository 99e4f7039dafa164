package patchgroup

import "errors"

// Error classification codes for the patchgroup package. See spec.md §7.
var (
	// ErrNotFound indicates an unknown patch-group id.
	ErrNotFound = errors.New("patchgroup: not found")

	// ErrInvalidState indicates an operation disallowed by the ARWB state
	// table of spec.md §4.6.
	ErrInvalidState = errors.New("patchgroup: invalid state")

	// ErrCycle indicates a group-level add_depend would create a cycle in
	// the group-of-groups graph.
	ErrCycle = errors.New("patchgroup: cycle")
)
