package patch

import "errors"

// Error classification codes for the patch package. See spec.md §7.
var (
	// ErrOutOfMemory is returned when a patch cannot be allocated. Engine
	// state is unchanged when this is returned.
	ErrOutOfMemory = errors.New("patch: out of memory")

	// ErrInvalidLevel indicates a new patch would have to be created
	// without rollback data at a lower level than an existing dependency.
	ErrInvalidLevel = errors.New("patch: invalid level")

	// ErrNotFound indicates an unknown patch id.
	ErrNotFound = errors.New("patch: not found")

	// ErrInvariant indicates a fatal internal invariant violation (never a
	// user error; see spec.md §7's propagation policy).
	ErrInvariant = errors.New("patch: invariant violated")
)
