package bdesc

import "errors"

// Error classification codes for the bdesc package.
//
// Callers MUST classify errors using errors.Is; implementations MAY wrap
// these with additional context via fmt.Errorf("%w: ...", Err).
var (
	// ErrNotFound indicates an unknown or already-freed bdesc id.
	ErrNotFound = errors.New("bdesc: not found")

	// ErrInvariant indicates a refcount or list-membership invariant was
	// violated. This is always a bug in a caller, never a user error, and
	// callers SHOULD treat it as fatal per spec.md §7.
	ErrInvariant = errors.New("bdesc: invariant violated")

	// ErrBusy indicates the bdesc is in flight for a write and cannot be
	// freed or mutated right now.
	ErrBusy = errors.New("bdesc: busy")
)
