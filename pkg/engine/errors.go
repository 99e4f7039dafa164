package engine

import "errors"

// Error classification codes for the engine package. See spec.md §7.
var (
	// ErrNotFound indicates an unknown bdesc or patch id.
	ErrNotFound = errors.New("engine: not found")

	// ErrBusy indicates the targeted bdesc already has a revision slice
	// in flight, or the engine is shutting down.
	ErrBusy = errors.New("engine: busy")

	// ErrIoFailed indicates a block device reported a write failure;
	// affected patches remain un-written and eligible for retry.
	ErrIoFailed = errors.New("engine: io failed")

	// ErrInvariant indicates a fatal internal invariant violation (never
	// a user error; see spec.md §7's propagation policy).
	ErrInvariant = errors.New("engine: invariant violated")
)
