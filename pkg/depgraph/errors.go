package depgraph

import "errors"

// Error classification codes for the depgraph package. See spec.md §7.
var (
	// ErrCycle indicates an edge would create a dependency cycle; the
	// graph is left unchanged.
	ErrCycle = errors.New("depgraph: cycle")

	// ErrInvalidLevel is re-exported semantics of patch.ErrInvalidLevel
	// for edge operations that also enforce level ordering.
	ErrInvalidLevel = errors.New("depgraph: invalid level")

	// ErrNotFound indicates an unknown patch or bdesc id.
	ErrNotFound = errors.New("depgraph: not found")

	// ErrNonRollbackable indicates an edge would add a before-dependency to
	// a non-rollbackable patch after the fact. CreateByte avoids this by
	// construction (a pending dependency disqualifies NRB eligibility up
	// front, see its moreBefores parameter); AddDepend still rejects the
	// edge outright if one ever reaches it, since an NRB patch carries no
	// rollback bytes to recover should a revision slice need to roll it
	// back (spec.md §4.1).
	ErrNonRollbackable = errors.New("depgraph: patch is non-rollbackable")
)
