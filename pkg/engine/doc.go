// Package engine implements the revision-slice write path and
// reclamation of spec.md §4.4–§4.5: preparing a block for write by
// temporarily rolling back its not-yet-ready patches, handing the
// resulting bytes to a caller, and on acknowledgement re-applying the
// rollback and marking the written patches satisfied.
//
// engine treats pkg/depgraph as its dependency-tracking layer and adds
// no state of its own beyond the revision-slice bookkeeping needed to
// reverse an in-flight write: a commit/rollback write path layered on top
// of a plain block abstraction rather than reimplementing storage.
package engine
