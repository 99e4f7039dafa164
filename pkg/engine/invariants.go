package engine

import (
	"fmt"

	"github.com/patchfs/fstitch/pkg/ids"
)

// verifyInvariants walks every live patch and bdesc, checking invariants
// that should hold once every outstanding revision slice has been
// acknowledged or failed and Shutdown's reclaim pass has run. It never
// mutates state; a violation is reported, not repaired, since by this
// point there is no well-defined way to repair one (spec.md §2 component
// G's "verify invariants").
func (e *Engine) verifyInvariants() error {
	patches := e.graph.Patches()

	for _, pid := range patches.All() {
		p, err := patches.Get(pid)
		if err != nil {
			continue
		}

		if p.Reclaimable() {
			return fmt.Errorf("engine: patch %d is reclaimable after shutdown reclaim: %w", pid, ErrInvariant)
		}

		for _, after := range p.Afters {
			ap, err := patches.Get(after)
			if err != nil {
				return fmt.Errorf("engine: patch %d's after %d: %w", pid, after, err)
			}

			if !containsID(ap.Befores, pid) {
				return fmt.Errorf("engine: patch %d lists %d as after, but %d does not list it back as before: %w", pid, after, after, ErrInvariant)
			}
		}
	}

	bdescs := e.graph.Bdescs()

	for _, bid := range bdescs.All() {
		d, err := bdescs.Get(bid)
		if err != nil {
			continue
		}

		if d.InFlight {
			return fmt.Errorf("engine: bdesc %d still has a revision slice in flight at shutdown: %w", bid, ErrBusy)
		}

		if d.ExternAfterCount < 0 {
			return fmt.Errorf("engine: bdesc %d has negative ExternAfterCount %d: %w", bid, d.ExternAfterCount, ErrInvariant)
		}

		if d.NRB == ids.NoPatch {
			continue
		}

		nrb, err := patches.Get(d.NRB)
		if err != nil {
			return fmt.Errorf("engine: bdesc %d's NRB %d: %w", bid, d.NRB, err)
		}

		if !nrb.NonRollbackable() {
			return fmt.Errorf("engine: bdesc %d's NRB %d lost FlagNonRollbackable: %w", bid, d.NRB, ErrInvariant)
		}
	}

	return nil
}

func containsID(s []ids.PatchID, id ids.PatchID) bool {
	for _, q := range s {
		if q == id {
			return true
		}
	}

	return false
}
