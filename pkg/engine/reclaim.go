package engine

import (
	"fmt"

	"github.com/patchfs/fstitch/pkg/ids"
)

// reclaimFrom reclaims every patch in seeds that has become reclaimable,
// then cascades to their befores: removing a patch from its befores'
// afters lists may make those befores reclaimable in turn (spec.md
// §4.5). Deferred to the well-defined point right after an acknowledged
// write, per spec.md §4.5's "end of I/O completion".
func (e *Engine) reclaimFrom(seeds []ids.PatchID) error {
	queue := append([]ids.PatchID(nil), seeds...)

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		more, err := e.reclaimOne(pid)
		if err != nil {
			return err
		}

		queue = append(queue, more...)
	}

	return nil
}

// reclaimOne reclaims pid if it is currently Reclaimable(), and returns
// the befores that should now be re-checked.
func (e *Engine) reclaimOne(pid ids.PatchID) ([]ids.PatchID, error) {
	p, err := e.graph.Patches().Get(pid)
	if err != nil {
		return nil, nil
	}

	if !p.Reclaimable() {
		return nil, nil
	}

	befores := append([]ids.PatchID(nil), p.Befores...)

	for _, before := range befores {
		bp, err := e.graph.Patches().Get(before)
		if err != nil {
			continue
		}

		removeID(&bp.Afters, pid)
	}

	if p.Target != ids.NoBdesc {
		if err := e.graph.Bdescs().RemovePatch(p.Target, p.Owner, pid); err != nil {
			return nil, fmt.Errorf("engine: reclaiming patch %d: %w", pid, err)
		}
	}

	if err := e.graph.Patches().Free(pid); err != nil {
		return nil, fmt.Errorf("engine: reclaiming patch %d: %w", pid, err)
	}

	return befores, nil
}

func removeID(s *[]ids.PatchID, id ids.PatchID) {
	for i, q := range *s {
		if q == id {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
}
