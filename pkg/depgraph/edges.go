package depgraph

import (
	"fmt"

	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// AddDepend inserts the edge "after must not reach disk before before",
// per spec.md §4.2. It is rejected with ErrCycle, leaving the graph
// unchanged, if before already (transitively) depends on after — closing
// that loop would make the before relation not a DAG (spec.md invariant
// 2). It is rejected with ErrNonRollbackable, also leaving the graph
// unchanged, if after is a non-rollbackable patch and this edge is not
// already implied by the graph: an NRB patch carries no rollback bytes, so
// a revision slice can never roll it back to honor a before it has not yet
// satisfied (spec.md §4.1). CreateByte's moreBefores parameter is the
// intended way to avoid ever reaching this case: a patch with known
// pending befores is simply never created as NRB in the first place.
//
// If the edge crosses bdescs, the before bdesc's ExternAfterCount is
// incremented (spec.md §3, consulted by patch creation to gate the NRB
// optimization). If after.Level >= before.Level and before is not yet
// written, after is removed from any ready list at levels <= before.Level.
func (g *Graph) AddDepend(after, before ids.PatchID) error {
	g.patches.Lock()
	defer g.patches.Unlock()

	afterP, err := g.patches.GetLocked(after)
	if err != nil {
		return err
	}

	beforeP, err := g.patches.GetLocked(before)
	if err != nil {
		return err
	}

	if after == before {
		return fmt.Errorf("depgraph: patch %d cannot depend on itself: %w", after, ErrCycle)
	}

	if g.reachableLocked(before, after) {
		return fmt.Errorf("depgraph: edge %d->%d would close a cycle: %w", after, before, ErrCycle)
	}

	if afterP.NonRollbackable() {
		return fmt.Errorf("depgraph: patch %d is non-rollbackable and cannot acquire a new before: %w", after, ErrNonRollbackable)
	}

	afterP.Befores = append(afterP.Befores, before)
	beforeP.Afters = append(beforeP.Afters, after)

	g.simplifyTransitiveLocked(afterP, before)

	if afterP.Target != beforeP.Target && beforeP.Target != ids.NoBdesc {
		// bdesc.Arena has its own, independent mutex; calling into it
		// while holding g.patches' lock is safe (it never calls back
		// into patch.Arena) and keeps this edge update atomic.
		_ = g.bdescs.AdjustExternAfterCount(beforeP.Target, 1)
	}

	return g.recomputeReadyLocked(afterP)
}

// reachableLocked reports whether target is reachable from start by
// walking the before-adjacency (start -> start.Befores -> ... ). Callers
// must hold g.patches' lock. Traversal is bounded to the connected
// component reachable from start, per spec.md §4.2.
func (g *Graph) reachableLocked(start, target ids.PatchID) bool {
	visited := map[ids.PatchID]bool{start: true}
	queue := []ids.PatchID{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == target {
			return true
		}

		p, err := g.patches.GetLocked(cur)
		if err != nil {
			continue
		}

		for _, b := range p.Befores {
			if !visited[b] {
				visited[b] = true
				queue = append(queue, b)
			}
		}
	}

	return false
}

// simplifyTransitiveLocked removes any edge afterP -> C where C is
// reachable (transitively) from `newBefore` via Befores, keeping the
// graph compact per spec.md §4.2's "transitive simplification". Must be
// called immediately after appending newBefore to afterP.Befores.
func (g *Graph) simplifyTransitiveLocked(afterP *patch.Patch, newBefore ids.PatchID) {
	keep := afterP.Befores[:0]

	for _, c := range afterP.Befores {
		if c == newBefore {
			keep = append(keep, c)
			continue
		}

		if g.reachableLocked(newBefore, c) {
			// c is implied by the new edge; drop the redundant direct
			// edge, but also remove the reciprocal afters entry on c.
			if cp, err := g.patches.GetLocked(c); err == nil {
				removeID(&cp.Afters, afterP.ID)
			}

			continue
		}

		keep = append(keep, c)
	}

	afterP.Befores = keep
}

// RemoveDepend removes the edge after->before symmetrically. It may move
// after back into the ready lists if before was its only outstanding
// blocker at some level.
func (g *Graph) RemoveDepend(after, before ids.PatchID) error {
	g.patches.Lock()

	afterP, err := g.patches.GetLocked(after)
	if err != nil {
		g.patches.Unlock()
		return err
	}

	beforeP, err := g.patches.GetLocked(before)
	if err != nil {
		g.patches.Unlock()
		return err
	}

	removeID(&afterP.Befores, before)
	removeID(&beforeP.Afters, after)

	if afterP.Target != beforeP.Target && beforeP.Target != ids.NoBdesc {
		_ = g.bdescs.AdjustExternAfterCount(beforeP.Target, -1)
	}

	defer g.patches.Unlock()

	return g.recomputeReadyLocked(afterP)
}

func removeID(s *[]ids.PatchID, id ids.PatchID) {
	for i, q := range *s {
		if q == id {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
}
