package depgraph

import (
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// readyLocked reports whether p is ready at p.Level: every before-edge of
// p targets a patch with a strictly higher level, or one already marked
// WRITTEN. Callers must hold g.patches' lock. See spec.md §3's "ready set"
// definition and invariant 1.
func (g *Graph) readyLocked(p *patch.Patch) bool {
	for _, b := range p.Befores {
		bp, err := g.patches.GetLocked(b)
		if err != nil {
			continue
		}

		if bp.Written() {
			continue
		}

		if bp.Level > p.Level {
			continue
		}

		return false
	}

	return true
}

// recomputeReadyLocked recomputes p's memoized ready-at-p.Level state and
// mirrors it into its bdesc's per-level ready list (spec.md §4.3).
//
// An empty patch carries no data, so there is nothing for pkg/engine to
// write: once ready, it is trivially WRITTEN, which may in turn make its
// own afters ready. recomputeReadyLocked cascades through that chain of
// empty patches so a real patch chained behind a sync join (as
// pkg/patchgroup's before/after nodes are) becomes ready without waiting
// on a write that will never happen.
//
// Callers must hold g.patches' lock.
func (g *Graph) recomputeReadyLocked(p *patch.Patch) error {
	queue := []*patch.Patch{p}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		level := int(cur.Level)
		if level < 0 || level >= len(cur.ReadyAt) {
			continue
		}

		ready := g.readyLocked(cur)
		cur.ReadyAt[level] = ready

		if cur.Target != ids.NoBdesc {
			if err := g.bdescs.SetReady(cur.Target, level, cur.ID, ready); err != nil {
				return err
			}

			continue
		}

		if cur.Kind != patch.KindEmpty || !ready || cur.Written() {
			continue
		}

		cur.Flags |= patch.FlagWritten

		for _, a := range cur.Afters {
			ap, err := g.patches.GetLocked(a)
			if err != nil {
				continue
			}

			queue = append(queue, ap)
		}
	}

	return nil
}

// IsReadyAt is the public, locking entry point used by pkg/engine to
// query a patch's readiness without reaching into the graph's locks
// directly.
func (g *Graph) IsReadyAt(p *patch.Patch) bool {
	g.patches.Lock()
	defer g.patches.Unlock()

	return g.readyLocked(p)
}

// RecomputeAftersOf recomputes readiness for every patch that directly
// depends on id, per spec.md §4.4 step 5c ("for each now-written patch,
// traverse its afters updating ready sets"). Called by pkg/engine right
// after marking a patch WRITTEN.
func (g *Graph) RecomputeAftersOf(id ids.PatchID) error {
	g.patches.Lock()
	defer g.patches.Unlock()

	p, err := g.patches.GetLocked(id)
	if err != nil {
		return err
	}

	for _, a := range p.Afters {
		ap, err := g.patches.GetLocked(a)
		if err != nil {
			continue
		}

		if err := g.recomputeReadyLocked(ap); err != nil {
			return err
		}
	}

	return nil
}
