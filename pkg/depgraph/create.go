package depgraph

import (
	"errors"
	"fmt"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// CreateByte records a byte-range write, per spec.md §4.1.
//
// head behaves as the in/out "write head" parameter: if *head is non-zero
// on entry, the new subgraph depends on it; on return, *head names a
// patch from which the new subgraph is reachable, so the caller can chain
// further operations. ids.NoPatch means "no sequencing constraint from
// prior work", not "fresh root" (spec.md §9).
//
// moreBefores chains the returned patch to additional befores beyond
// head, atomically with creation — the mechanism a caller with more than
// one pending dependency (e.g. every patch-group engaged in a scope,
// pkg/patchgroup's EngagedBefores) uses instead of calling AddDepend
// itself after CreateByte returns. Any pending before, whether in head or
// moreBefores, disqualifies this write from the PATCH_NRB optimization:
// an NRB patch can never acquire a before after the fact (AddDepend
// rejects it with ErrNonRollbackable), so a patch known in advance to
// need one is simply never created as NRB.
func (g *Graph) CreateByte(target ids.BdescID, owner int, level patch.Level, offset, length int, newBytes []byte, head *ids.PatchID, moreBefores ...ids.PatchID) (ids.PatchID, error) {
	if length != len(newBytes) {
		return ids.NoPatch, fmt.Errorf("depgraph: length %d != len(newBytes) %d: %w", length, len(newBytes), patch.ErrOutOfMemory)
	}

	d, err := g.bdescs.Get(target)
	if err != nil {
		return ids.NoPatch, err
	}

	if offset < 0 || offset+length > d.Length {
		return ids.NoPatch, fmt.Errorf("depgraph: byte patch [%d,%d) out of bounds for block of length %d: %w", offset, offset+length, d.Length, patch.ErrInvariant)
	}

	var headLevel patch.Level

	haveHead := head != nil && *head != ids.NoPatch
	if haveHead {
		hp, err := g.patches.Get(*head)
		if err != nil {
			return ids.NoPatch, err
		}

		headLevel = hp.Level
	}

	// Merge into the existing NRB, if this block has one: it already
	// carries no rollback, so absorbing another write costs nothing
	// further (spec.md §4.1, "additional byte-writes ... merge into the
	// existing NRB").
	if d.NRB != ids.NoPatch {
		nrb, err := g.patches.Get(d.NRB)
		if err == nil && g.mergeEligible(nrb, head) {
			copy(d.Data[offset:offset+length], newBytes)
			g.markOverlapMerged(nrb)

			if haveHead {
				if depErr := g.AddDepend(nrb.ID, *head); depErr != nil && !errors.Is(depErr, ErrCycle) {
					return ids.NoPatch, depErr
				}
			}

			for _, b := range moreBefores {
				if depErr := g.AddDepend(nrb.ID, b); depErr != nil && !errors.Is(depErr, ErrCycle) {
					return ids.NoPatch, depErr
				}
			}

			if head != nil {
				*head = nrb.ID
			}

			return nrb.ID, nil
		}
	}

	if existing := g.findMergeCandidate(d, offset, length, head); existing != nil {
		g.applyMerge(existing, d, offset, length, newBytes)

		for _, b := range moreBefores {
			if err := g.AddDepend(existing.ID, b); err != nil && !errors.Is(err, ErrCycle) {
				return ids.NoPatch, err
			}
		}

		if head != nil {
			*head = existing.ID
		}

		return existing.ID, nil
	}

	havePending := haveHead || len(moreBefores) != 0

	nrbEligible := g.cfg.PatchNRB && d.ExternAfterCount == 0 && d.NRB == ids.NoPatch
	if nrbEligible && haveHead && headLevel > level {
		return ids.NoPatch, fmt.Errorf("depgraph: nrb patch at level %d cannot follow head at level %d: %w", level, headLevel, patch.ErrInvalidLevel)
	}

	// A patch with a pending dependency, via head or moreBefores, can't
	// itself be created as NRB: an NRB patch is, by construction, never
	// rolled back, and AddDepend refuses to add a before to one after the
	// fact, so every predecessor has to be known and rollback-capable up
	// front in case a revision slice runs before that predecessor is
	// satisfied.
	wantNRB := nrbEligible && !havePending

	p := g.patches.Alloc(patch.KindByte, target, owner, level)
	p.Offset = offset
	p.Length = length
	p.NewBytes = append([]byte(nil), newBytes...)

	if wantNRB {
		p.Flags |= patch.FlagNonRollbackable
		d.NRB = p.ID
	} else {
		p.RollbackBytes = append([]byte(nil), d.Data[offset:offset+length]...)
	}

	copy(d.Data[offset:offset+length], newBytes)

	if err := g.bdescs.InsertPatch(target, owner, p.ID); err != nil {
		return ids.NoPatch, err
	}

	g.indexOverlap(d, offset, p.ID)

	if haveHead {
		if err := g.AddDepend(p.ID, *head); err != nil {
			return ids.NoPatch, err
		}
	} else if !havePending {
		if err := g.recomputeReadyInitial(p); err != nil {
			return ids.NoPatch, err
		}
	}

	for _, b := range moreBefores {
		if err := g.AddDepend(p.ID, b); err != nil {
			return ids.NoPatch, err
		}
	}

	if head != nil {
		*head = p.ID
	}

	return p.ID, nil
}

// recomputeReadyInitial computes initial readiness for a patch with no
// befores at all (trivially ready).
func (g *Graph) recomputeReadyInitial(p *patch.Patch) error {
	g.patches.Lock()
	defer g.patches.Unlock()

	return g.recomputeReadyLocked(p)
}

// mergeEligible reports whether existing may absorb a new write whose
// write-head is *head: merging is safe when there is no head constraint,
// or when existing already (transitively) depends on *head, i.e.
// before_set(existing) ⊇ {*head} (spec.md §4.1).
func (g *Graph) mergeEligible(existing *patch.Patch, head *ids.PatchID) bool {
	if head == nil || *head == ids.NoPatch || *head == existing.ID {
		return true
	}

	g.patches.Lock()
	defer g.patches.Unlock()

	return g.reachableLocked(existing.ID, *head)
}

// findMergeCandidate scans the overlap1 buckets and the previous patch on
// the block for an existing byte-patch that fully covers [offset,
// offset+length) and is merge-eligible.
func (g *Graph) findMergeCandidate(d *bdesc.Descriptor, offset, length int, head *ids.PatchID) *patch.Patch {
	hash := g.overlapHash(offset)

	for _, id := range candidateSet(d.Overlap1, hash, d.AllPatches) {
		p, err := g.patches.Get(id)
		if err != nil || p.Kind != patch.KindByte {
			continue
		}

		if p.Offset > offset || offset+length > p.Offset+p.Length {
			continue
		}

		if !g.mergeEligible(p, head) {
			continue
		}

		return p
	}

	return nil
}

// applyMerge folds a new write into an existing covering byte patch: the
// existing patch's NewBytes are updated for the overlapping sub-range and
// the new bytes are applied to the bdesc's image. RollbackBytes are left
// untouched — they must keep describing the image from before the
// existing patch was ever applied, not before this merge.
func (g *Graph) applyMerge(existing *patch.Patch, d *bdesc.Descriptor, offset, length int, newBytes []byte) {
	rel := offset - existing.Offset
	copy(existing.NewBytes[rel:rel+length], newBytes)
	copy(d.Data[offset:offset+length], newBytes)
	g.markOverlapMerged(existing)
}

func (g *Graph) markOverlapMerged(p *patch.Patch) {
	p.Flags |= patch.FlagOverlapMerged
}

// indexOverlap adds a newly created patch to its bdesc's overlap1 bucket
// for the offset it touches.
func (g *Graph) indexOverlap(d *bdesc.Descriptor, offset int, id ids.PatchID) {
	h := g.overlapHash(offset)
	d.Overlap1[h] = append(d.Overlap1[h], id)
}

// CreateBit records a 32-bit XOR flip at a word-aligned offset, per
// spec.md §4.1. Independent flips on the same word aggregate into one
// combined-mask patch via the bdesc's BitPatches map.
func (g *Graph) CreateBit(target ids.BdescID, owner int, level patch.Level, offset int, mask uint32, head *ids.PatchID) (ids.PatchID, error) {
	d, err := g.bdescs.Get(target)
	if err != nil {
		return ids.NoPatch, err
	}

	haveHead := head != nil && *head != ids.NoPatch

	if existing := g.findBitMergeCandidate(d, offset, head); existing != nil {
		existing.XORMask ^= mask
		g.applyBitFlip(d, offset, mask)
		g.markOverlapMerged(existing)

		if head != nil {
			*head = existing.ID
		}

		return existing.ID, nil
	}

	p := g.patches.Alloc(patch.KindBitFlip, target, owner, level)
	p.Offset = offset
	p.XORMask = mask

	g.applyBitFlip(d, offset, mask)

	if err := g.bdescs.InsertPatch(target, owner, p.ID); err != nil {
		return ids.NoPatch, err
	}

	d.BitPatches[offset] = append(d.BitPatches[offset], p.ID)

	if haveHead {
		if err := g.AddDepend(p.ID, *head); err != nil {
			return ids.NoPatch, err
		}
	} else if err := g.recomputeReadyInitial(p); err != nil {
		return ids.NoPatch, err
	}

	if head != nil {
		*head = p.ID
	}

	return p.ID, nil
}

func (g *Graph) applyBitFlip(d *bdesc.Descriptor, offset int, mask uint32) {
	if offset < 0 || offset+4 > len(d.Data) {
		return
	}

	for i := 0; i < 4; i++ {
		shift := uint(8 * i)
		d.Data[offset+i] ^= byte(mask >> shift)
	}
}

func (g *Graph) findBitMergeCandidate(d *bdesc.Descriptor, offset int, head *ids.PatchID) *patch.Patch {
	for _, id := range d.BitPatches[offset] {
		p, err := g.patches.Get(id)
		if err != nil {
			continue
		}

		if g.mergeEligible(p, head) {
			return p
		}
	}

	return nil
}

// CreateEmpty creates a no-data synchronization patch depending on head
// (if set) and on every patch in befores, per spec.md §4.1.
func (g *Graph) CreateEmpty(owner int, level patch.Level, head *ids.PatchID, befores ...ids.PatchID) (ids.PatchID, error) {
	return g.CreateEmptyArray(owner, level, head, befores)
}

// CreateEmptyArray is CreateEmpty with an explicit befores slice, matching
// spec.md §4.1's named variant.
func (g *Graph) CreateEmptyArray(owner int, level patch.Level, head *ids.PatchID, befores []ids.PatchID) (ids.PatchID, error) {
	p := g.patches.Alloc(patch.KindEmpty, ids.NoBdesc, owner, level)

	all := befores
	if head != nil && *head != ids.NoPatch {
		all = append(append([]ids.PatchID(nil), befores...), *head)
	}

	if len(all) == 0 {
		if err := g.recomputeReadyInitial(p); err != nil {
			return ids.NoPatch, err
		}
	}

	for _, b := range all {
		if err := g.AddDepend(p.ID, b); err != nil {
			return ids.NoPatch, err
		}
	}

	if head != nil {
		*head = p.ID
	}

	return p.ID, nil
}
