package engine

import (
	"fmt"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// Slice is the in-progress state of one revision-slice write, per
// spec.md §4.4. It is created by RevisionSlice and consumed by exactly
// one of Acknowledge or Fail.
type Slice struct {
	Target ids.BdescID
	Level  patch.Level

	// Bytes is the image to hand to the block device: disk-image plus
	// every ready patch at Level, with every not-ready patch at Level
	// rolled back.
	Bytes []byte

	rolledBack []ids.PatchID
	ready      []ids.PatchID
}

// RevisionSlice prepares block `target` for a write at `level`, per
// spec.md §4.4 steps 1-4. The returned Slice's Bytes are a snapshot; the
// bdesc itself is marked InFlight until Acknowledge or Fail is called.
func (e *Engine) RevisionSlice(target ids.BdescID, level patch.Level) (*Slice, error) {
	if err := e.checkNotShuttingDown(); err != nil {
		return nil, err
	}

	d, err := e.graph.Bdescs().Get(target)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if d.InFlight {
		return nil, fmt.Errorf("engine: bdesc %d already has a slice in flight: %w", target, ErrBusy)
	}

	slice := &Slice{Target: target, Level: level}

	all := append([]ids.PatchID(nil), d.AllPatches...)

	for _, pid := range all {
		p, err := e.graph.Patches().Get(pid)
		if err != nil {
			continue
		}

		if p.Level != level || p.Written() {
			continue
		}

		switch {
		case p.IsReady(int(level)) && p.NonRollbackable():
			// Never rolled back by construction; always part of the
			// written set once ready (spec.md §4.1's NRB note). Readiness
			// is checked first: depgraph.AddDepend refuses to add a
			// before-edge to an already-created NRB patch, so in the
			// ordinary case an NRB patch is ready from the moment it is
			// created, but this still must not be assumed unconditionally.
			p.Flags |= patch.FlagInFlight
			slice.ready = append(slice.ready, pid)

		case p.NonRollbackable():
			// Reaching here means an NRB patch has an outstanding before
			// despite depgraph's guard against that (spec.md §4.1) —
			// writing it now would let it reach disk ahead of a
			// dependency it cannot be rolled back to honor. Fail loudly
			// rather than silently violating ordering.
			return nil, fmt.Errorf("engine: patch %d is non-rollbackable but not ready at level %d: %w", pid, level, patch.ErrInvariant)

		case p.IsReady(int(level)):
			slice.ready = append(slice.ready, pid)

		default:
			p.Flags |= patch.FlagRollback
			rollbackOne(d, p)
			slice.rolledBack = append(slice.rolledBack, pid)
		}
	}

	slice.Bytes = append([]byte(nil), d.Data...)
	d.InFlight = true

	return slice, nil
}

// rollbackOne applies p's inverse to d's data buffer: byte patches swap
// in their rollback bytes, bit patches XOR their mask back out.
func rollbackOne(d *bdesc.Descriptor, p *patch.Patch) {
	switch p.Kind {
	case patch.KindByte:
		copy(d.Data[p.Offset:p.Offset+p.Length], p.RollbackBytes)
	case patch.KindBitFlip:
		xorWord(d.Data, p.Offset, p.XORMask)
	}
}

// reapplyOne applies p's forward effect, undoing rollbackOne.
func reapplyOne(d *bdesc.Descriptor, p *patch.Patch) {
	switch p.Kind {
	case patch.KindByte:
		copy(d.Data[p.Offset:p.Offset+p.Length], p.NewBytes)
	case patch.KindBitFlip:
		xorWord(d.Data, p.Offset, p.XORMask)
	}
}

func xorWord(data []byte, offset int, mask uint32) {
	if offset < 0 || offset+4 > len(data) {
		return
	}

	for i := 0; i < 4; i++ {
		data[offset+i] ^= byte(mask >> uint(8*i))
	}
}

// Acknowledge completes a revision slice after a successful write, per
// spec.md §4.4 step 5: rolled-back patches are re-applied, the ready
// patches are marked WRITTEN, their afters' ready sets are recomputed,
// and newly-reclaimable patches are freed.
func (e *Engine) Acknowledge(slice *Slice) error {
	d, err := e.graph.Bdescs().Get(slice.Target)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	for _, pid := range slice.rolledBack {
		p, err := e.graph.Patches().Get(pid)
		if err != nil {
			continue
		}

		reapplyOne(d, p)
		p.Flags &^= patch.FlagRollback
	}

	for _, pid := range slice.ready {
		p, err := e.graph.Patches().Get(pid)
		if err != nil {
			continue
		}

		p.Flags |= patch.FlagWritten
		p.Flags &^= patch.FlagInFlight

		if err := e.graph.RecomputeAftersOf(pid); err != nil {
			return fmt.Errorf("engine: recomputing afters of patch %d: %w", pid, err)
		}
	}

	d.InFlight = false

	return e.reclaimFrom(slice.ready)
}

// Fail aborts a revision slice after a failed write, per spec.md §4.4
// step 6: rolled-back patches are re-applied, but nothing is marked
// written, so the block device may retry the write later.
func (e *Engine) Fail(slice *Slice) error {
	d, err := e.graph.Bdescs().Get(slice.Target)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	for _, pid := range slice.rolledBack {
		p, err := e.graph.Patches().Get(pid)
		if err != nil {
			continue
		}

		reapplyOne(d, p)
		p.Flags &^= patch.FlagRollback
	}

	for _, pid := range slice.ready {
		p, err := e.graph.Patches().Get(pid)
		if err != nil {
			continue
		}

		p.Flags &^= patch.FlagInFlight
	}

	d.InFlight = false
	e.MarkDirty(slice.Target)

	return fmt.Errorf("engine: write of bdesc %d at level %d: %w", slice.Target, slice.Level, ErrIoFailed)
}
