package bdesc

import (
	"fmt"
	"sync"

	"github.com/patchfs/fstitch/pkg/ids"
)

// Arena owns every live Descriptor. It is the "explicit engine handle"
// design note from spec.md §9 applied to one component: rather than a
// package-level bdesc table, every caller threads an *Arena explicitly.
//
// Arena is safe for concurrent use; callers that need to observe-then-
// mutate a Descriptor across multiple calls can hold Arena.Lock/Unlock
// themselves and use the *Locked accessors meanwhile.
type Arena struct {
	mu sync.Mutex

	levels  int
	indices int

	next  ids.BdescID
	table map[ids.BdescID]*Descriptor
}

// NewArena creates an Arena sized for the given number of BD levels and
// graph indices (spec.md §6.4's NBDLEVEL / NBDINDEX tunables).
func NewArena(levels, indices int) *Arena {
	if levels <= 0 {
		levels = 1
	}

	if indices <= 0 {
		indices = 1
	}

	return &Arena{
		levels:  levels,
		indices: indices,
		next:    1,
		table:   make(map[ids.BdescID]*Descriptor),
	}
}

// Lock/Unlock expose the arena's mutex for callers that must hold it across a sequence of Arena operations to keep an invariant
// intact for the duration of one cooperative step.
func (a *Arena) Lock()   { a.mu.Lock() }
func (a *Arena) Unlock() { a.mu.Unlock() }

// Alloc produces a fresh Descriptor with RefCount 1, per spec.md §4.7's
// alloc(number, blocksize, count, backing_page?). data, if non-nil, is
// used as the backing buffer (host-OS page); otherwise a zeroed buffer of
// length bytes is allocated.
func (a *Arena) Alloc(number uint64, length int, data []byte) *Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()

	if data == nil {
		data = make([]byte, length)
	}

	id := a.next
	a.next++

	d := newDescriptor(id, number, length, a.levels, a.indices, data)
	a.table[id] = d

	return d
}

// Get returns the live Descriptor for id, or ErrNotFound. Get takes the
// arena lock itself, so a caller already holding Arena.Lock uses
// GetLocked instead.
func (a *Arena) Get(id ids.BdescID) (*Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.getLocked(id)
}

func (a *Arena) getLocked(id ids.BdescID) (*Descriptor, error) {
	d, ok := a.table[id]
	if !ok {
		return nil, fmt.Errorf("bdesc %d: %w", id, ErrNotFound)
	}

	return d, nil
}

// GetLocked is Get for callers that already hold Arena.Lock.
func (a *Arena) GetLocked(id ids.BdescID) (*Descriptor, error) {
	return a.getLocked(id)
}

// All returns a snapshot of every live bdesc id, in no particular order.
// Used by pkg/engine's shutdown invariant pass.
func (a *Arena) All() []ids.BdescID {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ids.BdescID, 0, len(a.table))
	for id := range a.table {
		out = append(out, id)
	}

	return out
}

// Retain bumps a descriptor's strong reference count.
func (a *Arena) Retain(id ids.BdescID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	d.RefCount++

	return nil
}

// Release drops a strong reference. When both RefCount and ARCount reach
// zero, and the descriptor's AllPatches is empty, the descriptor is freed.
// Per spec.md §7, freeing a descriptor with a non-empty AllPatches is a
// fatal invariant violation, never a user error.
func (a *Arena) Release(idp *ids.BdescID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := *idp

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	if d.RefCount <= 0 {
		return fmt.Errorf("bdesc %d: release with refcount %d: %w", id, d.RefCount, ErrInvariant)
	}

	d.RefCount--
	*idp = ids.NoBdesc

	return a.maybeFreeLocked(d)
}

func (a *Arena) maybeFreeLocked(d *Descriptor) error {
	if d.RefCount != 0 || d.ARCount != 0 {
		return nil
	}

	if len(d.AllPatches) != 0 {
		return fmt.Errorf("bdesc %d: freed with %d live patches: %w", d.ID, len(d.AllPatches), ErrInvariant)
	}

	delete(a.table, d.ID)

	return nil
}

// autoreleaseLocked bumps ARCount; called by Pool when a descriptor is
// enqueued into the current autorelease pool.
func (a *Arena) autoreleaseLocked(id ids.BdescID) (*Descriptor, error) {
	d, err := a.getLocked(id)
	if err != nil {
		return nil, err
	}

	if d.ARCount+1 > d.RefCount {
		return nil, fmt.Errorf("bdesc %d: ar_count %d would exceed ref_count %d: %w", id, d.ARCount+1, d.RefCount, ErrInvariant)
	}

	d.ARCount++

	return d, nil
}

// releaseAutoreleaseLocked undoes one pending autorelease and strong
// reference in one step, as Pool.Pop does for every descriptor it drains.
func (a *Arena) releaseAutoreleaseLocked(id ids.BdescID) error {
	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	if d.ARCount <= 0 || d.RefCount <= 0 {
		return fmt.Errorf("bdesc %d: autorelease pop with ar_count %d ref_count %d: %w", id, d.ARCount, d.RefCount, ErrInvariant)
	}

	d.ARCount--
	d.RefCount--

	return a.maybeFreeLocked(d)
}

// InsertPatch appends a patch id to a bdesc's AllPatches list, in
// creation order, and to its owning device's IndexPatches bucket.
func (a *Arena) InsertPatch(id ids.BdescID, graphIndex int, patch ids.PatchID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	d.AllPatches = append(d.AllPatches, patch)

	if graphIndex >= 0 && graphIndex < len(d.IndexPatches) {
		d.IndexPatches[graphIndex] = append(d.IndexPatches[graphIndex], patch)
	}

	return nil
}

// RemovePatch removes a patch id from a bdesc's AllPatches and (if given a
// valid graphIndex) its index bucket. It is a no-op if the patch is not
// present, so callers can call it unconditionally during reclamation.
func (a *Arena) RemovePatch(id ids.BdescID, graphIndex int, patch ids.PatchID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	removeFromSlice(&d.AllPatches, patch)

	if graphIndex >= 0 && graphIndex < len(d.IndexPatches) {
		removeFromSlice(&d.IndexPatches[graphIndex], patch)
	}

	for k, bucket := range d.Overlap1 {
		filtered := bucket[:0]

		for _, p := range bucket {
			if p != patch {
				filtered = append(filtered, p)
			}
		}

		if len(filtered) == 0 {
			delete(d.Overlap1, k)
		} else {
			d.Overlap1[k] = filtered
		}
	}

	for k, bucket := range d.BitPatches {
		filtered := bucket[:0]

		for _, p := range bucket {
			if p != patch {
				filtered = append(filtered, p)
			}
		}

		if len(filtered) == 0 {
			delete(d.BitPatches, k)
		} else {
			d.BitPatches[k] = filtered
		}
	}

	if d.NRB == patch {
		d.NRB = ids.NoPatch
	}

	return nil
}

// AdjustExternAfterCount changes a bdesc's ExternAfterCount by delta,
// clamped at zero. Used by pkg/depgraph when an edge crossing bdescs is
// added or removed (spec.md §3/§4.2).
func (a *Arena) AdjustExternAfterCount(id ids.BdescID, delta int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	d.ExternAfterCount += delta
	if d.ExternAfterCount < 0 {
		d.ExternAfterCount = 0
	}

	return nil
}

// SetReady moves (or ensures) a patch's membership in ready_patches[level].
func (a *Arena) SetReady(id ids.BdescID, level int, patch ids.PatchID, ready bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.getLocked(id)
	if err != nil {
		return err
	}

	if level < 0 || level >= len(d.ReadyPatches) {
		return fmt.Errorf("bdesc %d: level %d out of range [0,%d): %w", id, level, len(d.ReadyPatches), ErrInvariant)
	}

	present := false

	for _, p := range d.ReadyPatches[level] {
		if p == patch {
			present = true
			break
		}
	}

	switch {
	case ready && !present:
		d.ReadyPatches[level] = append(d.ReadyPatches[level], patch)
	case !ready && present:
		removeFromSlice(&d.ReadyPatches[level], patch)
	}

	return nil
}
