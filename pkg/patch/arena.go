package patch

import (
	"fmt"
	"sync"

	"github.com/patchfs/fstitch/pkg/ids"
)

// Arena owns every live Patch, mirroring pkg/bdesc.Arena's explicit-handle
// design (spec.md §9).
type Arena struct {
	mu sync.Mutex

	levels int

	next  ids.PatchID
	table map[ids.PatchID]*Patch

	// global lists every live patch id in this arena's graph index
	// (spec.md §4.3's index_patches, process-wide view), keyed by owner
	// and read back through ByOwner.
	global map[int][]ids.PatchID
}

// NewArena creates an Arena sized for the given number of BD levels.
func NewArena(levels int) *Arena {
	if levels <= 0 {
		levels = 1
	}

	return &Arena{
		levels: levels,
		next:   1,
		table:  make(map[ids.PatchID]*Patch),
		global: make(map[int][]ids.PatchID),
	}
}

func (a *Arena) Lock()   { a.mu.Lock() }
func (a *Arena) Unlock() { a.mu.Unlock() }

// Alloc allocates a new patch of the given kind with the given owner
// graph-index and level. Callers (pkg/depgraph) populate the
// kind-specific fields afterward.
func (a *Arena) Alloc(kind Kind, target ids.BdescID, owner int, level Level) *Patch {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next++

	p := &Patch{
		ID:      id,
		Kind:    kind,
		Target:  target,
		Owner:   owner,
		Level:   level,
		ReadyAt: make([]bool, a.levels),
	}

	a.table[id] = p
	a.global[owner] = append(a.global[owner], id)

	return p
}

// Get returns the live Patch for id, or ErrNotFound.
func (a *Arena) Get(id ids.PatchID) (*Patch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.getLocked(id)
}

// GetLocked is Get for a caller already holding Arena.Lock.
func (a *Arena) GetLocked(id ids.PatchID) (*Patch, error) {
	return a.getLocked(id)
}

func (a *Arena) getLocked(id ids.PatchID) (*Patch, error) {
	p, ok := a.table[id]
	if !ok {
		return nil, fmt.Errorf("patch %d: %w", id, ErrNotFound)
	}

	return p, nil
}

// Free removes a patch from the arena outright. Callers must have already
// verified Reclaimable() and detached the patch from its bdesc's lists
// and from every weak ref.
func (a *Arena) Free(id ids.PatchID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.getLocked(id)
	if err != nil {
		return err
	}

	if len(p.Afters) != 0 || len(p.WeakRefs) != 0 {
		return fmt.Errorf("patch %d: freed with afters=%d weakrefs=%d: %w", id, len(p.Afters), len(p.WeakRefs), ErrInvariant)
	}

	delete(a.table, id)

	bucket := a.global[p.Owner]
	for i, q := range bucket {
		if q == id {
			a.global[p.Owner] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}

	return nil
}

// ByOwner returns a snapshot of every live patch id owned by the given
// graph index (spec.md §4.3's index_patches, global view).
func (a *Arena) ByOwner(owner int) []ids.PatchID {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ids.PatchID, len(a.global[owner]))
	copy(out, a.global[owner])

	return out
}

// All returns a snapshot of every live patch id, in no particular order.
// Used by pkg/engine's shutdown reclaim/invariant pass, which has no
// single graph index to scope its walk to.
func (a *Arena) All() []ids.PatchID {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ids.PatchID, 0, len(a.table))
	for id := range a.table {
		out = append(out, id)
	}

	return out
}

// RegisterWeakRef attaches ref to patch id's weak-ref list.
func (a *Arena) RegisterWeakRef(id ids.PatchID, ref *ids.WeakRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.getLocked(id)
	if err != nil {
		return err
	}

	ref.Patch = id
	ref.Generation = p.Generation
	p.WeakRefs = append(p.WeakRefs, ref)

	return nil
}

// Retarget rewrites every weak ref on `from` to point at `to` instead,
// used when `from` is merged into `to` (spec.md §3's weak-reference
// fidelity invariant).
func (a *Arena) Retarget(from, to ids.PatchID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, err := a.getLocked(from)
	if err != nil {
		return err
	}

	dst, err := a.getLocked(to)
	if err != nil {
		return err
	}

	for _, ref := range src.WeakRefs {
		ref.Patch = to
		ref.Generation = dst.Generation
	}

	dst.WeakRefs = append(dst.WeakRefs, src.WeakRefs...)
	src.WeakRefs = nil

	return nil
}

// ClearWeakRefs clears every weak ref pointing at id, used right before
// reclaiming a patch outright (no replacement).
func (a *Arena) ClearWeakRefs(id ids.PatchID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.getLocked(id)
	if err != nil {
		return err
	}

	for _, ref := range p.WeakRefs {
		ref.Clear()
	}

	p.WeakRefs = nil

	return nil
}
