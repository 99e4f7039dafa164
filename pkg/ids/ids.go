// Package ids defines the stable, generation-tagged identifiers shared by
// pkg/bdesc and pkg/patch.
//
// The patch/bdesc graph is heavily interlinked (patches reference bdescs,
// bdescs reference patches, edges are mutual). Rather than cyclic pointers,
// every long-lived object lives in an arena and is referred to by a small
// integer id; weak references additionally carry a generation so a stale
// id can never be silently resolved to a reused slot.
package ids

// BdescID identifies a block descriptor within a bdesc.Arena.
type BdescID uint32

// PatchID identifies a patch within a patch.Arena.
type PatchID uint32

// GroupID identifies a patch group within a patchgroup.Scope.
type GroupID uint32

// NoBdesc is the zero value, used by Empty patches that target no block.
const NoBdesc BdescID = 0

// NoPatch is the zero value, used to mean "no patch" in optional fields
// such as a bdesc's non-rollbackable slot.
const NoPatch PatchID = 0

// NoGroup is the zero value, used to mean "no patch group".
const NoGroup GroupID = 0

// WeakRef is a {slot, patch, generation} record. When the referenced patch
// is merged into a replacement, WeakRef.Patch is rewritten in place. When
// the patch is reclaimed with no replacement, WeakRef.Patch is cleared to
// NoPatch and Generation is left as-is so a stale reader can detect it.
//
// WeakRef never pins its target: the arena, not the existence of a
// WeakRef, owns the patch's lifetime.
type WeakRef struct {
	Patch      PatchID
	Generation uint32
}

// Valid reports whether the weak ref currently resolves to a live patch.
func (w *WeakRef) Valid() bool { return w.Patch != NoPatch }

// Clear detaches the weak ref from its target.
func (w *WeakRef) Clear() {
	w.Patch = NoPatch
}
