package bdesc

import "github.com/patchfs/fstitch/pkg/ids"

// Descriptor is the in-memory cached image of one on-disk block plus the
// bookkeeping spec.md §3 asks for: patch membership, per-level ready
// lists, per-graph-index buckets, the overlap1 hash, and the bit-patch
// aggregation map.
//
// All fields are owned by the Arena that allocated the Descriptor; callers
// reach a Descriptor only through Arena.Get while holding the arena's lock
// (or via a snapshot taken under that lock), never by storing the pointer
// across an engine operation boundary.
type Descriptor struct {
	ID     ids.BdescID
	Number uint64
	Length int
	Data   []byte

	RefCount int32
	ARCount  int32

	// AllPatches lists every patch targeting this bdesc in creation order.
	AllPatches []ids.PatchID

	// ReadyPatches[level] lists patches at that level with no outstanding
	// lower-or-equal-level predecessor. Sized to the arena's level count.
	ReadyPatches [][]ids.PatchID

	// IndexPatches[graphIndex] partitions AllPatches by owning device.
	IndexPatches [][]ids.PatchID

	// Overlap1 buckets byte-patches by a hash of their first changed byte,
	// to make overlap lookups during patch creation near O(1).
	Overlap1 map[uint32][]ids.PatchID

	// BitPatches maps a byte offset (word-aligned) to the bit-flip patches
	// touching that word, so independent flips on the same word can be
	// merged into a single combined-mask patch.
	BitPatches map[int][]ids.PatchID

	// NRB is the weak reference to this block's single non-rollbackable
	// patch, if PATCH_NRB created one. NoPatch means none exists.
	NRB ids.PatchID

	// ExternAfterCount counts after-edges leaving this block (edges to
	// patches on other bdescs that depend on a patch here). A nonzero
	// count disqualifies the block from hosting a new NRB patch.
	ExternAfterCount int

	InFlight  bool
	Synthetic bool
}

func newDescriptor(id ids.BdescID, number uint64, length int, levels, indices int, data []byte) *Descriptor {
	return &Descriptor{
		ID:           id,
		Number:       number,
		Length:       length,
		Data:         data,
		RefCount:     1,
		ReadyPatches: make([][]ids.PatchID, levels),
		IndexPatches: make([][]ids.PatchID, indices),
		Overlap1:     make(map[uint32][]ids.PatchID),
		BitPatches:   make(map[int][]ids.PatchID),
		NRB:          ids.NoPatch,
	}
}

// removeFromSlice removes the first occurrence of p from *s, preserving
// order (the slice stands in for spec.md's intrusive doubly-linked list;
// order is creation order, which is all callers ever rely on).
func removeFromSlice(s *[]ids.PatchID, p ids.PatchID) bool {
	for i, q := range *s {
		if q == p {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}
