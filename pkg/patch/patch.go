package patch

import "github.com/patchfs/fstitch/pkg/ids"

// Kind identifies the shape of a patch's modification. See spec.md §3.
type Kind uint8

const (
	// KindByte records a byte-range write with rollback bytes.
	KindByte Kind = iota
	// KindBitFlip records a 32-bit XOR mask applied at a word offset.
	KindBitFlip
	// KindEmpty is a no-data synchronization join; it has no target.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindBitFlip:
		return "bitflip"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Level orders write admission: lower levels are closer to the
// application, higher levels are closer to disk. Level is a distinct type
// from blockdev.GraphIndex so the two can never be compared by mistake
// (spec.md §9's "level vs. graph-index" open question).
type Level int

// Flags is a bitmask of per-patch state bits from spec.md §3.
type Flags uint16

const (
	// FlagRollback marks a patch temporarily un-applied during a revision
	// slice (spec.md §4.4 step 2); cleared again in step 5a.
	FlagRollback Flags = 1 << iota
	// FlagWritten marks a patch whose revision slice has been acknowledged.
	FlagWritten
	// FlagFreeing marks a patch mid-reclamation, to guard against
	// re-entrant reclamation from a weak-ref callback.
	FlagFreeing
	// FlagNonRollbackable marks a patch created without rollback data
	// under the PATCH_NRB optimization (spec.md §4.1).
	FlagNonRollbackable
	// FlagOverlapMerged marks a patch that absorbed another patch's bytes
	// via data-merging rather than being linked as a fresh dependent.
	FlagOverlapMerged
	// FlagInFlight marks a non-rollbackable ready patch for the duration
	// of a revision-slice write (spec.md §4.4 step 4).
	FlagInFlight
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Patch is a single ordered modification to one bdesc (or, for KindEmpty,
// to nothing). See spec.md §3.
type Patch struct {
	ID ids.PatchID

	Kind   Kind
	Target ids.BdescID // ids.NoBdesc for KindEmpty
	Owner  int         // owning device's graph index, for index_patches bucketing
	Level  Level

	// Byte-range fields (KindByte).
	Offset        int
	Length        int
	NewBytes      []byte
	RollbackBytes []byte

	// Bit-flip fields (KindBitFlip). Offset is word-aligned.
	XORMask uint32

	// Befores/Afters are adjacency lists: Befores[i] is a patch this patch
	// depends on (must be written first); Afters[i] is a patch that
	// depends on this one. Every edge appears in both lists, on both
	// endpoints (spec.md §3's "dependency edge").
	Befores []ids.PatchID
	Afters  []ids.PatchID

	Flags Flags

	// ReadyAt[level] memoizes "is this patch ready at level" so
	// pkg/depgraph doesn't recompute it from scratch on every query. Only
	// meaningful for level == Level (a patch is only ever evaluated for
	// readiness at its own level in the current design; the slice is
	// sized to the arena's level count for uniformity with bdesc's
	// ReadyPatches indexing).
	ReadyAt []bool

	// WeakRefs lists every external weak-ref slot tracking this patch.
	// When this patch is merged away, every listed ref is repointed to
	// the replacement; when it is reclaimed outright, every listed ref is
	// cleared.
	WeakRefs []*ids.WeakRef

	// Generation is bumped whenever this patch id is reused after
	// reclamation, so a stale ids.WeakRef can detect staleness.
	Generation uint32
}

// IsReady reports the memoized ready-at-level state for level.
func (p *Patch) IsReady(level int) bool {
	if level < 0 || level >= len(p.ReadyAt) {
		return false
	}

	return p.ReadyAt[level]
}

// Written reports whether this patch's write has been acknowledged.
func (p *Patch) Written() bool { return p.Flags.has(FlagWritten) }

// Rollback reports whether this patch is currently un-applied mid-slice.
func (p *Patch) Rollback() bool { return p.Flags.has(FlagRollback) }

// NonRollbackable reports whether this patch carries no rollback data.
func (p *Patch) NonRollbackable() bool { return p.Flags.has(FlagNonRollbackable) }

// InFlight reports whether this patch is a non-rollbackable patch
// currently handed to a block device for writing.
func (p *Patch) InFlight() bool { return p.Flags.has(FlagInFlight) }

// Reclaimable reports whether this patch has no afters, is pinned by no
// weak ref, and — for KindByte/KindBitFlip — is written. See spec.md
// §4.5.
//
// KindEmpty is exempt from the written check: an empty patch carries no
// data and never reaches a block device, so it never gets a WRITTEN flag
// set on its behalf; its only job is joining other patches' before-edges
// together, and once nothing still points to it (no afters) it has
// nothing left to join. Gating reclamation on a flag it structurally
// never receives would pin it forever. pkg/patchgroup's IsSynced relies
// on this same asymmetry when deciding a group is synced.
func (p *Patch) Reclaimable() bool {
	if p.Flags.has(FlagFreeing) {
		return false
	}

	if len(p.Afters) != 0 {
		return false
	}

	if len(p.WeakRefs) != 0 {
		return false
	}

	if p.Kind == KindEmpty {
		return true
	}

	return p.Written()
}
