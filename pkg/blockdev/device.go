package blockdev

import (
	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// FlushResult classifies the outcome of a Flush call (spec.md §6.1).
type FlushResult int

const (
	// FlushEmpty means there was nothing to flush: the target (or every
	// block, for a whole-device flush) was already settled.
	FlushEmpty FlushResult = iota

	// FlushSome means at least one block was written. A whole-device
	// flush visits every cached block in one call; a by-number or
	// by-patch flush writes only that one block, in which a patch that
	// was not ready is written rolled back and stays unwritten.
	FlushSome

	// FlushNone means nothing was written: every candidate block with a
	// pending write has a slice already in flight, or a block write
	// failed (the error is returned alongside). A block holding only
	// patches that are not ready yields FlushEmpty, not FlushNone.
	FlushNone
)

// FlushOptions narrows a Flush call. The zero value flushes every dirty
// block known to the device. Setting Number flushes one block. Setting
// Patch flushes whichever block currently hosts that patch.
type FlushOptions struct {
	Number   *uint64
	Patch    ids.PatchID
	HasPatch bool
}

// Device is the block-device contract of spec.md §6.1: the boundary
// between pkg/engine's in-memory patch/bdesc graph and physical storage.
//
// Implementations own a bdesc cache (one Descriptor per distinct block
// number they have read or allocated) and are responsible for driving
// pkg/engine's RevisionSlice/Acknowledge/Fail cycle on every write; the
// engine itself never touches storage.
type Device interface {
	// BlockSize returns the fixed size, in bytes, of every block.
	BlockSize() int

	// NumBlocks returns the number of addressable blocks.
	NumBlocks() uint64

	// AtomicSize returns the largest write size the underlying medium
	// guarantees is atomic, as configured. It is informational: neither
	// pkg/engine nor pkg/depgraph consults it when deciding rollback.
	AtomicSize() int

	// Level returns the patch level new patches on this device are
	// created at by default.
	Level() patch.Level

	// GraphIndex returns this device's bucket in a bdesc's
	// IndexPatches partition (spec.md §3).
	GraphIndex() int

	// ReadBlock returns the cached Descriptor for number, reading it
	// from storage on first access.
	ReadBlock(number uint64) (*bdesc.Descriptor, error)

	// SyntheticReadBlock returns a Descriptor for number without
	// reading storage: the caller is expected to fill Data itself
	// (spec.md §6.1's "bytes may be filled by the caller without a
	// disk read"), typically for a block about to be fully overwritten.
	SyntheticReadBlock(number uint64) (*bdesc.Descriptor, error)

	// WriteBlock drives one revision-slice write of number's block: it
	// calls RevisionSlice on the engine, persists the resulting bytes,
	// and calls Acknowledge or Fail depending on the outcome. Intended
	// as the write callback passed to engine.Engine.Tick.
	WriteBlock(number uint64) error

	// Flush drains one or more dirty blocks, per opts.
	Flush(opts FlushOptions) (FlushResult, error)

	// WriteHead returns the address of this device's write-head slot: a
	// per-device default "before" pointer threaded into new patches
	// created on it, so writes to the same device serialize by default
	// (spec.md §6.1's get_write_head).
	WriteHead() *ids.PatchID

	// BlockSpace returns an advisory free-space hint consulted by
	// admission control (spec.md §6.1's get_block_space). -1 means
	// "unknown".
	BlockSpace() int32

	// Close releases any resources (open files, goroutines) held by
	// the device. ReadBlock/WriteBlock/Flush after Close return
	// ErrClosed.
	Close() error
}
