package blockdev

import (
	"fmt"
	"sync"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// blockStore is the physical persistence abstraction a device drives its
// revision-slice writes through. memoryStore and fileStore each implement
// it directly; Chaos and CrashSim wrap one blockStore to produce another,
// so fault injection and crash simulation compose under any driver
// without duplicating the revision-slice plumbing in base.go.
type blockStore interface {
	readBlock(number uint64, size int) ([]byte, error)
	writeBlock(number uint64, data []byte) error
	flush() error
	close() error
}

// Config describes the fixed shape of one device: its geometry and the
// shared engine/arena it allocates bdescs through. Every driver
// constructor (NewMemory, NewFile) takes a Config.
type Config struct {
	Arena  *bdesc.Arena
	Engine *engine.Engine

	BlockSize  int
	NumBlocks  uint64
	AtomicSize int
	Level      patch.Level
	GraphIndex int
}

// base implements Device on top of any blockStore, owning the mapping
// from block number to the bdesc.Descriptor caching it (spec.md §6.1).
type base struct {
	mu sync.Mutex

	store blockStore
	cfg   Config

	blocks  map[uint64]ids.BdescID
	reverse map[ids.BdescID]uint64

	head   ids.PatchID
	closed bool
}

func newBase(store blockStore, cfg Config) *base {
	if cfg.BlockSize <= 0 {
		panic("blockdev: BlockSize must be positive")
	}

	return &base{
		store:   store,
		cfg:     cfg,
		blocks:  make(map[uint64]ids.BdescID),
		reverse: make(map[ids.BdescID]uint64),
		head:    ids.NoPatch,
	}
}

func (b *base) BlockSize() int        { return b.cfg.BlockSize }
func (b *base) NumBlocks() uint64     { return b.cfg.NumBlocks }
func (b *base) AtomicSize() int       { return b.cfg.AtomicSize }
func (b *base) Level() patch.Level    { return b.cfg.Level }
func (b *base) GraphIndex() int       { return b.cfg.GraphIndex }
func (b *base) WriteHead() *ids.PatchID { return &b.head }

func (b *base) checkRange(number uint64) error {
	if b.cfg.NumBlocks != 0 && number >= b.cfg.NumBlocks {
		return fmt.Errorf("blockdev: block %d: %w", number, ErrOutOfRange)
	}

	return nil
}

// ReadBlock returns the cached Descriptor for number, reading it from the
// backing store on first access.
func (b *base) ReadBlock(number uint64) (*bdesc.Descriptor, error) {
	if err := b.checkRange(number); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("blockdev: read block %d: %w", number, ErrClosed)
	}

	if id, ok := b.blocks[number]; ok {
		b.mu.Unlock()
		return b.cfg.Arena.Get(id)
	}
	b.mu.Unlock()

	data, err := b.store.readBlock(number, b.cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("blockdev: read block %d: %w", number, err)
	}

	return b.cache(number, data), nil
}

// SyntheticReadBlock returns a Descriptor for number without touching the
// backing store; the caller fills Data itself (spec.md §6.1). A block
// already cached is returned as-is: synthetic reads only skip the disk
// read on first access.
func (b *base) SyntheticReadBlock(number uint64) (*bdesc.Descriptor, error) {
	if err := b.checkRange(number); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("blockdev: synthetic read block %d: %w", number, ErrClosed)
	}

	if id, ok := b.blocks[number]; ok {
		b.mu.Unlock()
		return b.cfg.Arena.Get(id)
	}
	b.mu.Unlock()

	return b.cache(number, nil), nil
}

func (b *base) cache(number uint64, data []byte) *bdesc.Descriptor {
	d := b.cfg.Arena.Alloc(number, b.cfg.BlockSize, data)

	b.mu.Lock()
	b.blocks[number] = d.ID
	b.reverse[d.ID] = number
	b.mu.Unlock()

	return d
}

// WriteBlock drives one revision-slice write of number's block: RevisionSlice,
// persist the resulting bytes, then Acknowledge or Fail. Suitable as the
// write callback passed to engine.Engine.Tick. A number that was never
// read or allocated has nothing to write and returns nil.
func (b *base) WriteBlock(number uint64) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("blockdev: write block %d: %w", number, ErrClosed)
	}

	id, ok := b.blocks[number]
	b.mu.Unlock()

	if !ok {
		return nil
	}

	slice, err := b.cfg.Engine.RevisionSlice(id, b.cfg.Level)
	if err != nil {
		return err
	}

	if err := b.store.writeBlock(number, slice.Bytes); err != nil {
		if failErr := b.cfg.Engine.Fail(slice); failErr != nil {
			return fmt.Errorf("blockdev: write block %d: %w (and Fail: %v)", number, err, failErr)
		}

		return fmt.Errorf("blockdev: write block %d: %w", number, err)
	}

	return b.cfg.Engine.Acknowledge(slice)
}

// hasPendingWrite reports whether d carries a patch at this device's
// level that is ready (or non-rollbackable) and not yet written.
func (b *base) hasPendingWrite(d *bdesc.Descriptor) bool {
	graph := b.cfg.Engine.Graph()
	patches := graph.Patches()

	for _, pid := range d.AllPatches {
		p, err := patches.Get(pid)
		if err != nil {
			continue
		}

		if p.Level != b.cfg.Level || p.Written() {
			continue
		}

		if p.NonRollbackable() || graph.IsReadyAt(p) {
			return true
		}
	}

	return false
}

func (b *base) flushOne(number uint64) (FlushResult, error) {
	b.mu.Lock()
	id, ok := b.blocks[number]
	b.mu.Unlock()

	if !ok {
		return FlushEmpty, nil
	}

	d, err := b.cfg.Arena.Get(id)
	if err != nil {
		return FlushEmpty, nil
	}

	if d.InFlight {
		return FlushNone, nil
	}

	if !b.hasPendingWrite(d) {
		return FlushEmpty, nil
	}

	if err := b.WriteBlock(number); err != nil {
		return FlushNone, err
	}

	return FlushSome, nil
}

// Flush drains one or more dirty blocks, per opts (spec.md §6.1).
func (b *base) Flush(opts FlushOptions) (FlushResult, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return FlushEmpty, fmt.Errorf("blockdev: flush: %w", ErrClosed)
	}

	if opts.HasPatch {
		b.mu.Lock()
		graph := b.cfg.Engine.Graph()
		b.mu.Unlock()

		p, err := graph.Patches().Get(opts.Patch)
		if err != nil {
			return FlushEmpty, nil
		}

		b.mu.Lock()
		number, ok := b.reverse[p.Target]
		b.mu.Unlock()

		if !ok {
			return FlushEmpty, nil
		}

		return b.flushOne(number)
	}

	if opts.Number != nil {
		return b.flushOne(*opts.Number)
	}

	b.mu.Lock()
	numbers := make([]uint64, 0, len(b.blocks))
	for n := range b.blocks {
		numbers = append(numbers, n)
	}
	b.mu.Unlock()

	result := FlushEmpty

	for _, n := range numbers {
		r, err := b.flushOne(n)
		if err != nil {
			return result, err
		}

		switch r {
		case FlushSome:
			result = FlushSome
		case FlushNone:
			if result == FlushEmpty {
				result = FlushNone
			}
		}
	}

	if err := b.store.flush(); err != nil {
		return result, fmt.Errorf("blockdev: flush: %w", err)
	}

	return result, nil
}

// BlockSpace returns numBlocks minus the blocks currently cached, as a
// rough "how much room is left before every block has been touched"
// hint; -1 if NumBlocks is unbounded (0).
func (b *base) BlockSpace() int32 {
	if b.cfg.NumBlocks == 0 {
		return -1
	}

	b.mu.Lock()
	used := len(b.blocks)
	b.mu.Unlock()

	remaining := int64(b.cfg.NumBlocks) - int64(used)
	if remaining < 0 {
		remaining = 0
	}

	return int32(remaining)
}

// Close marks the device closed and releases the backing store.
func (b *base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	b.mu.Unlock()

	return b.store.close()
}

var _ Device = (*base)(nil)
