package blockdev

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// ChaosConfig controls fault-injection probabilities for Chaos. Each rate
// is a float64 from 0.0 (never) to 1.0 (always). The zero value disables
// all injection.
type ChaosConfig struct {
	// ReadFailRate controls how often readBlock fails entirely.
	ReadFailRate float64

	// WriteFailRate controls how often writeBlock fails entirely,
	// writing nothing.
	WriteFailRate float64

	// PartialWriteRate controls how often writeBlock silently persists
	// only a prefix of the block, with no error — modeling a write that
	// the storage layer acknowledged but truncated (e.g. a torn sector
	// write on media without AtomicSize coverage).
	PartialWriteRate float64

	// FlushFailRate controls how often flush fails, meaning none of the
	// writes since the last successful flush are guaranteed durable.
	FlushFailRate float64
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection. Default for a new Chaos.
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation through to the wrapped store.
	ChaosModeNoOp
)

// ChaosStats counts injected faults, for test assertions.
type ChaosStats struct {
	ReadFails     int64
	WriteFails    int64
	PartialWrites int64
	FlushFails    int64
}

type chaosError struct{ err error }

func (e *chaosError) Error() string { return "blockdev: chaos: " + e.err.Error() }
func (e *chaosError) Unwrap() error { return e.err }

// IsChaosErr reports whether err (or anything it wraps) was injected by Chaos.
func IsChaosErr(err error) bool {
	var injected *chaosError
	return errors.As(err, &injected)
}

// Chaos wraps a blockStore and injects random failures, for testing how
// pkg/engine and pkg/patchgroup behave when WriteBlock/Flush fail midway
// (spec.md §7's ErrIoFailed propagation path).
//
// Read faults are rolled for every readBlock call, whether or not the
// block has been written through Chaos before.
type Chaos struct {
	inner  blockStore
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	stats ChaosStats
}

func newChaos(inner blockStore, cfg ChaosConfig) *Chaos {
	return &Chaos{
		inner:  inner,
		config: cfg,
		rng:    rand.New(rand.NewPCG(1, 2)),
	}
}

// SetMode switches between fault injection and pass-through.
func (c *Chaos) SetMode(mode ChaosMode) { c.mode.Store(uint32(mode)) }

// Stats returns a snapshot of injected-fault counters.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:     atomic.LoadInt64(&c.stats.ReadFails),
		WriteFails:    atomic.LoadInt64(&c.stats.WriteFails),
		PartialWrites: atomic.LoadInt64(&c.stats.PartialWrites),
		FlushFails:    atomic.LoadInt64(&c.stats.FlushFails),
	}
}

func (c *Chaos) roll() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64()
}

func (c *Chaos) active() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeActive
}

func (c *Chaos) readBlock(number uint64, size int) ([]byte, error) {
	if c.active() && c.roll() < c.config.ReadFailRate {
		atomic.AddInt64(&c.stats.ReadFails, 1)
		return nil, &chaosError{fmt.Errorf("read block %d failed", number)}
	}

	return c.inner.readBlock(number, size)
}

func (c *Chaos) writeBlock(number uint64, data []byte) error {
	if !c.active() {
		return c.inner.writeBlock(number, data)
	}

	if c.roll() < c.config.WriteFailRate {
		atomic.AddInt64(&c.stats.WriteFails, 1)
		return &chaosError{fmt.Errorf("write block %d failed", number)}
	}

	if c.roll() < c.config.PartialWriteRate && len(data) > 1 {
		atomic.AddInt64(&c.stats.PartialWrites, 1)
		return c.inner.writeBlock(number, data[:len(data)/2])
	}

	return c.inner.writeBlock(number, data)
}

func (c *Chaos) flush() error {
	if c.active() && c.roll() < c.config.FlushFailRate {
		atomic.AddInt64(&c.stats.FlushFails, 1)
		return &chaosError{errors.New("flush failed")}
	}

	return c.inner.flush()
}

func (c *Chaos) close() error { return c.inner.close() }

// NewChaosMemory returns an in-RAM Device whose reads/writes/flushes are
// subject to injected faults, and the Chaos controller for adjusting
// rates mid-test or inspecting Stats.
func NewChaosMemory(cfg Config, chaosCfg ChaosConfig) (Device, *Chaos) {
	c := newChaos(newMemoryStore(), chaosCfg)
	return newBase(c, cfg), c
}

// NewChaosFile is NewFile wrapped with fault injection.
func NewChaosFile(path string, cfg Config, chaosCfg ChaosConfig) (Device, *Chaos, error) {
	store, err := newFileStore(path, cfg.BlockSize, cfg.NumBlocks)
	if err != nil {
		return nil, nil, err
	}

	c := newChaos(store, chaosCfg)

	return newBase(c, cfg), c, nil
}

var _ blockStore = (*Chaos)(nil)
