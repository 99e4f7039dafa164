package blockdev

import "sync"

// crashStore is a blockStore with two layers: pending (the live,
// in-memory working state every write lands in immediately) and durable
// (the snapshot flush() copies pending into). SimulateCrash discards
// pending and restores it from durable, modeling a power loss that loses
// every write since the last successful flush but nothing before it.
type crashStore struct {
	mu      sync.Mutex
	pending map[uint64][]byte
	durable map[uint64][]byte
}

func newCrashStore() *crashStore {
	return &crashStore{
		pending: make(map[uint64][]byte),
		durable: make(map[uint64][]byte),
	}
}

func (c *crashStore) readBlock(number uint64, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.pending[number]; ok {
		return append([]byte(nil), b...), nil
	}

	return make([]byte, size), nil
}

func (c *crashStore) writeBlock(number uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[number] = append([]byte(nil), data...)

	return nil
}

func (c *crashStore) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n, b := range c.pending {
		c.durable[n] = append([]byte(nil), b...)
	}

	return nil
}

func (c *crashStore) close() error { return nil }

// CrashSim simulates a crash partway through a run (spec.md §8 scenario
// 5's crash-simulation half): writes are immediately visible to reads
// through the same Device (matching an OS page cache before fsync), but
// only a successful Flush makes them survive SimulateCrash.
//
// CrashSim is test-only; it plays the same role as a crash-consistency
// wrapper one layer up the stack would for a real filesystem.
type CrashSim struct {
	store *crashStore
}

// NewCrashSim returns a fresh Device over an empty crash-simulated store,
// and the CrashSim controller used to trigger a crash and reopen the
// device against whatever survived it.
func NewCrashSim(cfg Config) (Device, *CrashSim) {
	store := newCrashStore()
	cs := &CrashSim{store: store}

	return newBase(store, cfg), cs
}

// SimulateCrash discards every write since the last Flush.
func (cs *CrashSim) SimulateCrash() {
	cs.store.mu.Lock()
	defer cs.store.mu.Unlock()

	fresh := make(map[uint64][]byte, len(cs.store.durable))
	for n, b := range cs.store.durable {
		fresh[n] = append([]byte(nil), b...)
	}

	cs.store.pending = fresh
}

// Reopen returns a new Device over the same crash-simulated store, bound
// to a new Config (typically a fresh Arena/Engine pair, as a real restart
// would have). Call after SimulateCrash to inspect or continue operating
// on whatever state survived.
func (cs *CrashSim) Reopen(cfg Config) Device {
	return newBase(cs.store, cfg)
}

// DurableRead returns the last-flushed content for number directly from
// the crash store, bypassing any Device's bdesc cache. ok is false if
// number was never flushed.
func (cs *CrashSim) DurableRead(number uint64) (data []byte, ok bool) {
	cs.store.mu.Lock()
	defer cs.store.mu.Unlock()

	b, ok := cs.store.durable[number]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), b...), true
}

var _ blockStore = (*crashStore)(nil)
