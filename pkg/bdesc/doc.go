// Package bdesc implements the block descriptor: the cached in-memory image
// of one on-disk block, its reference counting, and the stacked
// autorelease-pool discipline that lets producers return a descriptor to a
// caller without an immediate ownership transfer.
//
// A Descriptor additionally carries the per-level ready lists, per-index
// buckets, the overlap1 hash and the bit-patch map described in spec.md
// §3 — those are populated by pkg/depgraph, not by this package, which only
// owns storage and refcount discipline for them.
package bdesc
