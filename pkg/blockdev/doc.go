// Package blockdev implements the block-device contract of spec.md §6.1:
// the boundary between the patch-dependency engine (pkg/engine,
// pkg/depgraph) and physical storage.
//
// A Device owns a range of numbered, fixed-size blocks and the bdesc
// cache fronting them. It is responsible for driving pkg/engine's
// revision-slice protocol on every write: RevisionSlice, persist the
// returned bytes, then Acknowledge or Fail. pkg/engine never touches
// storage directly; a Device is the only thing that does.
//
// Memory and File are production-shaped drivers (in-RAM and flat-file
// backed). Chaos and CrashSim wrap the backing store beneath a Device
// (in-RAM or flat-file) to inject faults or simulate a crash for tests,
// mirroring pkg/fs's Chaos/Crash wrappers one layer down the stack.
package blockdev
