// Package patch implements the patch data model: the discrete, ordered
// modification to one bdesc, its kind (byte range, bit flip, or empty
// synchronization node), its flags, and its weak references.
//
// Patch creation logic that must inspect a bdesc's overlap hash or wire
// dependency edges lives in pkg/depgraph, which treats this package's
// Arena as its storage layer. This package itself never reasons about
// edges or readiness; it just owns the Patch struct and its lifecycle
// bookkeeping (allocate, mutate fields, free).
package patch
