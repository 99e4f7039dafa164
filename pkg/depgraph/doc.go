// Package depgraph implements the dependency-graph operations of
// spec.md §4.1–§4.3: patch creation (with overlap merging and the
// non-rollbackable optimization), before/after edge maintenance with cycle
// avoidance and transitive simplification, and per-(bdesc,level) ready-set
// bookkeeping.
//
// depgraph treats pkg/patch.Arena and pkg/bdesc.Arena as its storage layer;
// it owns no state of its own beyond a small Config. This mirrors how the
// teacher's internal/cli/block.go computes a cycle check and list
// mutation directly against the ticket package's file-backed store rather
// than a private index.
package depgraph
