// Package patchgroup implements the patch-group layer of spec.md §4.6: a
// named pair of empty patches (before-node, after-node) used as an
// application-visible handle for bulk ordering, engagement scopes whose
// callers hang new patches below each engaged group's before-node
// (Scope.EngagedBefores and Scope.AttachMember; it is not done
// automatically), and the
// has-afters/released/engaged/has-befores (ARWB) state machine governing
// which operations are legal at a given point in a group's life.
//
// This is grounded on internal/ticket's blocker model (a dependency
// relation over named entities, with cycle rejection before a new edge is
// added) the way internal/cli/block.go implements it, generalized from
// one flat ticket graph to a graph of patch groups sitting on top of the
// patch graph.
package patchgroup
