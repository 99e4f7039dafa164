package depgraph

import (
	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/patch"
)

// Config carries the compile-time tunables of spec.md §6.4 that affect
// graph behavior.
type Config struct {
	// NOverlap1 sizes the overlap1 hash bucket space per bdesc (default
	// 32, per spec.md §6.4).
	NOverlap1 uint32

	// PatchNRB enables the non-rollbackable-patch optimization of
	// spec.md §4.1.
	PatchNRB bool
}

// DefaultConfig matches spec.md §6.4's defaults.
func DefaultConfig() Config {
	return Config{
		NOverlap1: 32,
		PatchNRB:  true,
	}
}

// Graph is the dependency-graph component bound to one pair of arenas.
type Graph struct {
	cfg     Config
	patches *patch.Arena
	bdescs  *bdesc.Arena
}

// New binds a Graph to the given arenas and config.
func New(patches *patch.Arena, bdescs *bdesc.Arena, cfg Config) *Graph {
	if cfg.NOverlap1 == 0 {
		cfg.NOverlap1 = 32
	}

	return &Graph{cfg: cfg, patches: patches, bdescs: bdescs}
}

// Patches returns the bound patch arena, for callers (pkg/engine) that
// need direct access alongside graph operations.
func (g *Graph) Patches() *patch.Arena { return g.patches }

// Bdescs returns the bound bdesc arena.
func (g *Graph) Bdescs() *bdesc.Arena { return g.bdescs }
