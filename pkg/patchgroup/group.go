package patchgroup

import "github.com/patchfs/fstitch/pkg/ids"

// Flags is a bitmask of per-group creation options (spec.md §4.6).
type Flags uint8

const (
	// FlagAtomic requires all member patches to reach disk or none do,
	// enforced by wiring every member through the group's commit patch.
	FlagAtomic Flags = 1 << iota
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Atomic reports whether this group was created with FlagAtomic.
func (f Flags) Atomic() bool { return f.has(FlagAtomic) }

// Group is a named pair of empty patches used as an application-visible
// handle for bulk ordering (spec.md §4.6, "patch group" in the glossary).
//
// BeforeNode is the patch new member patches gain a before-edge to while
// the group is engaged; AfterNode depends (transitively, through every
// member) on BeforeNode and is the root a Sync walk starts from.
//
// The four ARWB bits are sticky bookkeeping, set once and never cleared:
// they answer "has this ever happened to the group", not "is this
// currently true". Gating reads the live Engaged toggle instead, per the
// Open Question 3 resolution in DESIGN.md.
type Group struct {
	ID    ids.GroupID
	Flags Flags
	Label string

	BeforeNode ids.PatchID
	AfterNode  ids.PatchID

	// CommitNode is the single patch every member is wired to depend on,
	// for FlagAtomic groups (ids.NoPatch otherwise). See spec.md §4.6,
	// "Atomic groups ... wiring every member to a single commit-empty
	// patch that the journal layer arms."
	CommitNode ids.PatchID

	hasAfters  bool // A bit: another group's add_depend named this as its "before" argument.
	released   bool // R bit.
	written    bool // W bit: at least one patch was created while this group was engaged.
	hasBefores bool // B bit: this group's add_depend named another group as its "before" argument.

	engaged bool // live toggle; not part of the sticky ARWB bits.
}

// HasAfters reports the sticky A bit.
func (g *Group) HasAfters() bool { return g.hasAfters }

// Released reports the sticky R bit.
func (g *Group) Released() bool { return g.released }

// Written reports the sticky W bit: whether a patch was ever created
// while this group was engaged.
func (g *Group) Written() bool { return g.written }

// HasBefores reports the sticky B bit.
func (g *Group) HasBefores() bool { return g.hasBefores }

// Engaged reports the live engage/disengage toggle.
func (g *Group) Engaged() bool { return g.engaged }
