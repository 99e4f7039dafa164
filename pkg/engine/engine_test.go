package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

func newTestEngine(t *testing.T) (*engine.Engine, *depgraph.Graph, *bdesc.Descriptor) {
	t.Helper()

	bdescs := bdesc.NewArena(4, 1)
	patches := patch.NewArena(4)
	g := depgraph.New(patches, bdescs, depgraph.DefaultConfig())
	e := engine.New(g, bdesc.NewPool(bdescs))

	d := bdescs.Alloc(10, 512, nil)

	return e, g, d
}

// Scenario 1 of spec.md §8: single write.
func TestSingleWriteReclaimsOnAcknowledge(t *testing.T) {
	e, g, d := newTestEngine(t)

	id, err := g.CreateByte(d.ID, 0, 0, 0, 4, []byte{1, 2, 3, 4}, nil)
	require.NoError(t, err)

	slice, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, slice.Bytes[0:4])

	require.NoError(t, e.Acknowledge(slice))

	_, err = g.Patches().Get(id)
	require.ErrorIs(t, err, patch.ErrNotFound, "a written patch with no afters is reclaimed")
	require.Empty(t, d.AllPatches)
}

// Scenario 2 of spec.md §8: ordered pair across two blocks. Writing the
// dependent block before its predecessor is written must roll the
// dependent patch back to its pre-image.
func TestOrderedPairRollsBackUnwrittenDependent(t *testing.T) {
	bdescs := bdesc.NewArena(4, 1)
	patches := patch.NewArena(4)
	g := depgraph.New(patches, bdescs, depgraph.DefaultConfig())
	e := engine.New(g, bdesc.NewPool(bdescs))

	b1 := bdescs.Alloc(1, 8, nil)
	b2 := bdescs.Alloc(2, 8, nil)

	var head ids.PatchID

	p1, err := g.CreateByte(b1.ID, 0, 0, 0, 1, []byte{0xAA}, &head)
	require.NoError(t, err)

	_, err = g.CreateByte(b2.ID, 0, 0, 0, 1, []byte{0xBB}, &head)
	require.NoError(t, err)

	slice, err := e.RevisionSlice(b2.ID, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0), slice.Bytes[0], "unwritten predecessor forces rollback to pre-image")

	require.ErrorIs(t, e.Fail(slice), engine.ErrIoFailed)

	pb1, err := g.Patches().Get(p1)
	require.NoError(t, err)
	require.False(t, pb1.Written())
}

func TestFailLeavesPatchesUnwritten(t *testing.T) {
	e, g, d := newTestEngine(t)

	id, err := g.CreateByte(d.ID, 0, 0, 0, 4, []byte{1, 2, 3, 4}, nil)
	require.NoError(t, err)

	slice, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)

	err = e.Fail(slice)
	require.ErrorIs(t, err, engine.ErrIoFailed)

	p, err := g.Patches().Get(id)
	require.NoError(t, err)
	require.False(t, p.Written())
	require.False(t, p.Rollback())
}

func TestRevisionSliceRejectsDoubleInFlight(t *testing.T) {
	e, _, d := newTestEngine(t)

	_, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)

	_, err = e.RevisionSlice(d.ID, 0)
	require.ErrorIs(t, err, engine.ErrBusy)
}

func TestShutdownRejectsNewSlices(t *testing.T) {
	e, _, d := newTestEngine(t)

	require.NoError(t, e.Shutdown())

	_, err := e.RevisionSlice(d.ID, 0)
	require.ErrorIs(t, err, engine.ErrBusy)
}

// TestShutdownReclaimsOrphanedEmptyPatch covers the gap a maintainer
// review flagged: a KindEmpty patch with no afters, created outside any
// revision slice, is never picked up by Acknowledge's reclaim pass,
// since that pass only seeds from the patches a revision slice just
// wrote. Shutdown must sweep it up on its own.
func TestShutdownReclaimsOrphanedEmptyPatch(t *testing.T) {
	e, g, _ := newTestEngine(t)

	gate, err := g.CreateEmpty(0, 0, nil)
	require.NoError(t, err)

	_, err = g.Patches().Get(gate)
	require.NoError(t, err, "gate exists before shutdown")

	require.NoError(t, e.Shutdown())

	_, err = g.Patches().Get(gate)
	require.ErrorIs(t, err, patch.ErrNotFound, "an unblocked empty patch is reclaimed by shutdown")
}

func TestShutdownSucceedsAfterAcknowledgedWrite(t *testing.T) {
	e, g, d := newTestEngine(t)

	_, err := g.CreateByte(d.ID, 0, 0, 0, 4, []byte{1, 2, 3, 4}, nil)
	require.NoError(t, err)

	slice, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)
	require.NoError(t, e.Acknowledge(slice))

	// Acknowledge's own reclaim pass already frees the written, after-less
	// patch; Shutdown's invariant walk should find nothing left to object
	// to.
	require.NoError(t, e.Shutdown())
}

// TestRevisionSliceWritesNonRollbackablePatch covers spec.md §4.1's NRB
// fast path end to end: a patch created with no pending before is
// non-rollbackable, and RevisionSlice writes it out unconditionally
// (it is, by construction, always ready).
func TestRevisionSliceWritesNonRollbackablePatch(t *testing.T) {
	e, g, d := newTestEngine(t)

	id, err := g.CreateByte(d.ID, 0, 0, 0, 4, []byte{9, 9, 9, 9}, nil)
	require.NoError(t, err)

	p, err := g.Patches().Get(id)
	require.NoError(t, err)
	require.True(t, p.NonRollbackable())

	slice, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9, 9}, slice.Bytes[0:4])
	require.True(t, p.InFlight())

	require.NoError(t, e.Acknowledge(slice))
	require.True(t, p.Written())
}

// TestAddDependRejectsLateBeforeOnNonRollbackablePatch covers the ordering
// hazard a maintainer review flagged: a caller must not be able to chain a
// fresh before-edge onto an already-created NRB patch out from under
// RevisionSlice, since it carries no rollback bytes to honor it with.
func TestAddDependRejectsLateBeforeOnNonRollbackablePatch(t *testing.T) {
	e, g, d := newTestEngine(t)

	id, err := g.CreateByte(d.ID, 0, 0, 0, 4, []byte{9, 9, 9, 9}, nil)
	require.NoError(t, err)

	gate, err := g.CreateEmpty(0, 0, nil)
	require.NoError(t, err)

	err = g.AddDepend(id, gate)
	require.ErrorIs(t, err, depgraph.ErrNonRollbackable)

	// The rejected edge leaves the patch ready and writable as before.
	slice, err := e.RevisionSlice(d.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9, 9}, slice.Bytes[0:4])
}
