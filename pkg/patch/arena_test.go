package patch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

func TestAllocAndReclaimable(t *testing.T) {
	arena := patch.NewArena(4)

	p := arena.Alloc(patch.KindByte, ids.BdescID(1), 0, 2)
	require.False(t, p.Reclaimable(), "unwritten byte patch is not reclaimable")

	p.Flags |= patch.FlagWritten
	require.True(t, p.Reclaimable())

	p.Afters = append(p.Afters, ids.PatchID(99))
	require.False(t, p.Reclaimable(), "patch with live afters is not reclaimable")
}

func TestEmptyPatchReclaimableWithoutWritten(t *testing.T) {
	arena := patch.NewArena(4)
	p := arena.Alloc(patch.KindEmpty, ids.NoBdesc, 0, 0)

	require.True(t, p.Reclaimable(), "empty patch with no afters/weakrefs needs no WRITTEN flag")
}

func TestWeakRefRetargetOnMerge(t *testing.T) {
	arena := patch.NewArena(4)

	src := arena.Alloc(patch.KindByte, ids.BdescID(1), 0, 0)
	dst := arena.Alloc(patch.KindByte, ids.BdescID(1), 0, 0)

	var ref ids.WeakRef
	require.NoError(t, arena.RegisterWeakRef(src.ID, &ref))
	require.Equal(t, src.ID, ref.Patch)

	require.NoError(t, arena.Retarget(src.ID, dst.ID))
	require.Equal(t, dst.ID, ref.Patch)
	require.True(t, ref.Valid())
}

func TestWeakRefClearedOnReclaim(t *testing.T) {
	arena := patch.NewArena(4)
	p := arena.Alloc(patch.KindByte, ids.BdescID(1), 0, 0)

	var ref ids.WeakRef
	require.NoError(t, arena.RegisterWeakRef(p.ID, &ref))

	require.NoError(t, arena.ClearWeakRefs(p.ID))
	require.False(t, ref.Valid())

	require.NoError(t, arena.Free(p.ID))
	_, err := arena.Get(p.ID)
	require.ErrorIs(t, err, patch.ErrNotFound)
}

func TestFreeWithLiveAftersIsInvariantViolation(t *testing.T) {
	arena := patch.NewArena(4)
	p := arena.Alloc(patch.KindByte, ids.BdescID(1), 0, 0)
	p.Afters = append(p.Afters, ids.PatchID(2))

	err := arena.Free(p.ID)
	require.ErrorIs(t, err, patch.ErrInvariant)
}

func TestByOwnerBucketing(t *testing.T) {
	arena := patch.NewArena(4)

	a := arena.Alloc(patch.KindByte, ids.BdescID(1), 2, 0)
	b := arena.Alloc(patch.KindByte, ids.BdescID(1), 2, 0)
	_ = arena.Alloc(patch.KindByte, ids.BdescID(1), 5, 0)

	owned := arena.ByOwner(2)
	require.ElementsMatch(t, []ids.PatchID{a.ID, b.ID}, owned)
}
