package patchgroup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/patch"
	"github.com/patchfs/fstitch/pkg/patchgroup"
)

func newTestScope(t *testing.T) (*patchgroup.Scope, *depgraph.Graph, *engine.Engine, *bdesc.Descriptor, *bdesc.Descriptor) {
	t.Helper()

	bdescs := bdesc.NewArena(4, 1)
	patches := patch.NewArena(4)
	g := depgraph.New(patches, bdescs, depgraph.DefaultConfig())
	e := engine.New(g, bdesc.NewPool(bdescs))

	b1 := bdescs.Alloc(1, 8, nil)
	b2 := bdescs.Alloc(2, 8, nil)

	return patchgroup.NewScope(g), g, e, b1, b2
}

func TestCreateEngageReleaseDisengage(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{Label: "g1"})
	require.NoError(t, err)

	require.NoError(t, s.Engage(id))

	grp, err := s.Group(id)
	require.NoError(t, err)
	require.True(t, grp.Engaged())

	require.NoError(t, s.Release(id))

	grp, err = s.Group(id)
	require.NoError(t, err)
	require.True(t, grp.Released())
	require.False(t, grp.Engaged(), "release folds disengage into itself")

	require.NoError(t, s.Disengage(id), "disengaging an already-disengaged group is a no-op")
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Release(id))
	require.NoError(t, s.Release(id))
}

func TestEngageRejectedAfterRelease(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Release(id))

	err = s.Engage(id)
	require.ErrorIs(t, err, patchgroup.ErrInvalidState)
}

func TestAddDependRejectedAfterRelease(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	gA, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)
	gB, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Release(gA))

	err = s.AddDepend(gA, gB)
	require.ErrorIs(t, err, patchgroup.ErrInvalidState)
}

func TestAddDependRejectsCycle(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	gA, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)
	gB, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.AddDepend(gA, gB))

	err = s.AddDepend(gB, gA)
	require.ErrorIs(t, err, patchgroup.ErrCycle)
}

func TestAddDependSetsStickyBits(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	gA, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)
	gB, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.AddDepend(gA, gB))

	a, err := s.Group(gA)
	require.NoError(t, err)
	require.True(t, a.HasBefores())

	b, err := s.Group(gB)
	require.NoError(t, err)
	require.True(t, b.HasAfters())
}

// Scenario 5 of spec.md §8 (minus the crash-simulation half, which
// belongs to pkg/blockdev's CrashSim driver): an atomic group is not
// synced until both its commit record and every member are written.
func TestAtomicGroupSyncWaitsOnCommitAndMembers(t *testing.T) {
	s, g, e, b1, b2 := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{
		Flags:        patchgroup.FlagAtomic,
		CommitTarget: b1.ID,
		CommitOffset: 4,
		CommitBytes:  []byte{1},
	})
	require.NoError(t, err)
	require.NoError(t, s.Engage(id))

	grp, err := s.Group(id)
	require.NoError(t, err)

	head := grp.BeforeNode
	p1, err := g.CreateByte(b1.ID, 0, 0, 0, 1, []byte{0xAA}, &head)
	require.NoError(t, err)
	require.NoError(t, s.AttachMember(p1))

	head = grp.BeforeNode
	p2, err := g.CreateByte(b2.ID, 0, 0, 0, 1, []byte{0xBB}, &head)
	require.NoError(t, err)
	require.NoError(t, s.AttachMember(p2))

	require.NoError(t, s.Release(id))

	grp, err = s.Group(id)
	require.NoError(t, err)
	require.True(t, grp.Written())

	synced, err := s.IsSynced(id)
	require.NoError(t, err)
	require.False(t, synced, "neither the commit record nor the members have been written yet")

	// Block 1 carries both the commit byte and P1; acknowledging it
	// writes the commit record (P1 itself stays rolled back, since it
	// transitively depends on the not-yet-written commit byte).
	slice, err := e.RevisionSlice(b1.ID, 0)
	require.NoError(t, err)
	require.NoError(t, e.Acknowledge(slice))

	synced, err = s.IsSynced(id)
	require.NoError(t, err)
	require.False(t, synced, "P1 and P2 are still unwritten")

	slice, err = e.RevisionSlice(b1.ID, 0)
	require.NoError(t, err)
	require.NoError(t, e.Acknowledge(slice))

	slice2, err := e.RevisionSlice(b2.ID, 0)
	require.NoError(t, err)
	require.NoError(t, e.Acknowledge(slice2))

	synced, err = s.IsSynced(id)
	require.NoError(t, err)
	require.True(t, synced)
}

func TestSyncReturnsImmediatelyWhenAlreadySettled(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Sync(ctx, id, 5*time.Millisecond), "no members were ever attached, so the group is trivially synced")
}

func TestSyncRespectsContextDeadline(t *testing.T) {
	s, _, _, b1, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{
		Flags:        patchgroup.FlagAtomic,
		CommitTarget: b1.ID,
		CommitOffset: 0,
		CommitBytes:  []byte{1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Sync(ctx, id, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded, "commit record is never written in this test")
}

func TestAbandonRequiresRelease(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id, err := s.Create(patchgroup.CreateOptions{})
	require.NoError(t, err)

	err = s.Abandon(id)
	require.ErrorIs(t, err, patchgroup.ErrInvalidState)

	require.NoError(t, s.Release(id))
	require.NoError(t, s.Abandon(id))

	_, err = s.Group(id)
	require.ErrorIs(t, err, patchgroup.ErrNotFound)
}

func TestGroupsListsAllTrackedGroupsOrderedByID(t *testing.T) {
	s, _, _, _, _ := newTestScope(t)

	id1, err := s.Create(patchgroup.CreateOptions{Label: "first"})
	require.NoError(t, err)

	id2, err := s.Create(patchgroup.CreateOptions{Label: "second"})
	require.NoError(t, err)

	require.NoError(t, s.Release(id1))
	require.NoError(t, s.Abandon(id1))

	groups := s.Groups()
	require.Len(t, groups, 1, "abandoned groups drop out of the listing")
	require.Equal(t, id2, groups[0].ID)
	require.Equal(t, "second", groups[0].Label)
}
