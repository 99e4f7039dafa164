package blockdev_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/blockdev"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/patch"
)

func TestFileDeviceRoundTripsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	bdescs1 := bdesc.NewArena(4, 1)
	g1 := depgraph.New(patch.NewArena(4), bdescs1, depgraph.DefaultConfig())
	e1 := engine.New(g1, bdesc.NewPool(bdescs1))

	cfg1 := blockdev.Config{Arena: bdescs1, Engine: e1, BlockSize: 8, NumBlocks: 4, AtomicSize: 8}

	dev1, err := blockdev.NewFile(path, cfg1)
	require.NoError(t, err)

	d, err := dev1.ReadBlock(0)
	require.NoError(t, err)
	_, err = g1.CreateByte(d.ID, 0, 0, 2, 1, []byte{0x7}, nil)
	require.NoError(t, err)
	require.NoError(t, dev1.WriteBlock(0))
	_, err = dev1.Flush(blockdev.FlushOptions{})
	require.NoError(t, err)
	require.NoError(t, dev1.Close())

	bdescs2 := bdesc.NewArena(4, 1)
	g2 := depgraph.New(patch.NewArena(4), bdescs2, depgraph.DefaultConfig())
	e2 := engine.New(g2, bdesc.NewPool(bdescs2))

	cfg2 := blockdev.Config{Arena: bdescs2, Engine: e2, BlockSize: 8, NumBlocks: 4, AtomicSize: 8}

	dev2, err := blockdev.NewFile(path, cfg2)
	require.NoError(t, err)
	defer dev2.Close()

	d2, err := dev2.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x7), d2.Data[2])
}

func TestFileDeviceRejectsOutOfRangeBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	bdescs := bdesc.NewArena(4, 1)
	g := depgraph.New(patch.NewArena(4), bdescs, depgraph.DefaultConfig())
	e := engine.New(g, bdesc.NewPool(bdescs))

	cfg := blockdev.Config{Arena: bdescs, Engine: e, BlockSize: 8, NumBlocks: 2, AtomicSize: 8}

	dev, err := blockdev.NewFile(path, cfg)
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.ReadBlock(5)
	require.ErrorIs(t, err, blockdev.ErrOutOfRange)
}
