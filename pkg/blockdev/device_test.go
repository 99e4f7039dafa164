package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/blockdev"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

func newTestConfig(t *testing.T) (blockdev.Config, *depgraph.Graph, *engine.Engine) {
	t.Helper()

	bdescs := bdesc.NewArena(4, 1)
	patches := patch.NewArena(4)
	g := depgraph.New(patches, bdescs, depgraph.DefaultConfig())
	e := engine.New(g, bdesc.NewPool(bdescs))

	cfg := blockdev.Config{
		Arena:      bdescs,
		Engine:     e,
		BlockSize:  8,
		NumBlocks:  4,
		AtomicSize: 8,
		Level:      0,
		GraphIndex: 0,
	}

	return cfg, g, e
}

func TestReadBlockZeroFilledInitially(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), d.Data)
}

func TestWriteBlockPersistsAcknowledgedBytes(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)

	_, err = g.CreateByte(d.ID, 0, 0, 0, 1, []byte{0x42}, nil)
	require.NoError(t, err)

	require.NoError(t, dev.WriteBlock(0))

	d2, err := dev.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), d2.Data[0])
}

func TestSyntheticReadBlockSkipsStoreRead(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev, chaos := blockdev.NewChaosMemory(cfg, blockdev.ChaosConfig{ReadFailRate: 1.0})

	_, err := dev.ReadBlock(1)
	require.Error(t, err, "every real read is made to fail")
	require.True(t, blockdev.IsChaosErr(err))

	d, err := dev.SyntheticReadBlock(2)
	require.NoError(t, err, "synthetic reads never touch the store")
	require.Equal(t, make([]byte, 8), d.Data)

	require.Equal(t, int64(1), chaos.Stats().ReadFails)
}

func TestFlushWholeDeviceReportsEmptyThenSome(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	res, err := dev.Flush(blockdev.FlushOptions{})
	require.NoError(t, err)
	require.Equal(t, blockdev.FlushEmpty, res)

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)
	_, err = g.CreateByte(d.ID, 0, 0, 0, 1, []byte{0x01}, nil)
	require.NoError(t, err)

	res, err = dev.Flush(blockdev.FlushOptions{})
	require.NoError(t, err)
	require.Equal(t, blockdev.FlushSome, res)

	res, err = dev.Flush(blockdev.FlushOptions{})
	require.NoError(t, err)
	require.Equal(t, blockdev.FlushEmpty, res, "nothing left dirty after the previous flush")
}

func TestFlushByPatchTargetsThatPatchsBlock(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	d, err := dev.ReadBlock(1)
	require.NoError(t, err)

	p, err := g.CreateByte(d.ID, 0, 0, 0, 1, []byte{0x9}, nil)
	require.NoError(t, err)

	res, err := dev.Flush(blockdev.FlushOptions{Patch: p, HasPatch: true})
	require.NoError(t, err)
	require.Equal(t, blockdev.FlushSome, res)
}

func TestOutOfRangeBlockRejected(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	_, err := dev.ReadBlock(cfg.NumBlocks)
	require.ErrorIs(t, err, blockdev.ErrOutOfRange)
}

func TestClosedDeviceRejectsReadsAndWrites(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	require.NoError(t, dev.Close())

	_, err := dev.ReadBlock(0)
	require.ErrorIs(t, err, blockdev.ErrClosed)

	err = dev.WriteBlock(0)
	require.ErrorIs(t, err, blockdev.ErrClosed)
}

func TestWriteHeadIsStableAcrossCalls(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	h1 := dev.WriteHead()
	h2 := dev.WriteHead()
	require.Same(t, h1, h2)
	require.Equal(t, ids.NoPatch, *h1)
}

func TestBlockSpaceShrinksAsBlocksAreCached(t *testing.T) {
	cfg, _, _ := newTestConfig(t)
	dev := blockdev.NewMemory(cfg)

	initial := dev.BlockSpace()
	_, err := dev.ReadBlock(0)
	require.NoError(t, err)

	require.Equal(t, initial-1, dev.BlockSpace())
}
