package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/blockdev"
	"github.com/patchfs/fstitch/pkg/patch"
)

func TestChaosWriteFailureLeavesPatchUnwritten(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev, chaos := blockdev.NewChaosMemory(cfg, blockdev.ChaosConfig{WriteFailRate: 1.0})

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)

	p, err := g.CreateByte(d.ID, 0, 0, 0, 1, []byte{0x5}, nil)
	require.NoError(t, err)

	err = dev.WriteBlock(0)
	require.Error(t, err)
	require.True(t, blockdev.IsChaosErr(err))

	patchState, err := g.Patches().Get(p)
	require.NoError(t, err)
	require.False(t, patchState.Written(), "a failed write must not mark the patch written")

	require.Equal(t, int64(1), chaos.Stats().WriteFails)
}

func TestChaosNoOpModePassesThrough(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev, chaos := blockdev.NewChaosMemory(cfg, blockdev.ChaosConfig{WriteFailRate: 1.0})
	chaos.SetMode(blockdev.ChaosModeNoOp)

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)

	p, err := g.CreateByte(d.ID, 0, 0, 0, 1, []byte{0x5}, nil)
	require.NoError(t, err)

	require.NoError(t, dev.WriteBlock(0))

	_, err = g.Patches().Get(p)
	require.ErrorIs(t, err, patch.ErrNotFound, "the write went through and the written, after-less patch was reclaimed")
	require.Equal(t, int64(0), chaos.Stats().WriteFails)
}

func TestChaosPartialWriteTruncatesSilently(t *testing.T) {
	cfg, g, _ := newTestConfig(t)
	dev, chaos := blockdev.NewChaosMemory(cfg, blockdev.ChaosConfig{PartialWriteRate: 1.0})

	d, err := dev.ReadBlock(0)
	require.NoError(t, err)

	_, err = g.CreateByte(d.ID, 0, 0, 0, 4, []byte{1, 2, 3, 4}, nil)
	require.NoError(t, err)

	require.NoError(t, dev.WriteBlock(0), "a partial write is not itself an error")
	require.Equal(t, int64(1), chaos.Stats().PartialWrites)
}
