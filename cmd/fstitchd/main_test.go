package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRunShutsDownCleanlyOnCancel covers the gap a maintainer review
// flagged: serve's loop used to return on context cancellation without
// ever calling the engine's Shutdown. A pre-canceled context drives run
// straight through one tickAndFlush/shutdownEngine pass and back out.
func TestRunShutsDownCleanlyOnCancel(t *testing.T) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer devNull.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := run(ctx, []string{"--numblocks", "4", "--blocksize", "64"}, devNull)
	require.Equal(t, 0, code)
}
