// Package main provides fstitchd, a long-running process that wires a
// patch-dependency engine to a block device and drives its periodic
// writeback tick until signaled to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/patchfs/fstitch/internal/fstitchlog"
	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/blockdev"
	"github.com/patchfs/fstitch/pkg/config"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
	"github.com/patchfs/fstitch/pkg/patchgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// flags bundles fstitchd's command-line surface.
type flags struct {
	device       string
	blockSize    int
	numBlocks    uint64
	configPath   string
	tickInterval time.Duration
	logLevel     string
}

func parseFlags(args []string, errOut *os.File) (flags, error) {
	fs := flag.NewFlagSet("fstitchd", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var f flags

	fs.StringVar(&f.device, "device", "", "path to a block-device image file (default: in-memory)")
	fs.IntVar(&f.blockSize, "blocksize", 4096, "device block size in bytes")
	fs.Uint64Var(&f.numBlocks, "numblocks", 1024, "device block count")
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a tunables config file (hujson)")
	fs.DurationVar(&f.tickInterval, "tick", 50*time.Millisecond, "writeback scheduler tick interval")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}

	return f, nil
}

func run(ctx context.Context, args []string, errOut *os.File) int {
	f, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	logger := fstitchlog.New(errOut, fstitchlog.ParseLevel(f.logLevel))

	tunables, err := config.Load(f.configPath)
	if err != nil {
		logger.Error("loading tunables", "error", err)
		return 1
	}

	d, err := newDaemon(f, tunables, logger)
	if err != nil {
		logger.Error("initializing engine", "error", err)
		return 1
	}
	defer func() {
		if closeErr := d.dev.Close(); closeErr != nil {
			logger.Warn("closing device", "error", closeErr)
		}
	}()

	logger.Info("fstitchd starting",
		"device", deviceLabel(f.device),
		"blocksize", f.blockSize,
		"numblocks", f.numBlocks,
		"tick", f.tickInterval,
		"noverlap1", tunables.NOverlap1,
		"patch_nrb", tunables.PatchNRB,
	)

	d.serve(ctx, f.tickInterval)

	logger.Info("fstitchd shut down")

	return 0
}

func deviceLabel(path string) string {
	if path == "" {
		return "memory"
	}

	return path
}

// daemon owns the engine/graph/device quadruple and the bdesc-number
// lookup Engine.Tick's write callback needs: pkg/blockdev.Device keys its
// cache by block number, but engine.Tick reports dirty work by bdesc ID.
type daemon struct {
	logger *slog.Logger

	graph *depgraph.Graph
	eng   *engine.Engine
	dev   blockdev.Device
	scope *patchgroup.Scope

	numberOf map[ids.BdescID]uint64 // bdesc ID -> block number, built while scanning
}

func newDaemon(f flags, tunables config.Tunables, logger *slog.Logger) (*daemon, error) {
	patches := patch.NewArena(tunables.NBDLevel)
	bdescs := bdesc.NewArena(tunables.NBDLevel, tunables.NBDIndex)
	pool := bdesc.NewPool(bdescs)

	graph := depgraph.New(patches, bdescs, depgraph.Config{
		NOverlap1: uint32(tunables.NOverlap1),
		PatchNRB:  tunables.PatchNRB,
	})

	eng := engine.New(graph, pool)

	devCfg := blockdev.Config{
		Arena:      bdescs,
		Engine:     eng,
		BlockSize:  f.blockSize,
		NumBlocks:  f.numBlocks,
		AtomicSize: f.blockSize,
		Level:      patch.Level(tunables.NBDLevel - 1),
		GraphIndex: tunables.NBDIndex - 1,
	}

	var dev blockdev.Device

	if f.device == "" {
		dev = blockdev.NewMemory(devCfg)
	} else {
		var err error

		dev, err = blockdev.NewFile(f.device, devCfg)
		if err != nil {
			return nil, fmt.Errorf("fstitchd: opening device: %w", err)
		}
	}

	d := &daemon{
		logger:   logger,
		graph:    graph,
		eng:      eng,
		dev:      dev,
		scope:    patchgroup.NewScope(graph),
		numberOf: make(map[ids.BdescID]uint64, f.numBlocks),
	}

	if err := d.scanDevice(f.numBlocks); err != nil {
		return nil, err
	}

	return d, nil
}

// scanDevice reads every block once so the daemon's bdesc-to-number
// lookup is populated before the first tick; a real mount path would do
// the equivalent while bringing the superstructure above this device
// online.
func (d *daemon) scanDevice(numBlocks uint64) error {
	for number := range numBlocks {
		desc, err := d.dev.ReadBlock(number)
		if err != nil {
			return fmt.Errorf("fstitchd: scanning block %d: %w", number, err)
		}

		d.numberOf[desc.ID] = number
	}

	return nil
}

// serve runs the writeback scheduler loop until ctx is canceled,
// performing one final tick and flush, then an engine shutdown, before
// returning.
func (d *daemon) serve(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.tickAndFlush()
			d.shutdownEngine()
			return
		case <-ticker.C:
			d.tickAndFlush()
		}
	}
}

// shutdownEngine drives the engine's ordered tear-down after the final
// tick/flush above has driven every outstanding revision slice to
// Acknowledge or Fail: it reclaims whatever became reclaimable some other
// way (a weak ref clearing, a patch-group release) and checks the graph's
// invariants before the process exits.
func (d *daemon) shutdownEngine() {
	if err := d.eng.Shutdown(); err != nil {
		d.logger.Error("engine shutdown", "error", err)
	}
}

func (d *daemon) tickAndFlush() {
	err := d.eng.Tick(func(id ids.BdescID) error {
		number, ok := d.numberOf[id]
		if !ok {
			return nil
		}

		return d.dev.WriteBlock(number)
	})
	if err != nil {
		d.logger.Warn("tick", "error", err)
	}

	result, err := d.dev.Flush(blockdev.FlushOptions{})
	if err != nil {
		d.logger.Warn("flush", "error", err)
		return
	}

	if result != blockdev.FlushEmpty {
		d.logger.Debug("flush", "result", flushResultLabel(result), "groups", len(d.scope.Groups()))
	}
}

func flushResultLabel(r blockdev.FlushResult) string {
	switch r {
	case blockdev.FlushSome:
		return "some"
	case blockdev.FlushNone:
		return "none"
	default:
		return "empty"
	}
}
