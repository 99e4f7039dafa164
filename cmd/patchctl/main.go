// patchctl is an interactive console for operating a patch-dependency
// engine directly, without a filesystem layer above it.
//
// Usage:
//
//	patchctl [flags]                 Start the interactive REPL
//	patchctl --script <file> [flags] Run commands from file, non-interactively
//
// Flags:
//
//	--device       path to a block-device image file (default: in-memory)
//	--blocksize    device block size in bytes (default: 4096)
//	--numblocks    device block count (default: 64)
//	--config       path to a tunables config file (hujson)
//	--script       path to a command script (non-interactive mode)
//
// Commands (in REPL):
//
//	write <block> <offset> <hex>    Create a byte patch, prints patch id
//	group [label]                   Create a patch group, prints group id
//	engage <group>                  Engage a group in the scope
//	disengage <group>                Disengage a group
//	depend <groupA> <groupB>         groupA depends on groupB
//	release <group>                  Release a group
//	abandon <group>                  Abandon a released group
//	label <group> <text>             Set a group's diagnostic label
//	list                             List tracked groups
//	sync <group> [timeoutMs]         Block until a group is synced
//	tick                             Drain dirty blocks through the device
//	flush [block]                    Flush one block, or the whole device
//	read <block>                     Print a block's current bytes (hex)
//	info                             Show device geometry
//	bench <count>                    Create+tick+flush N patches, report throughput
//	help                             Show this help
//	exit / quit / q                  Exit
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/blockdev"
	"github.com/patchfs/fstitch/pkg/config"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/engine"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
	"github.com/patchfs/fstitch/pkg/patchgroup"
)

// patchOwner tags every patch this console creates, distinguishing it in
// diagnostics from patches a filesystem layer above the engine would own.
const patchOwner = 1

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("patchctl", flag.ContinueOnError)
	fs.SetOutput(errOut)

	device := fs.String("device", "", "path to a block-device image file (default: in-memory)")
	blockSize := fs.Int("blocksize", 4096, "device block size in bytes")
	numBlocks := fs.Uint64("numblocks", 64, "device block count")
	configPath := fs.StringP("config", "c", "", "path to a tunables config file (hujson)")
	script := fs.String("script", "", "run commands from this file, non-interactively, then exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	tunables, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, "error loading config:", err)
		return 1
	}

	c, err := newConsole(consoleConfig{
		device:    *device,
		blockSize: *blockSize,
		numBlocks: *numBlocks,
	}, tunables, out)
	if err != nil {
		fmt.Fprintln(errOut, "error initializing engine:", err)
		return 1
	}
	defer c.dev.Close()

	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			fmt.Fprintln(errOut, "error opening script:", err)
			return 1
		}
		defer f.Close()

		c.runScript(f)

		return 0
	}

	if err := c.runInteractive(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	return 0
}

type consoleConfig struct {
	device    string
	blockSize int
	numBlocks uint64
}

// console is the REPL's in-process world: exactly the components
// cmd/fstitchd wires, minus the writeback scheduler loop, since ticks
// here are issued by hand via the `tick` command.
type console struct {
	out io.Writer

	graph *depgraph.Graph
	eng   *engine.Engine
	dev   blockdev.Device
	scope *patchgroup.Scope

	numBlocks uint64
	numberOf  map[ids.BdescID]uint64

	liner *liner.State
}

func newConsole(cc consoleConfig, tunables config.Tunables, out io.Writer) (*console, error) {
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
		BlockSize:  cc.blockSize,
		NumBlocks:  cc.numBlocks,
		AtomicSize: cc.blockSize,
		Level:      patch.Level(tunables.NBDLevel - 1),
		GraphIndex: tunables.NBDIndex - 1,
	}

	var dev blockdev.Device

	if cc.device == "" {
		dev = blockdev.NewMemory(devCfg)
	} else {
		var err error

		dev, err = blockdev.NewFile(cc.device, devCfg)
		if err != nil {
			return nil, fmt.Errorf("patchctl: opening device: %w", err)
		}
	}

	c := &console{
		out:       out,
		graph:     graph,
		eng:       eng,
		dev:       dev,
		scope:     patchgroup.NewScope(graph),
		numBlocks: cc.numBlocks,
		numberOf:  make(map[ids.BdescID]uint64, cc.numBlocks),
	}

	for number := range cc.numBlocks {
		desc, err := dev.ReadBlock(number)
		if err != nil {
			return nil, fmt.Errorf("patchctl: scanning block %d: %w", number, err)
		}

		c.numberOf[desc.ID] = number
	}

	return c, nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".patchctl_history")
}

// runInteractive starts the liner-backed prompt loop.
func (c *console) runInteractive() error {
	c.liner = liner.NewLiner()
	defer c.liner.Close()

	c.liner.SetCtrlCAborts(true)
	c.liner.SetCompleter(c.completer)

	if f, err := os.Open(historyFile()); err == nil {
		c.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(c.out, "patchctl (blocksize=%d, numblocks=%d)\n", c.dev.BlockSize(), c.numBlocks)
	fmt.Fprintln(c.out, "Type 'help' for available commands.")
	fmt.Fprintln(c.out)

	for {
		line, err := c.liner.Prompt("patchctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out, "\nbye")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		c.liner.AppendHistory(line)

		if !c.dispatch(line) {
			c.saveHistory()
			return nil
		}
	}

	c.saveHistory()

	return nil
}

// runScript executes one command per line, echoing each before running
// it, for scripted benchmark and repro runs (patchctl --script).
func (c *console) runScript(r io.Reader) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fmt.Fprintf(c.out, "patchctl> %s\n", line)

		if !c.dispatch(line) {
			return
		}
	}
}

func (c *console) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		c.liner.WriteHistory(f)
		f.Close()
	}
}

func (c *console) completer(line string) []string {
	commands := []string{
		"write", "group", "engage", "disengage", "depend", "release",
		"abandon", "label", "list", "sync", "tick", "flush", "read",
		"info", "bench", "help", "exit", "quit", "q",
	}

	var out []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			out = append(out, cmd)
		}
	}

	return out
}

// dispatch runs one command line. Returns false if the console should
// exit.
func (c *console) dispatch(line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		fmt.Fprintln(c.out, "bye")
		return false

	case "help", "?":
		c.printHelp()

	case "write":
		c.cmdWrite(args)

	case "group":
		c.cmdGroup(args)

	case "engage":
		c.cmdEngage(args)

	case "disengage":
		c.cmdDisengage(args)

	case "depend":
		c.cmdDepend(args)

	case "release":
		c.cmdRelease(args)

	case "abandon":
		c.cmdAbandon(args)

	case "label":
		c.cmdLabel(args)

	case "list":
		c.cmdList()

	case "sync":
		c.cmdSync(args)

	case "tick":
		c.cmdTick()

	case "flush":
		c.cmdFlush(args)

	case "read":
		c.cmdRead(args)

	case "info":
		c.cmdInfo()

	case "bench":
		c.cmdBench(args)

	default:
		fmt.Fprintf(c.out, "unknown command: %s (type 'help' for commands)\n", cmd)
	}

	return true
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  write <block> <offset> <hex>    Create a byte patch, prints patch id")
	fmt.Fprintln(c.out, "  group [label]                   Create a patch group, prints group id")
	fmt.Fprintln(c.out, "  engage <group>                  Engage a group in the scope")
	fmt.Fprintln(c.out, "  disengage <group>               Disengage a group")
	fmt.Fprintln(c.out, "  depend <groupA> <groupB>        groupA depends on groupB")
	fmt.Fprintln(c.out, "  release <group>                 Release a group")
	fmt.Fprintln(c.out, "  abandon <group>                 Abandon a released group")
	fmt.Fprintln(c.out, "  label <group> <text>            Set a group's diagnostic label")
	fmt.Fprintln(c.out, "  list                            List tracked groups")
	fmt.Fprintln(c.out, "  sync <group> [timeoutMs]        Block until a group is synced")
	fmt.Fprintln(c.out, "  tick                            Drain dirty blocks through the device")
	fmt.Fprintln(c.out, "  flush [block]                   Flush one block, or the whole device")
	fmt.Fprintln(c.out, "  read <block>                    Print a block's current bytes (hex)")
	fmt.Fprintln(c.out, "  info                            Show device geometry")
	fmt.Fprintln(c.out, "  bench <count>                   Create+tick+flush N patches, report throughput")
	fmt.Fprintln(c.out, "  help                            Show this help")
	fmt.Fprintln(c.out, "  exit / quit / q                 Exit")
}

func (c *console) cmdWrite(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "usage: write <block> <offset> <hex>")
		return
	}

	block, offset, data, err := c.parseWriteArgs(args)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	desc, err := c.dev.ReadBlock(block)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	head := c.dev.WriteHead()

	pid, err := c.graph.CreateByte(desc.ID, patchOwner, c.dev.Level(), offset, len(data), data, head, c.scope.EngagedBefores()...)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	if err := c.scope.AttachMember(pid); err != nil {
		fmt.Fprintln(c.out, "error attaching to engaged group:", err)
		return
	}

	c.eng.MarkDirty(desc.ID)

	fmt.Fprintf(c.out, "patch %d\n", pid)
}

func (c *console) parseWriteArgs(args []string) (block uint64, offset int, data []byte, err error) {
	block, err = strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid block %q: %w", args[0], err)
	}

	offset64, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid offset %q: %w", args[1], err)
	}

	data, err = hex.DecodeString(args[2])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid hex %q: %w", args[2], err)
	}

	return block, int(offset64), data, nil
}

func (c *console) cmdGroup(args []string) {
	label := ""
	if len(args) > 0 {
		label = strings.Join(args, " ")
	}

	id, err := c.scope.Create(patchgroup.CreateOptions{Label: label, Level: c.dev.Level()})
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	fmt.Fprintf(c.out, "group %d\n", id)
}

func (c *console) cmdEngage(args []string) {
	id, ok := c.parseGroupID(args)
	if !ok {
		return
	}

	if err := c.scope.Engage(id); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdDisengage(args []string) {
	id, ok := c.parseGroupID(args)
	if !ok {
		return
	}

	if err := c.scope.Disengage(id); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdDepend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "usage: depend <groupA> <groupB>")
		return
	}

	a, err := parseGroupIDArg(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	b, err := parseGroupIDArg(args[1])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	if err := c.scope.AddDepend(a, b); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdRelease(args []string) {
	id, ok := c.parseGroupID(args)
	if !ok {
		return
	}

	if err := c.scope.Release(id); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdAbandon(args []string) {
	id, ok := c.parseGroupID(args)
	if !ok {
		return
	}

	if err := c.scope.Abandon(id); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdLabel(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "usage: label <group> <text>")
		return
	}

	id, err := parseGroupIDArg(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	if err := c.scope.Label(id, strings.Join(args[1:], " ")); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdList() {
	groups := c.scope.Groups()
	if len(groups) == 0 {
		fmt.Fprintln(c.out, "(no tracked groups)")
		return
	}

	for _, g := range groups {
		fmt.Fprintf(c.out, "%4d  engaged=%-5v released=%-5v written=%-5v label=%q\n",
			g.ID, g.Engaged(), g.Released(), g.Written(), g.Label)
	}
}

func (c *console) cmdSync(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: sync <group> [timeoutMs]")
		return
	}

	id, err := parseGroupIDArg(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	timeout := 2 * time.Second

	if len(args) > 1 {
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.scope.Sync(ctx, id, time.Millisecond); err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	fmt.Fprintln(c.out, "synced")
}

func (c *console) cmdTick() {
	err := c.eng.Tick(func(id ids.BdescID) error {
		number, ok := c.numberOf[id]
		if !ok {
			return nil
		}

		return c.dev.WriteBlock(number)
	})
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func (c *console) cmdFlush(args []string) {
	opts := blockdev.FlushOptions{}

	if len(args) > 0 {
		number, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		opts.Number = &number
	}

	result, err := c.dev.Flush(opts)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	fmt.Fprintln(c.out, flushResultLabel(result))
}

func (c *console) cmdRead(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: read <block>")
		return
	}

	number, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	desc, err := c.dev.ReadBlock(number)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	fmt.Fprintln(c.out, hex.EncodeToString(desc.Data))
}

func (c *console) cmdInfo() {
	fmt.Fprintf(c.out, "blocksize=%d numblocks=%d atomicsize=%d level=%d graphindex=%d blockspace=%d\n",
		c.dev.BlockSize(), c.dev.NumBlocks(), c.dev.AtomicSize(), c.dev.Level(), c.dev.GraphIndex(), c.dev.BlockSpace())
}

// cmdBench creates count single-byte patches spread across the device,
// wired under one engaged group, then ticks and flushes until the group
// syncs, reporting throughput. Grounded on the same create-then-measure
// shape as the reference REPL's own bench command, adapted from
// key/value puts to patch creation and writeback.
func (c *console) cmdBench(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: bench <count>")
		return
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Fprintln(c.out, "error: count must be a positive integer")
		return
	}

	groupID, err := c.scope.Create(patchgroup.CreateOptions{Label: "bench", Level: c.dev.Level()})
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	if err := c.scope.Engage(groupID); err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	fmt.Fprintf(c.out, "creating %d patches...\n", count)

	createStart := time.Now()

	for i := range count {
		number := uint64(i) % c.numBlocks

		desc, err := c.dev.ReadBlock(number)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		offset := rand.IntN(max(1, desc.Length-1))
		data := []byte{byte(i)}

		pid, err := c.graph.CreateByte(desc.ID, patchOwner, c.dev.Level(), offset, len(data), data, nil, c.scope.EngagedBefores()...)
		if err != nil {
			fmt.Fprintln(c.out, "error at patch", i, ":", err)
			return
		}

		if err := c.scope.AttachMember(pid); err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		c.eng.MarkDirty(desc.ID)
	}

	createElapsed := time.Since(createStart)

	if err := c.scope.Release(groupID); err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}

	writebackStart := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		if err := c.eng.Tick(func(id ids.BdescID) error {
			number, ok := c.numberOf[id]
			if !ok {
				return nil
			}

			return c.dev.WriteBlock(number)
		}); err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		if _, err := c.dev.Flush(blockdev.FlushOptions{}); err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		synced, err := c.scope.IsSynced(groupID)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}

		if synced {
			break
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "error: timed out waiting for writeback")
			return
		case <-time.After(time.Millisecond):
		}
	}

	writebackElapsed := time.Since(writebackStart)

	fmt.Fprintf(c.out, "created %d patches in %v (%.0f ops/sec)\n",
		count, createElapsed.Round(time.Millisecond), float64(count)/createElapsed.Seconds())
	fmt.Fprintf(c.out, "synced writeback in %v\n", writebackElapsed.Round(time.Millisecond))
}

func (c *console) parseGroupID(args []string) (ids.GroupID, bool) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: <command> <group>")
		return 0, false
	}

	id, err := parseGroupIDArg(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return 0, false
	}

	return id, true
}

func parseGroupIDArg(s string) (ids.GroupID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q: %w", s, err)
	}

	return ids.GroupID(n), nil
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
