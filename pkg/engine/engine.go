package engine

import (
	"fmt"
	"sync"

	"github.com/patchfs/fstitch/pkg/bdesc"
	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/ids"
)

// Engine is the explicit handle threading every engine operation instead
// of package-level globals. It owns no patches or bdescs directly; it is
// bound to a *depgraph.Graph and uses a *bdesc.Pool for the current
// autorelease scope.
type Engine struct {
	mu sync.Mutex

	graph *depgraph.Graph
	pool  *bdesc.Pool

	shuttingDown bool

	// dirty tracks bdescs with at least one ready-but-unwritten patch,
	// consulted by Tick to drive a scheduler loop (spec.md §5's "explicit
	// scheduler tick callback" suspension point).
	dirty map[ids.BdescID]struct{}
}

// New binds an Engine to graph, using pool as its autorelease stack.
func New(graph *depgraph.Graph, pool *bdesc.Pool) *Engine {
	return &Engine{
		graph: graph,
		pool:  pool,
		dirty: make(map[ids.BdescID]struct{}),
	}
}

// Graph returns the bound dependency graph, for callers (cmd/fstitchd,
// pkg/patchgroup) that need direct access alongside engine operations.
func (e *Engine) Graph() *depgraph.Graph { return e.graph }

// Pool returns the bound autorelease pool.
func (e *Engine) Pool() *bdesc.Pool { return e.pool }

// MarkDirty records that target has at least one ready patch awaiting
// write, for Tick to discover. Called by pkg/depgraph consumers (or
// cmd/fstitchd's own bookkeeping) after creating or unblocking a patch.
func (e *Engine) MarkDirty(target ids.BdescID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dirty[target] = struct{}{}
}

// Tick drains the dirty set, invoking write for each distinct bdesc that
// has had ready patches appear since the last Tick. write is expected to
// perform a full RevisionSlice/Acknowledge (or Fail) cycle; its error, if
// any, stops the drain and the corresponding bdesc is returned to the
// dirty set for the next Tick.
func (e *Engine) Tick(write func(ids.BdescID) error) error {
	e.mu.Lock()
	targets := make([]ids.BdescID, 0, len(e.dirty))

	for id := range e.dirty {
		targets = append(targets, id)
		delete(e.dirty, id)
	}

	e.mu.Unlock()

	for _, target := range targets {
		if err := write(target); err != nil {
			e.MarkDirty(target)
			return fmt.Errorf("engine: tick write of bdesc %d: %w", target, err)
		}
	}

	return nil
}

// Shutdown performs spec.md §2 component G's "ordered tear-down, reclaim
// fully-satisfied patches, verify invariants": new revision slices are
// rejected with ErrBusy from this point on, every patch that has become
// reclaimable is freed (Acknowledge only reclaims starting from the
// patches it just wrote; a patch satisfied some other way — a weak ref
// clearing, a patch-group release — may still be sitting on the arena),
// and the resulting graph is checked against the invariants a clean
// shutdown should leave intact. Callers are expected to have already
// driven every outstanding revision slice to Acknowledge or Fail before
// calling this.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	if err := e.reclaimFrom(e.graph.Patches().All()); err != nil {
		return fmt.Errorf("engine: shutdown reclaim: %w", err)
	}

	return e.verifyInvariants()
}

func (e *Engine) checkNotShuttingDown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shuttingDown {
		return fmt.Errorf("engine: shutdown in progress: %w", ErrBusy)
	}

	return nil
}
