package patchgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patchfs/fstitch/pkg/depgraph"
	"github.com/patchfs/fstitch/pkg/ids"
	"github.com/patchfs/fstitch/pkg/patch"
)

// CreateOptions configures a new group. CommitTarget/Offset/Bytes are
// required when Flags.Atomic() is set: they describe the commit record
// the group's member patches are wired to depend on, so none of them can
// reach disk before the commit record does (spec.md §4.6).
type CreateOptions struct {
	Flags Flags
	Label string
	Level patch.Level

	CommitTarget ids.BdescID
	CommitOffset int
	CommitBytes  []byte
}

// Scope is the engagement scope of spec.md §4.6: it tracks which groups
// are engaged. Engagement is not applied to new patches automatically:
// the graph's Create* calls know nothing of the scope, so a caller
// creating a patch while groups are engaged passes EngagedBefores to
// CreateByte's moreBefores and then calls AttachMember itself.
type Scope struct {
	mu    sync.Mutex
	graph *depgraph.Graph

	next   ids.GroupID
	groups map[ids.GroupID]*Group

	engaged []ids.GroupID
}

// NewScope binds a Scope to a graph.
func NewScope(graph *depgraph.Graph) *Scope {
	return &Scope{graph: graph, groups: make(map[ids.GroupID]*Group)}
}

// Create allocates a group with two empty patches and, for atomic groups,
// a commit patch every member will be wired to depend on.
func (s *Scope) Create(opts CreateOptions) (ids.GroupID, error) {
	var commitID ids.PatchID = ids.NoPatch

	if opts.Flags.Atomic() {
		var err error

		commitID, err = s.graph.CreateByte(opts.CommitTarget, -1, opts.Level, opts.CommitOffset, len(opts.CommitBytes), opts.CommitBytes, nil)
		if err != nil {
			return ids.NoGroup, err
		}
	}

	// Every member patch gains a before-edge to beforeID (while engaged);
	// chaining beforeID itself onto commitID at creation — rather than
	// via a later AddDepend — means beforeID is never briefly ready with
	// no commit dependency at all, which would let an equal-level member
	// created in that window treat it as already satisfied.
	var beforeID ids.PatchID
	var err error

	if commitID != ids.NoPatch {
		beforeID, err = s.graph.CreateEmptyArray(-1, opts.Level, nil, []ids.PatchID{commitID})
	} else {
		beforeID, err = s.graph.CreateEmpty(-1, opts.Level, nil)
	}

	if err != nil {
		return ids.NoGroup, err
	}

	afterID, err := s.graph.CreateEmpty(-1, opts.Level, nil, beforeID)
	if err != nil {
		return ids.NoGroup, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := s.next

	s.groups[id] = &Group{
		ID:         id,
		Flags:      opts.Flags,
		Label:      opts.Label,
		BeforeNode: beforeID,
		AfterNode:  afterID,
		CommitNode: commitID,
	}

	return id, nil
}

func (s *Scope) get(id ids.GroupID) (*Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("patchgroup: group %d: %w", id, ErrNotFound)
	}

	return g, nil
}

// Engage pushes g onto the scope's engaged list. Rejected if g is
// released; re-engaging an already-engaged group is a no-op.
func (s *Scope) Engage(id ids.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(id)
	if err != nil {
		return err
	}

	if g.released {
		return fmt.Errorf("patchgroup: cannot engage released group %d: %w", id, ErrInvalidState)
	}

	if g.engaged {
		return nil
	}

	g.engaged = true
	s.engaged = append(s.engaged, id)

	return nil
}

// Disengage removes g from the scope's engaged list. A no-op if g is not
// currently engaged.
func (s *Scope) Disengage(id ids.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disengageLocked(id)
}

func (s *Scope) disengageLocked(id ids.GroupID) error {
	g, err := s.get(id)
	if err != nil {
		return err
	}

	if !g.engaged {
		return nil
	}

	g.engaged = false

	for i, e := range s.engaged {
		if e == id {
			s.engaged = append(s.engaged[:i], s.engaged[i+1:]...)
			break
		}
	}

	return nil
}

// EngagedBefores returns the BeforeNode of every group currently engaged
// in the scope, for callers that create a patch through this scope: pass
// them as CreateByte's moreBefores (or CreateEmpty's befores) so the new
// patch is chained to each of them at creation. Call AttachMember with the
// new patch's id afterward.
func (s *Scope) EngagedBefores() []ids.PatchID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ids.PatchID, 0, len(s.engaged))

	for _, id := range s.engaged {
		out = append(out, s.groups[id].BeforeNode)
	}

	return out
}

// AttachMember wires a newly created patch into every group currently
// engaged in the scope: the group's AfterNode gains a before-edge to
// member, so Sync(g) will wait on it, and the group's sticky W bit is
// set. Call once per patch created while one or more groups are engaged,
// after chaining it to EngagedBefores.
func (s *Scope) AttachMember(member ids.PatchID) error {
	s.mu.Lock()
	engaged := append([]ids.GroupID(nil), s.engaged...)
	for _, id := range engaged {
		s.groups[id].written = true
	}
	s.mu.Unlock()

	for _, id := range engaged {
		s.mu.Lock()
		afterNode := s.groups[id].AfterNode
		s.mu.Unlock()

		if err := s.graph.AddDepend(afterNode, member); err != nil {
			return err
		}
	}

	return nil
}

// AddDepend adds the edge gA.BeforeNode -> gB.AfterNode: gA may not reach
// disk until gB has. Rejected with ErrInvalidState if gA is released
// ("release marks g immutable w.r.t. new befores", spec.md §4.6).
// Rejected with ErrCycle if the edge would close a loop; depgraph.AddDepend
// already performs that check over the whole patch graph, which is
// sufficient since BeforeNode/AfterNode are ordinary patches in it.
func (s *Scope) AddDepend(gA, gB ids.GroupID) error {
	s.mu.Lock()

	a, err := s.get(gA)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	b, err := s.get(gB)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if a.released {
		s.mu.Unlock()
		return fmt.Errorf("patchgroup: cannot add a before to released group %d: %w", gA, ErrInvalidState)
	}

	s.mu.Unlock()

	if err := s.graph.AddDepend(a.BeforeNode, b.AfterNode); err != nil {
		if errors.Is(err, depgraph.ErrCycle) {
			return fmt.Errorf("patchgroup: group %d depends on %d: %w", gA, gB, ErrCycle)
		}

		return err
	}

	s.mu.Lock()
	a.hasBefores = true
	b.hasAfters = true
	s.mu.Unlock()

	return nil
}

// Release marks g immutable w.r.t. new befores. If g is currently
// engaged, Release first disengages it: the header this is grounded on
// states "release iff !engaged", and folding disengage into release lets
// both call orders in spec.md §8 scenario 5 ("release and disengage")
// type-check (see DESIGN.md Open Question 3). Idempotent: releasing an
// already-released group is a no-op.
func (s *Scope) Release(id ids.GroupID) error {
	s.mu.Lock()
	g, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if g.released {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.disengageWithLock(id); err != nil {
		return err
	}

	s.mu.Lock()
	g.released = true
	s.mu.Unlock()

	return nil
}

func (s *Scope) disengageWithLock(id ids.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disengageLocked(id)
}

// Abandon detaches g from the scope's bookkeeping. Rejected unless g has
// been released. The underlying patches are reclaimed by pkg/engine's
// cascading reclamation once every member is written and has no afters;
// Abandon only stops the scope from tracking g.
func (s *Scope) Abandon(id ids.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(id)
	if err != nil {
		return err
	}

	if !g.released {
		return fmt.Errorf("patchgroup: cannot abandon unreleased group %d: %w", id, ErrInvalidState)
	}

	for i, e := range s.engaged {
		if e == id {
			s.engaged = append(s.engaged[:i], s.engaged[i+1:]...)
			break
		}
	}

	delete(s.groups, id)

	return nil
}

// Label sets g's diagnostic label.
func (s *Scope) Label(id ids.GroupID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(id)
	if err != nil {
		return err
	}

	g.Label = label

	return nil
}

// Groups returns a snapshot copy of every group still tracked by the
// scope (released-but-not-abandoned groups included), ordered by ID, for
// cmd/patchctl's `list` command.
func (s *Scope) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Group, 0, len(s.groups))

	for id := ids.GroupID(1); id <= s.next; id++ {
		if g, ok := s.groups[id]; ok {
			out = append(out, *g)
		}
	}

	return out
}

// Group returns a snapshot copy of g's bookkeeping fields, for inspection
// (cmd/patchctl's `list` command and tests).
func (s *Scope) Group(id ids.GroupID) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(id)
	if err != nil {
		return Group{}, err
	}

	return *g, nil
}

// IsSynced reports whether every patch reachable from g.AfterNode through
// Befores is settled: a non-empty patch must be Written; an empty patch
// is transparent and only its own Befores are checked (empty patches are
// reclaimed on "no afters", not on a written flag they never carry — see
// patch.Patch.Reclaimable).
func (s *Scope) IsSynced(id ids.GroupID) (bool, error) {
	s.mu.Lock()
	g, err := s.get(id)
	s.mu.Unlock()

	if err != nil {
		return false, err
	}

	arena := s.graph.Patches()

	visited := map[ids.PatchID]bool{g.AfterNode: true}
	queue := []ids.PatchID{g.AfterNode}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		p, err := arena.Get(cur)
		if err != nil {
			// Already reclaimed: it was written and had no afters, which
			// is itself a satisfied state for sync purposes.
			continue
		}

		if p.Kind != patch.KindEmpty && !p.Written() {
			return false, nil
		}

		for _, b := range p.Befores {
			if !visited[b] {
				visited[b] = true
				queue = append(queue, b)
			}
		}
	}

	return true, nil
}

// Sync blocks cooperatively until g is synced or ctx is done, polling at
// the given interval (spec.md §4.6: "blocks (cooperatively) until every
// patch reachable from g.after_node is WRITTEN").
func (s *Scope) Sync(ctx context.Context, id ids.GroupID, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		done, err := s.IsSynced(id)
		if err != nil {
			return err
		}

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
