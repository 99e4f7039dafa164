package bdesc

import (
	"fmt"

	"github.com/patchfs/fstitch/pkg/ids"
)

// Pool is the autorelease-pool stack described in spec.md §3/§4.7: a
// process-wide (here, per-Arena-user) stack of scopes. Autorelease(d)
// links d into the top scope and increments its ARCount; Pop drains
// the top scope, decrementing ARCount and RefCount together for each
// entry, in LIFO order within the scope (order does not matter for
// correctness since each entry is independent, but LIFO matches the
// teacher's scoped-drop-guard idiom).
//
// A Pool is not safe for concurrent use by itself; callers share one Pool
// per cooperative engine context, matching the single-threaded discipline
// of spec.md §5.
type Pool struct {
	arena  *Arena
	scopes [][]ids.BdescID
}

// NewPool creates a pool bound to arena, with its base scope already
// pushed (two slots pre-allocated per spec.md §4.7, mirrored here as an
// initial capacity hint rather than a hard limit).
func NewPool(arena *Arena) *Pool {
	p := &Pool{arena: arena}
	p.scopes = make([][]ids.BdescID, 0, 2)
	p.Push()

	return p
}

// Push opens a new autorelease scope.
func (p *Pool) Push() {
	p.scopes = append(p.scopes, nil)
}

// Pop drains the top scope: every descriptor autoreleased into it since
// the matching Push has its ARCount and RefCount each decremented by one,
// freeing the descriptor if both reach zero.
//
// Pop of the base scope (the one NewPool pushed) is an error: callers
// must balance every Push with exactly one Pop, and the base scope exists
// so a Pool is always usable without an explicit first Push.
func (p *Pool) Pop() error {
	if len(p.scopes) <= 1 {
		return fmt.Errorf("bdesc: pool pop without matching push: %w", ErrInvariant)
	}

	top := p.scopes[len(p.scopes)-1]
	p.scopes = p.scopes[:len(p.scopes)-1]

	p.arena.mu.Lock()
	defer p.arena.mu.Unlock()

	for i := len(top) - 1; i >= 0; i-- {
		if err := p.arena.releaseAutoreleaseLocked(top[i]); err != nil {
			return err
		}
	}

	return nil
}

// Autorelease links d into the current (topmost) scope and returns it
// unchanged, so call sites can write `return pool.Autorelease(d)`.
func (p *Pool) Autorelease(id ids.BdescID) (ids.BdescID, error) {
	p.arena.mu.Lock()
	_, err := p.arena.autoreleaseLocked(id)
	p.arena.mu.Unlock()

	if err != nil {
		return ids.NoBdesc, err
	}

	top := len(p.scopes) - 1
	p.scopes[top] = append(p.scopes[top], id)

	return id, nil
}

// Depth reports how many scopes are currently pushed, including the base
// scope. Useful for tests asserting push/pop balance.
func (p *Pool) Depth() int { return len(p.scopes) }
