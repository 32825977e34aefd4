package txn

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
)

// Frame is one level of the scope stack. Frames are pooled and reused, so
// callers never hold a *Frame beyond the callback it was passed to; the
// stable handle is *Scope.
type Frame struct {
	coord   *Coordinator
	ctx     context.Context
	gen     uint64
	depth   int
	scopeID id.ScopeID
	opened  time.Time
	outer   bool
	closing bool

	order   []Participant
	actions map[Participant]RollbackFunc
	stash   map[Participant]any
}

func newFrame(c *Coordinator) *Frame {
	return &Frame{
		coord:   c,
		actions: make(map[Participant]RollbackFunc),
		stash:   make(map[Participant]any),
	}
}

// ID returns the scope identifier, generating it on first use.
func (f *Frame) ID() id.ScopeID {
	if f.scopeID.IsNil() {
		f.scopeID = id.NewScopeID()
	}
	return f.scopeID
}

// Depth returns 0 for the outermost frame.
func (f *Frame) Depth() int { return f.depth }

// Parent returns the enclosing frame, or nil for the outermost one.
func (f *Frame) Parent() *Frame {
	if f.depth == 0 {
		return nil
	}
	return f.coord.stack[f.depth-1]
}

// Len returns the number of enlisted participants.
func (f *Frame) Len() int { return len(f.order) }

// Enlisted reports whether p is enlisted in this frame.
func (f *Frame) Enlisted(p Participant) bool {
	_, ok := f.actions[p]
	return ok
}

// Stash stores per-frame state for p. Stashed state follows the participant
// into the parent frame when a nested frame commits.
func (f *Frame) Stash(p Participant, v any) { f.stash[p] = v }

// Stashed returns the state stored by Stash.
func (f *Frame) Stashed(p Participant) (any, bool) {
	v, ok := f.stash[p]
	return v, ok
}

func (f *Frame) enlist(p Participant) error {
	if f.closing {
		return ErrScopeClosing
	}
	if _, ok := f.actions[p]; ok {
		return nil
	}
	f.actions[p] = p.PrepareRollback(f)
	f.order = append(f.order, p)
	return nil
}

// adopt takes over a participant from a committed child frame.
func (f *Frame) adopt(p Participant, act RollbackFunc, state any, hasState bool) {
	f.actions[p] = act
	f.order = append(f.order, p)
	if hasState {
		f.stash[p] = state
	}
}

func (f *Frame) reset() {
	clear(f.actions)
	clear(f.stash)
	clear(f.order)
	f.order = f.order[:0]
	f.ctx = nil
	f.scopeID = id.Nil
	f.closing = false
	f.outer = false
	f.gen++
}
