// Package txn provides nested transaction scopes for article stores.
//
// A Coordinator owns a stack of frames. Opening the outermost scope takes
// the coordinator's locks; scopes opened from a context that already
// carries an open scope nest without locking. Participants (stores) enlist
// themselves in the innermost scope before mutating and hand back a
// callback that either keeps or undoes their changes when the scope closes.
//
//	ctx, scope, err := coord.Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer scope.Close()
//	// ... mutate stores with ctx ...
//	return scope.Commit()
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/stockpile/id"
)

// Event describes a closed scope.
type Event struct {
	ID           id.ScopeID
	Depth        int
	Committed    bool
	Participants int
	Opened       time.Time
	Closed       time.Time
}

// Duration returns how long the scope was open.
func (e Event) Duration() time.Duration { return e.Closed.Sub(e.Opened) }

// Coordinator serializes transaction scopes.
//
// Two locks guard the stack. The inner lock is held from the outermost
// open to the outermost close. The outer lock is taken first by every
// caller except the owner (see AsOwner), so the owner waits for at most
// one foreign scope while other goroutines queue behind each other.
//
// A scope and every context derived from it belong to the goroutine that
// opened it.
type Coordinator struct {
	inner *semaphore.Weighted
	outer *semaphore.Weighted

	stack []*Frame
	pool  []*Frame

	logger   *slog.Logger
	observer func(context.Context, Event)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithObserver registers a function called after every scope closes, once
// the coordinator's locks have been released.
func WithObserver(fn func(context.Context, Event)) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		inner:  semaphore.NewWeighted(1),
		outer:  semaphore.NewWeighted(1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ──────────────────────────────────────────────────
// Context plumbing
// ──────────────────────────────────────────────────

type scopeKey struct{}

type ownerKey struct{}

// AsOwner marks ctx as the owner lane. Owner scopes skip the outer lock.
func AsOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, true)
}

// IsOwner reports whether ctx was marked with AsOwner.
func IsOwner(ctx context.Context) bool {
	v, _ := ctx.Value(ownerKey{}).(bool)
	return v
}

// FromContext returns the innermost scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Enlist enlists p in the scope carried by ctx. It reports false, with no
// error, when ctx carries no scope at all.
func Enlist(ctx context.Context, p Participant) (bool, error) {
	s := FromContext(ctx)
	if s == nil {
		return false, nil
	}
	return true, s.Enlist(p)
}

// ──────────────────────────────────────────────────
// Scopes
// ──────────────────────────────────────────────────

// Open starts a scope. If ctx carries an open scope of this coordinator the
// new scope nests inside it; otherwise Open blocks until the coordinator's
// locks are available or ctx is done.
func (c *Coordinator) Open(ctx context.Context) (context.Context, *Scope, error) {
	if parent := FromContext(ctx); parent != nil && parent.frame.coord == c && parent.IsOpen() {
		if c.top() != parent.frame {
			return ctx, nil, ErrScopeNotCurrent
		}
		return c.push(ctx, false)
	}

	owner := IsOwner(ctx)
	if !owner {
		if err := c.outer.Acquire(ctx, 1); err != nil {
			return ctx, nil, fmt.Errorf("txn: acquire outer lock: %w", err)
		}
	}
	if err := c.inner.Acquire(ctx, 1); err != nil {
		if !owner {
			c.outer.Release(1)
		}
		return ctx, nil, fmt.Errorf("txn: acquire scope lock: %w", err)
	}
	return c.push(ctx, !owner)
}

// Run opens a scope, calls fn with it and commits if fn returns nil. Any
// error or panic rolls the scope back.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, scope, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer scope.Close() //nolint:errcheck // no-op after Commit

	if err := fn(ctx); err != nil {
		return err
	}
	return scope.Commit()
}

// Depth returns the number of open scopes. Only meaningful to the
// goroutine holding the outermost scope.
func (c *Coordinator) Depth() int { return len(c.stack) }

func (c *Coordinator) top() *Frame {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

func (c *Coordinator) push(ctx context.Context, outer bool) (context.Context, *Scope, error) {
	var f *Frame
	if n := len(c.pool); n > 0 {
		f = c.pool[n-1]
		c.pool[n-1] = nil
		c.pool = c.pool[:n-1]
	} else {
		f = newFrame(c)
	}

	f.ctx = ctx
	f.depth = len(c.stack)
	f.opened = time.Now()
	f.outer = outer
	c.stack = append(c.stack, f)

	s := &Scope{frame: f, gen: f.gen}
	return context.WithValue(ctx, scopeKey{}, s), s, nil
}

func (c *Coordinator) close(s *Scope, committed bool) error {
	f, err := s.live()
	if err != nil {
		return err
	}
	if f.closing {
		return ErrScopeClosing
	}
	if c.top() != f {
		if committed {
			c.logger.Error("scope closed out of order",
				"depth", f.depth,
				"open_scopes", len(c.stack),
			)
			return ErrScopeNotCurrent
		}
		if err := c.unwindAbove(f); err != nil {
			return err
		}
	}

	ev := Event{
		Depth:        f.depth,
		Committed:    committed,
		Participants: len(f.order),
		Opened:       f.opened,
	}
	if c.observer != nil {
		ev.ID = f.ID()
	}
	ctx := f.ctx

	c.settle(f, committed)

	if c.observer != nil {
		ev.Closed = time.Now()
		c.observer(ctx, ev)
	}
	return nil
}

// unwindAbove rolls back, innermost first, the scopes a nested caller
// opened above f and never closed.
func (c *Coordinator) unwindAbove(f *Frame) error {
	for top := c.top(); top != nil && top != f; top = c.top() {
		c.logger.Error("rolling back scope left open above its parent",
			"depth", top.depth,
			"parent_depth", f.depth,
		)
		if err := c.close(&Scope{frame: top, gen: top.gen}, false); err != nil {
			return err
		}
	}
	return nil
}

// settle runs the frame's callbacks and pops it. The frame is popped and
// the locks released even if a callback panics.
func (c *Coordinator) settle(f *Frame, committed bool) {
	f.closing = true
	defer c.pop(f)

	switch {
	case committed && f.depth > 0:
		parent := c.stack[f.depth-1]
		for _, p := range f.order {
			act := f.actions[p]
			if parent.Enlisted(p) {
				act(f, true)
				continue
			}
			state, ok := f.stash[p]
			parent.adopt(p, act, state, ok)
		}
	case committed:
		for _, p := range f.order {
			f.actions[p](f, true)
		}
	default:
		for i := len(f.order) - 1; i >= 0; i-- {
			f.actions[f.order[i]](f, false)
		}
	}
}

func (c *Coordinator) pop(f *Frame) {
	depth := f.depth
	outer := f.outer

	c.stack[depth] = nil
	c.stack = c.stack[:depth]
	f.reset()
	c.pool = append(c.pool, f)

	if depth == 0 {
		c.inner.Release(1)
		if outer {
			c.outer.Release(1)
		}
		runtime.Gosched()
	}
}
