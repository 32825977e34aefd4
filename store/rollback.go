package store

import (
	"context"

	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// rollbackStrategy is how a store undoes its changes in a scope.
type rollbackStrategy interface {
	// prepare is called on the store's first enlistment in a frame.
	prepare() txn.RollbackFunc

	// active reports whether the store is enlisted in any open frame.
	active() bool
}

// enlist enlists p in the scope carried by ctx. A context without a scope
// may only mutate a store that no open scope has touched.
func enlist(ctx context.Context, p txn.Participant, strategy rollbackStrategy) error {
	ok, err := txn.Enlist(ctx, p)
	if err != nil {
		return err
	}
	if !ok && strategy.active() {
		return ErrUnenlistedMutation
	}
	return nil
}

// ──────────────────────────────────────────────────
// Full snapshot
// ──────────────────────────────────────────────────

// snapshotRollback captures the whole store state once per frame and
// restores it on rollback. Suited to stores whose state is a few values.
type snapshotRollback[T any] struct {
	capture  func() T
	restore  func(T)
	enlisted int
}

func (s *snapshotRollback[T]) prepare() txn.RollbackFunc {
	saved := s.capture()
	s.enlisted++
	return func(_ *txn.Frame, committed bool) {
		s.enlisted--
		if !committed {
			s.restore(saved)
		}
	}
}

func (s *snapshotRollback[T]) active() bool { return s.enlisted > 0 }

// ──────────────────────────────────────────────────
// Delta journal
// ──────────────────────────────────────────────────

// journal holds the net signed change per article and of capacity made
// within one frame.
type journal struct {
	deltas   map[types.Article]types.Fraction
	order    []types.Article
	capacity types.Fraction
}

func newJournal() *journal {
	return &journal{
		deltas:   make(map[types.Article]types.Fraction),
		capacity: types.ZeroFraction,
	}
}

func (j *journal) record(a types.Article, delta types.Fraction) {
	prev, ok := j.deltas[a]
	if !ok {
		j.order = append(j.order, a)
		prev = types.ZeroFraction
	}
	j.deltas[a] = prev.Add(delta)
}

func (j *journal) merge(o *journal) {
	for _, a := range o.order {
		j.record(a, o.deltas[a])
	}
	j.capacity = j.capacity.Add(o.capacity)
}

// journalTarget applies replayed changes without journaling them. Replays
// still notify listeners.
type journalTarget interface {
	replayAdjust(a types.Article, delta types.Fraction)
	replayCapacity(delta types.Fraction)
}

// journalRollback records deltas instead of copying state, so its cost is
// proportional to what a scope changed rather than to the store size.
//
// Each enlistment swaps in a fresh journal and keeps the previous one as
// its token: committing folds the fresh journal into the previous one,
// rolling back replays it in reverse.
type journalRollback struct {
	target   journalTarget
	current  *journal
	enlisted int
}

func (r *journalRollback) prepare() txn.RollbackFunc {
	prior := r.current
	mine := newJournal()
	r.current = mine
	r.enlisted++

	return func(_ *txn.Frame, committed bool) {
		r.enlisted--
		if committed {
			if prior != nil {
				prior.merge(mine)
			}
			r.current = prior
			return
		}
		r.current = nil
		r.undo(mine)
		r.current = prior
	}
}

func (r *journalRollback) active() bool { return r.enlisted > 0 }

func (r *journalRollback) record(a types.Article, delta types.Fraction) {
	if r.current != nil {
		r.current.record(a, delta)
	}
}

func (r *journalRollback) recordCapacity(delta types.Fraction) {
	if r.current != nil {
		r.current.capacity = r.current.capacity.Add(delta)
	}
}

// undo replays j backwards in an order that never lets the count exceed
// the capacity: raise capacity, give back net accepts, restore net
// supplies, then lower capacity.
func (r *journalRollback) undo(j *journal) {
	if j.capacity.IsNegative() {
		r.target.replayCapacity(j.capacity.Neg())
	}
	for _, a := range j.order {
		if d := j.deltas[a]; d.IsPositive() {
			r.target.replayAdjust(a, d.Neg())
		}
	}
	for _, a := range j.order {
		if d := j.deltas[a]; d.IsNegative() {
			r.target.replayAdjust(a, d.Neg())
		}
	}
	if j.capacity.IsPositive() {
		r.target.replayCapacity(j.capacity.Neg())
	}
}
