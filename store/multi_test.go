package store

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

type storeState struct {
	count    types.Fraction
	capacity types.Fraction
	amounts  map[types.Article]types.Fraction
}

func stateOf(s Store, arts ...types.Article) storeState {
	st := storeState{count: s.Count(), capacity: s.Capacity(), amounts: make(map[types.Article]types.Fraction)}
	for _, a := range arts {
		st.amounts[a] = s.AmountOf(a)
	}
	return st
}

func (st storeState) equal(o storeState) bool {
	if !st.count.Equal(o.count) || !st.capacity.Equal(o.capacity) {
		return false
	}
	for a, q := range st.amounts {
		if !q.Equal(o.amounts[a]) {
			return false
		}
	}
	return true
}

func TestMultiAcceptClampsToCapacity(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		article types.Article
		limit   types.Fraction
		unit    int64
		want    types.Fraction
	}{
		{"fits", ore, types.Whole(4), 0, types.Whole(4)},
		{"clamped", ore, types.Whole(15), 0, types.Whole(10)},
		{"discrete rounds down", ore, types.Of(7, 2), 0, types.Whole(3)},
		{"bulk exact", water, types.Of(7, 3), 0, types.Of(7, 3)},
		{"bulk in halves", water, types.Of(7, 3), 2, types.Whole(2)},
		{"zero", water, types.ZeroFraction, 0, types.ZeroFraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMultiArticleStore(types.Whole(10))
			got, err := s.Accept(ctx, tt.article, tt.limit, tt.unit, false)
			if err != nil {
				t.Fatalf("Accept: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Accept: got %s, want %s", got, tt.want)
			}
			if !s.Count().Equal(tt.want) {
				t.Errorf("Count: got %s, want %s", s.Count(), tt.want)
			}
		})
	}
}

func TestMultiInvalidArguments(t *testing.T) {
	ctx := context.Background()
	s := NewMultiArticleStore(types.Whole(10))
	tests := []struct {
		name    string
		article types.Article
		limit   types.Fraction
		unit    int64
		want    error
	}{
		{"negative", ore, types.Signed(-1, 0, 1), 0, ErrNegativeQuantity},
		{"nothing", types.Nothing, types.Whole(1), 0, ErrNoArticle},
		{"bad unit", water, types.Whole(1), -1, ErrInvalidDivisor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Accept(ctx, tt.article, tt.limit, tt.unit, false); !errors.Is(err, tt.want) {
				t.Errorf("Accept: got %v, want %v", err, tt.want)
			}
			if _, err := s.Supply(ctx, tt.article, tt.limit, tt.unit, false); !errors.Is(err, tt.want) {
				t.Errorf("Supply: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMultiFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMultiArticleStore(types.Whole(10), WithFilter(func(a types.Article) bool { return a.IsDiscrete() }))
	got, err := s.Accept(ctx, water, types.Whole(1), 0, false)
	if err != nil || !got.IsZero() {
		t.Errorf("filtered accept: got (%s, %v), want (0, nil)", got, err)
	}
	mustAccept(t, ctx, s, ore, types.Whole(1))
}

func TestFunctionApply(t *testing.T) {
	ctx := context.Background()
	s := NewMultiArticleStore(types.Whole(10))

	n, err := s.Consumer().ApplyFraction(ctx, water, 7, 3, false)
	if err != nil || n != 7 {
		t.Fatalf("ApplyFraction: got (%d, %v), want (7, nil)", n, err)
	}
	if !s.AmountOf(water).Equal(types.OfWhole(2, 1, 3)) {
		t.Errorf("AmountOf: got %s, want 2 1/3", s.AmountOf(water))
	}

	n, err = s.Consumer().Apply(ctx, ore, 20, false)
	if err != nil || n != 7 {
		t.Errorf("Apply: got (%d, %v), want (7, nil)", n, err)
	}

	n, err = s.Supplier().Apply(ctx, ore, 3, false)
	if err != nil || n != 3 {
		t.Errorf("supplier Apply: got (%d, %v), want (3, nil)", n, err)
	}

	if _, err := s.Consumer().ApplyFraction(ctx, water, 1, 0, false); !errors.Is(err, ErrInvalidDivisor) {
		t.Errorf("divisor 0: got %v, want ErrInvalidDivisor", err)
	}
	if _, err := s.Consumer().Apply(ctx, ore, -1, false); !errors.Is(err, ErrNegativeQuantity) {
		t.Errorf("negative: got %v, want ErrNegativeQuantity", err)
	}

	var absent Function
	if n, err := absent.Apply(ctx, ore, 1, false); n != 0 || err != nil {
		t.Errorf("absent: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestMultiRollbackRestoresState(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, s *MultiArticleStore) error
	}{
		{"accepts and capacity increase", func(ctx context.Context, s *MultiArticleStore) error {
			if _, err := s.Accept(ctx, ore, types.Whole(2), 0, false); err != nil {
				return err
			}
			if err := s.SetCapacity(ctx, types.Whole(20)); err != nil {
				return err
			}
			_, err := s.Accept(ctx, water, types.Whole(12), 0, false)
			return err
		}},
		{"supplies and capacity decrease", func(ctx context.Context, s *MultiArticleStore) error {
			if _, err := s.Supply(ctx, ore, types.Whole(6), 0, false); err != nil {
				return err
			}
			return s.SetCapacity(ctx, types.Whole(3))
		}},
		{"mixed on one article", func(ctx context.Context, s *MultiArticleStore) error {
			for range 3 {
				if _, err := s.Supply(ctx, ore, types.Whole(8), 0, false); err != nil {
					return err
				}
				if _, err := s.Accept(ctx, ore, types.Whole(5), 0, false); err != nil {
					return err
				}
			}
			_, err := s.Accept(ctx, water, types.Of(1, 3), 0, false)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMultiArticleStore(types.Whole(10))
			mustAccept(t, context.Background(), s, ore, types.Whole(8))
			before := stateOf(s, ore, water)

			m := newMirror(t)
			s.StartListening(m, true)

			c := txn.NewCoordinator()
			ctx, scope, err := c.Open(context.Background())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if err := tt.run(ctx, s); err != nil {
				t.Fatalf("run: %v", err)
			}
			if err := scope.Rollback(); err != nil {
				t.Fatalf("Rollback: %v", err)
			}

			if after := stateOf(s, ore, water); !after.equal(before) {
				t.Errorf("state: got %+v, want %+v", after, before)
			}
			if !m.matches(s) {
				t.Errorf("mirror: %v does not match store", m.amounts)
			}
		})
	}
}

func TestMultiNestedScopes(t *testing.T) {
	c := txn.NewCoordinator()
	s := NewMultiArticleStore(types.Whole(10))

	ctx, outer, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAccept(t, ctx, s, ore, types.Whole(3))

	inner := mustOpen(t, c, ctx)
	mustAccept(t, inner.ctx, s, ore, types.Whole(2))
	if err := inner.scope.Commit(); err != nil {
		t.Fatalf("inner Commit: %v", err)
	}

	inner = mustOpen(t, c, ctx)
	mustAccept(t, inner.ctx, s, ore, types.Whole(4))
	if err := inner.scope.Rollback(); err != nil {
		t.Fatalf("inner Rollback: %v", err)
	}
	if got := s.AmountOf(ore); !got.Equal(types.Whole(5)) {
		t.Errorf("after inner rollback: got %s, want 5", got)
	}

	if err := outer.Rollback(); err != nil {
		t.Fatalf("outer Rollback: %v", err)
	}
	if !s.Count().IsZero() {
		t.Errorf("after outer rollback: got %s, want 0", s.Count())
	}
}

func TestMultiUnenlistedMutation(t *testing.T) {
	c := txn.NewCoordinator()
	s := NewMultiArticleStore(types.Whole(10))

	ctx, scope, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAccept(t, ctx, s, ore, types.Whole(1))

	if _, err := s.Accept(context.Background(), ore, types.Whole(1), 0, false); !errors.Is(err, ErrUnenlistedMutation) {
		t.Errorf("Accept without scope: got %v, want ErrUnenlistedMutation", err)
	}
	if err := s.SetCapacity(context.Background(), types.Whole(12)); !errors.Is(err, ErrUnenlistedMutation) {
		t.Errorf("SetCapacity without scope: got %v, want ErrUnenlistedMutation", err)
	}
	if err := scope.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	mustAccept(t, context.Background(), s, ore, types.Whole(1))
}

func TestMultiSetCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMultiArticleStore(types.Whole(10))
	mustAccept(t, ctx, s, ore, types.Whole(6))

	if err := s.SetCapacity(ctx, types.Whole(5)); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("below count: got %v, want ErrInvalidCapacity", err)
	}
	if err := s.SetCapacity(ctx, types.Signed(-1, 0, 1)); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("negative: got %v, want ErrInvalidCapacity", err)
	}
	if err := s.SetCapacity(ctx, types.Whole(6)); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	if got, _ := s.Accept(ctx, ore, types.Whole(1), 0, false); !got.IsZero() {
		t.Errorf("accept into full store: got %s, want 0", got)
	}
}

func TestMultiDirtyCallback(t *testing.T) {
	ctx := context.Background()
	s := NewMultiArticleStore(types.Whole(10))
	calls := 0
	s.SetDirtyCallback(func() { calls++ })

	mustAccept(t, ctx, s, ore, types.Whole(1))
	mustSupply(t, ctx, s, ore, types.Whole(1))
	if _, err := s.Accept(ctx, ore, types.Whole(1), 0, true); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if calls != 2 {
		t.Errorf("dirty calls: got %d, want 2", calls)
	}
}

type nested struct {
	ctx   context.Context
	scope *txn.Scope
}

func mustOpen(t *testing.T, c *txn.Coordinator, ctx context.Context) nested {
	t.Helper()
	ctx, scope, err := c.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return nested{ctx: ctx, scope: scope}
}
