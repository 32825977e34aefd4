package replica_test

import (
	"context"
	"testing"

	"github.com/xraph/stockpile/replica"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

var (
	ore   = types.ArticleOf("ore", types.Discrete, "")
	water = types.ArticleOf("water", types.Bulk, "")
)

func TestMirrorFollowsStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMultiArticleStore(types.Whole(20))
	if _, err := s.Accept(ctx, ore, types.Whole(5), 0, false); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	changes := 0
	m := replica.NewMirror(replica.WithOnChange(func(store.Event) { changes++ }))
	s.StartListening(m, true)
	if !m.Matches(s) {
		t.Fatalf("bootstrap: mirror does not match store")
	}
	if changes != 2 {
		t.Errorf("bootstrap events: got %d, want 2", changes)
	}

	c := txn.NewCoordinator()
	err := c.Run(ctx, func(ctx context.Context) error {
		if _, err := s.Accept(ctx, water, types.Of(3, 2), 0, false); err != nil {
			return err
		}
		_, err := s.Supply(ctx, ore, types.Whole(5), 0, false)
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !m.Matches(s) {
		t.Errorf("after commit: mirror does not match store")
	}
	if got := m.AmountOf(water); !got.Equal(types.Of(3, 2)) {
		t.Errorf("AmountOf(water): got %s, want 3/2", got)
	}
	if v := m.View(0); !v.IsEmpty() {
		t.Errorf("View(0): got %+v, want empty", v)
	}
	if got := len(m.Contents()); got != 1 {
		t.Errorf("Contents: got %d entries, want 1", got)
	}
}

func TestMirrorRollbackReplay(t *testing.T) {
	ctx := context.Background()
	s := store.NewMultiArticleStore(types.Whole(10))
	m := replica.NewMirror()
	s.StartListening(m, true)

	c := txn.NewCoordinator()
	ctx, scope, err := c.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Accept(ctx, ore, types.Whole(7), 0, false); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := s.SetCapacity(ctx, types.Whole(30)); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	if err := scope.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if !m.Count().IsZero() || !m.Capacity().Equal(types.Whole(10)) {
		t.Errorf("after rollback: count %s capacity %s, want 0 10", m.Count(), m.Capacity())
	}
	if !m.Matches(s) {
		t.Error("after rollback: mirror does not match store")
	}
}

func TestMirrorDisconnect(t *testing.T) {
	tests := []struct {
		name      string
		detach    func(s *store.MultiArticleStore, m *replica.Mirror)
		wantValid bool
		wantCount types.Fraction
	}{
		{"stop with final state", func(s *store.MultiArticleStore, m *replica.Mirror) { s.StopListening(m, true) }, true, types.ZeroFraction},
		{"stop without final state", func(s *store.MultiArticleStore, m *replica.Mirror) { s.StopListening(m, false) }, true, types.Whole(3)},
		{"store destroyed", func(s *store.MultiArticleStore, _ *replica.Mirror) { s.Destroy() }, false, types.Whole(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMultiArticleStore(types.Whole(10))
			if _, err := s.Accept(context.Background(), ore, types.Whole(3), 0, false); err != nil {
				t.Fatalf("Accept: %v", err)
			}
			m := replica.NewMirror()
			s.StartListening(m, true)

			tt.detach(s, m)

			if m.Attached() {
				t.Error("Attached: got true, want false")
			}
			if m.Valid() != tt.wantValid {
				t.Errorf("Valid: got %v, want %v", m.Valid(), tt.wantValid)
			}
			if !m.Count().Equal(tt.wantCount) {
				t.Errorf("Count: got %s, want %s", m.Count(), tt.wantCount)
			}

			m.Reset()
			if m.HandleCount() != 0 || !m.Valid() {
				t.Errorf("Reset: got %d handles valid=%v, want 0 true", m.HandleCount(), m.Valid())
			}
		})
	}
}

func TestMirrorOfAggregate(t *testing.T) {
	ctx := context.Background()
	c := txn.NewCoordinator()
	a := store.NewMultiArticleStore(types.Whole(4))
	b := store.NewSingleArticleStore(types.Whole(4))
	agg := store.NewAggregateStore(store.WithCoordinator(c))
	for _, s := range []store.Store{a, b} {
		if err := agg.AddMember(s); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	m := replica.NewMirror()
	agg.StartListening(m, true)
	if _, err := agg.Consumer().Apply(ctx, ore, 6, false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !m.Matches(agg) || !m.Count().Equal(types.Whole(6)) || !m.Capacity().Equal(types.Whole(8)) {
		t.Errorf("mirror: count %s capacity %s, want 6 8", m.Count(), m.Capacity())
	}
}
