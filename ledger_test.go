package stockpile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/replica"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/state/memory"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

var (
	ore   = types.NewArticleType("iron_ore", types.Discrete).Article()
	water = types.NewArticleType("water", types.Bulk).Article()
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T, repo state.Repository, opts ...stockpile.Option) *stockpile.Ledger {
	t.Helper()
	opts = append([]stockpile.Option{
		stockpile.WithLogger(quietLogger()),
		stockpile.WithFlushConfig(100, time.Hour),
	}, opts...)
	return stockpile.New(repo, opts...)
}

func fill(t *testing.T, s store.Store, a types.Article, q types.Fraction) {
	t.Helper()
	got, err := s.Accept(context.Background(), a, q, 0, false)
	if err != nil {
		t.Fatalf("fill %s: %v", a, err)
	}
	if !got.Equal(q) {
		t.Fatalf("fill %s: accepted %s, want %s", a, got, q)
	}
}

// events records plugin hook calls.
type events struct {
	mu       sync.Mutex
	scopes   []txn.Event
	flushed  int
	restored []int64
	moved    []types.Fraction
	stores   []string
}

func (e *events) Name() string { return "events" }

func (e *events) OnScopeClosed(_ context.Context, ev txn.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scopes = append(e.scopes, ev)
	return nil
}

func (e *events) OnStateFlushed(_ context.Context, count int, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed += count
	return nil
}

func (e *events) OnStateRestored(_ context.Context, _ id.StoreID, version int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored = append(e.restored, version)
	return nil
}

func (e *events) OnTransfer(_ context.Context, _, _ id.StoreID, _ types.Article, moved types.Fraction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.moved = append(e.moved, moved)
	return nil
}

func (e *events) OnStoreRegistered(_ context.Context, _ id.StoreID, kind string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stores = append(e.stores, kind)
	return nil
}

func TestRegisterAndRestore(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	storeID := id.NewStoreID()

	first := newLedger(t, repo)
	chest := store.NewMultiArticleStore(types.Whole(32), store.WithID(storeID))
	if err := first.Register(ctx, chest); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fill(t, chest, ore, types.Whole(7))
	fill(t, chest, water, types.Of(5, 2))

	if got := first.Dirty(); got != 1 {
		t.Errorf("dirty: got %d, want 1", got)
	}
	n, err := first.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 {
		t.Errorf("flushed: got %d, want 1", n)
	}
	if n, _ := first.Flush(ctx); n != 0 {
		t.Errorf("second flush: got %d, want 0", n)
	}

	rec, err := repo.LoadState(ctx, storeID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec.Version != 1 || rec.Kind != store.StateKindMulti {
		t.Errorf("record: got version %d kind %q, want 1 %q", rec.Version, rec.Kind, store.StateKindMulti)
	}

	ev := &events{}
	second := newLedger(t, repo, stockpile.WithPlugin(ev))
	restored := store.NewMultiArticleStore(types.Whole(1), store.WithID(storeID))
	if err := second.Register(ctx, restored); err != nil {
		t.Fatalf("Register restored: %v", err)
	}
	if got := restored.AmountOf(water); !got.Equal(types.Of(5, 2)) {
		t.Errorf("restored water: got %s, want 5/2", got)
	}
	if got := restored.Capacity(); !got.Equal(types.Whole(32)) {
		t.Errorf("restored capacity: got %s, want 32", got)
	}
	if second.Dirty() != 0 {
		t.Error("restoring marked the store dirty")
	}
	if len(ev.restored) != 1 || ev.restored[0] != 1 {
		t.Errorf("OnStateRestored: got %v, want [1]", ev.restored)
	}

	fill(t, restored, ore, types.Whole(1))
	if _, err := second.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rec, _ = repo.LoadState(ctx, storeID)
	if rec.Version != 2 || rec.Count != "10 1/2" {
		t.Errorf("record: got version %d count %q, want 2 %q", rec.Version, rec.Count, "10 1/2")
	}
}

func TestRegisterRejects(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())

	s := store.NewSingleArticleStore(types.Whole(1))
	if err := l.Register(ctx, s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sctx, scope, err := l.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	inScope := l.Register(sctx, store.NewSingleArticleStore(types.Whole(1)))
	_ = scope.Close()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate", l.Register(ctx, s), stockpile.ErrStoreExists},
		{"aggregate", l.Register(ctx, l.NewAggregate()), stockpile.ErrNotPersistent},
		{"inside scope", inScope, stockpile.ErrScopeOpen},
		{"nil store", l.Register(ctx, nil), stockpile.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("got %v, want %v", tt.err, tt.want)
			}
		})
	}

	if !stockpile.IsUnsupported(l.Register(ctx, l.NewAggregate())) {
		t.Error("IsUnsupported: aggregate registration not reported as unsupported")
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	l := newLedger(t, repo)

	kept := store.NewMultiArticleStore(types.Whole(10))
	purged := store.NewMultiArticleStore(types.Whole(10))
	for _, s := range []store.Store{kept, purged} {
		if err := l.Register(ctx, s); err != nil {
			t.Fatalf("Register: %v", err)
		}
		fill(t, s, ore, types.Whole(2))
	}
	if _, err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	fill(t, kept, ore, types.Whole(3))

	if err := l.Unregister(ctx, kept.ID(), false); err != nil {
		t.Fatalf("Unregister kept: %v", err)
	}
	if err := l.Unregister(ctx, purged.ID(), true); err != nil {
		t.Fatalf("Unregister purged: %v", err)
	}

	rec, err := repo.LoadState(ctx, kept.ID())
	if err != nil {
		t.Fatalf("kept record: %v", err)
	}
	if rec.Count != "5" {
		t.Errorf("kept record count: got %q, want %q", rec.Count, "5")
	}
	if _, err := repo.LoadState(ctx, purged.ID()); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("purged record: got %v, want ErrNotFound", err)
	}

	if _, err := l.Store(kept.ID()); !stockpile.IsNotFound(err) {
		t.Errorf("Store after unregister: got %v, want not found", err)
	}
	if err := l.Unregister(ctx, kept.ID(), false); !errors.Is(err, stockpile.ErrStoreNotRegistered) {
		t.Errorf("second Unregister: got %v, want ErrStoreNotRegistered", err)
	}

	fill(t, kept, ore, types.Whole(1))
	if got := l.Dirty(); got != 0 {
		t.Errorf("dirty after unregister: got %d, want 0", got)
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	l := newLedger(t, memory.New(), stockpile.WithPlugin(ev))

	tests := []struct {
		name      string
		have      int64
		room      int64
		ask       int64
		wantMoved int64
	}{
		{"all requested", 10, 20, 6, 6},
		{"limited by supply", 4, 20, 6, 4},
		{"limited by room", 10, 3, 6, 3},
		{"nothing held", 0, 20, 6, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := store.NewMultiArticleStore(types.Whole(20))
			to := store.NewSingleArticleStore(types.Whole(tt.room))
			if tt.have > 0 {
				fill(t, from, ore, types.Whole(tt.have))
			}

			moved, err := l.Transfer(ctx, from, to, ore, types.Whole(tt.ask))
			if err != nil {
				t.Fatalf("Transfer: %v", err)
			}
			if !moved.Equal(types.Whole(tt.wantMoved)) {
				t.Errorf("moved: got %s, want %d", moved, tt.wantMoved)
			}
			if got := from.AmountOf(ore); !got.Equal(types.Whole(tt.have - tt.wantMoved)) {
				t.Errorf("from: got %s, want %d", got, tt.have-tt.wantMoved)
			}
			if got := to.AmountOf(ore); !got.Equal(types.Whole(tt.wantMoved)) {
				t.Errorf("to: got %s, want %d", got, tt.wantMoved)
			}
		})
	}

	if len(ev.moved) != 3 {
		t.Errorf("OnTransfer calls: got %d, want 3", len(ev.moved))
	}

	s := store.NewMultiArticleStore(types.Whole(1))
	if _, err := l.Transfer(ctx, s, s, ore, types.Whole(1)); !stockpile.IsInvalidArgument(err) {
		t.Errorf("self transfer: got %v, want invalid argument", err)
	}
}

func TestTransferRollsBackInsideFailingScope(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())
	from := store.NewMultiArticleStore(types.Whole(20))
	to := store.NewMultiArticleStore(types.Whole(20))
	fill(t, from, water, types.Whole(9))

	boom := errors.New("boom")
	err := l.Run(ctx, func(ctx context.Context) error {
		moved, err := l.Transfer(ctx, from, to, water, types.Of(7, 2))
		if err != nil {
			return err
		}
		if !moved.Equal(types.Of(7, 2)) {
			t.Errorf("moved: got %s, want 7/2", moved)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run: got %v, want %v", err, boom)
	}
	if got := from.AmountOf(water); !got.Equal(types.Whole(9)) {
		t.Errorf("from after rollback: got %s, want 9", got)
	}
	if !to.Count().IsZero() {
		t.Errorf("to after rollback: got %s, want 0", to.Count())
	}
}

func TestScopeClosedHook(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	l := newLedger(t, memory.New(), stockpile.WithPlugin(ev))
	s := store.NewMultiArticleStore(types.Whole(10))
	if err := l.Register(ctx, s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_ = l.Run(ctx, func(ctx context.Context) error {
		_, err := s.Accept(ctx, ore, types.Whole(2), 0, false)
		return err
	})
	_ = l.Run(ctx, func(ctx context.Context) error {
		if _, err := s.Accept(ctx, ore, types.Whole(2), 0, false); err != nil {
			return err
		}
		return errors.New("undo")
	})
	if _, err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.scopes) != 2 {
		t.Fatalf("scope events: got %d, want 2 (flush scopes are not reported)", len(ev.scopes))
	}
	if !ev.scopes[0].Committed || ev.scopes[1].Committed {
		t.Errorf("committed flags: got %v %v, want true false", ev.scopes[0].Committed, ev.scopes[1].Committed)
	}
	if ev.flushed != 1 {
		t.Errorf("OnStateFlushed count: got %d, want 1", ev.flushed)
	}
	if len(ev.stores) != 1 || ev.stores[0] != store.StateKindMulti {
		t.Errorf("OnStoreRegistered kinds: got %v, want [multi]", ev.stores)
	}
}

func TestFlushInsideScope(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())

	err := l.Run(ctx, func(ctx context.Context) error {
		_, err := l.Flush(ctx)
		return err
	})
	if !errors.Is(err, stockpile.ErrScopeOpen) {
		t.Errorf("Flush in scope: got %v, want ErrScopeOpen", err)
	}
	if !stockpile.IsInvalidState(err) {
		t.Error("IsInvalidState: got false for ErrScopeOpen")
	}
}

// failingRepo fails every save.
type failingRepo struct {
	*memory.Store
}

var errDisk = errors.New("disk full")

func (failingRepo) SaveState(context.Context, *state.Record) error { return errDisk }

func TestFlushKeepsFailedStoresDirty(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, failingRepo{memory.New()})

	for range 2 {
		s := store.NewMultiArticleStore(types.Whole(4))
		if err := l.Register(ctx, s); err != nil {
			t.Fatalf("Register: %v", err)
		}
		fill(t, s, ore, types.Whole(1))
	}

	n, err := l.Flush(ctx)
	if n != 0 {
		t.Errorf("saved: got %d, want 0", n)
	}
	if !errors.Is(err, errDisk) {
		t.Errorf("Flush: got %v, want %v", err, errDisk)
	}
	var multi stockpile.MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 2 {
		t.Errorf("Flush: got %v, want a MultiError of 2", err)
	}
	if got := l.Dirty(); got != 2 {
		t.Errorf("dirty after failed flush: got %d, want 2", got)
	}
}

func TestBackgroundFlush(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	l := stockpile.New(repo,
		stockpile.WithLogger(quietLogger()),
		stockpile.WithFlushConfig(2, time.Hour),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop() //nolint:errcheck // test cleanup

	a := store.NewMultiArticleStore(types.Whole(4))
	b := store.NewMultiArticleStore(types.Whole(4))
	for _, s := range []store.Store{a, b} {
		if err := l.Register(ctx, s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	fill(t, a, ore, types.Whole(1))
	fill(t, b, ore, types.Whole(1))

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := repo.ListStates(ctx, state.ListOpts{})
		if err != nil {
			t.Fatalf("ListStates: %v", err)
		}
		if len(recs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background flush: got %d records, want 2", len(recs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// blob is a BlobBinding held in memory.
type blob struct{ data []byte }

func (b *blob) BackingBlob() []byte      { return b.data }
func (b *blob) SetBackingBlob(d []byte) { b.data = d }

func TestBindPortable(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	l := newLedger(t, repo)
	carrier := &blob{}

	tank := store.NewSingleArticleStore(types.Whole(8))
	if err := l.BindPortable(ctx, tank, carrier); err != nil {
		t.Fatalf("BindPortable: %v", err)
	}
	fill(t, tank, water, types.Of(13, 4))
	if _, err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(carrier.data) == 0 {
		t.Fatal("binding blob empty after flush")
	}
	if _, err := repo.LoadState(ctx, tank.ID()); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("repository record for portable store: got %v, want ErrNotFound", err)
	}

	other := newLedger(t, memory.New())
	copyTank := store.NewSingleArticleStore(types.Whole(1))
	if err := other.BindPortable(ctx, copyTank, carrier); err != nil {
		t.Fatalf("BindPortable restore: %v", err)
	}
	if got := copyTank.AmountOf(water); !got.Equal(types.Of(13, 4)) {
		t.Errorf("restored water: got %s, want 13/4", got)
	}

	found, ok := other.Locator().Lookup(ctx, stockpile.Location{Space: "overworld"}, stockpile.SideUp, copyTank.ID(), stockpile.Authorization{})
	if !ok || found != store.Store(copyTank) {
		t.Errorf("Locator: got %v %v, want the bound tank", found, ok)
	}
	if _, ok := other.Locator().Lookup(ctx, stockpile.Location{}, stockpile.SideAny, id.NewStoreID(), stockpile.Authorization{}); ok {
		t.Error("Locator: found an unregistered store")
	}
}

func TestAggregateFromLedger(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())

	a := store.NewMultiArticleStore(types.Whole(10))
	b := store.NewMultiArticleStore(types.Whole(10))
	agg := l.NewAggregate()
	for _, m := range []store.Store{a, b} {
		if err := l.Register(ctx, m); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := agg.AddMember(m); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	// No scope in ctx: the aggregate opens its own on the ledger coordinator.
	got, err := agg.Accept(ctx, ore, types.Whole(15), 0, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !got.Equal(types.Whole(15)) {
		t.Errorf("accepted: got %s, want 15", got)
	}
	if got := l.Dirty(); got != 2 {
		t.Errorf("dirty members: got %d, want 2", got)
	}
}

func TestLedgerListener(t *testing.T) {
	ctx := context.Background()
	mirror := replica.NewMirror()
	l := newLedger(t, memory.New(), stockpile.WithListener(mirror))

	s := store.NewMultiArticleStore(types.Whole(10))
	fill(t, s, ore, types.Whole(3))
	if err := l.Register(ctx, s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !mirror.Matches(s) {
		t.Fatal("mirror: initial contents not replayed")
	}

	fill(t, s, water, types.Of(1, 2))
	if got := mirror.AmountOf(water); !got.Equal(types.Of(1, 2)) {
		t.Errorf("mirrored water: got %s, want 1/2", got)
	}

	if err := l.Unregister(ctx, s.ID(), false); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if mirror.Attached() {
		t.Error("Attached: got true after Unregister")
	}
	if !mirror.Valid() {
		t.Error("Valid: got false for a store that still exists")
	}

	fill(t, s, ore, types.Whole(1))
	if got := mirror.AmountOf(ore); !got.Equal(types.Whole(3)) {
		t.Errorf("mirrored ore after detach: got %s, want 3", got)
	}
}

func TestStoreLookupByParsedID(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())

	storeID := stockpile.NewStoreID()
	s := store.NewSingleArticleStore(types.Whole(4), store.WithID(storeID))
	if err := l.Register(ctx, s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	parsed, err := stockpile.ParseStoreID(storeID.String())
	if err != nil {
		t.Fatalf("ParseStoreID: %v", err)
	}
	got, err := l.Store(parsed)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got.ID().String() != storeID.String() {
		t.Errorf("store id: got %s, want %s", got.ID(), storeID)
	}

	if _, err := stockpile.ParseStoreID(id.NewScopeID().String()); err == nil {
		t.Error("ParseStoreID: accepted a scope id")
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New())

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(ctx); !errors.Is(err, stockpile.ErrAlreadyStarted) {
		t.Errorf("second Start: got %v, want %v", err, stockpile.ErrAlreadyStarted)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Errorf("second Stop: got %v, want nil", err)
	}
	if err := l.Start(ctx); !errors.Is(err, stockpile.ErrStopped) {
		t.Errorf("Start after Stop: got %v, want %v", err, stockpile.ErrStopped)
	}
	if !stockpile.IsInvalidState(stockpile.ErrStopped) {
		t.Error("IsInvalidState(ErrStopped): got false")
	}
}
