package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// DesyncPolicy decides how an aggregate reacts when a member notification
// contradicts its bookkeeping.
type DesyncPolicy uint8

const (
	// DesyncResync logs the first occurrence of each kind, reports every
	// occurrence to the desync handler and rebuilds the article's
	// bookkeeping from the members.
	DesyncResync DesyncPolicy = iota
	// DesyncPanic treats any desync as an invariant violation.
	DesyncPanic
)

// DesyncKind classifies a desync.
type DesyncKind uint8

const (
	// DesyncUntracked: a member supplied an article the aggregate does not track.
	DesyncUntracked DesyncKind = iota + 1
	// DesyncNotHolder: a member supplied an article it was not known to hold.
	DesyncNotHolder
	// DesyncUnderflow: a member supplied more than the aggregate total.
	DesyncUnderflow
	// DesyncMismatch: rollback verification found a different total.
	DesyncMismatch
)

// String returns the kind name.
func (k DesyncKind) String() string {
	switch k {
	case DesyncUntracked:
		return "untracked"
	case DesyncNotHolder:
		return "not_holder"
	case DesyncUnderflow:
		return "underflow"
	case DesyncMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DesyncEvent describes one detected desync.
type DesyncEvent struct {
	Aggregate id.StoreID
	Member    id.StoreID
	Article   types.Article
	Kind      DesyncKind
	Expected  types.Fraction
	Actual    types.Fraction
}

func (e DesyncEvent) String() string {
	return fmt.Sprintf("%s desync on %s: expected %s, found %s", e.Kind, e.Article, e.Expected, e.Actual)
}

// AggregateStore presents its member stores as one store.
//
// It tracks, per article, the total across members and the members known
// to hold it. The bookkeeping is fed only by member notifications, so
// member rollbacks restore it automatically. Accepts go to known holders
// first, then to the remaining members in order; supplies go to known
// holders only.
//
// Members are added and removed outside of transaction scopes.
type AggregateStore struct {
	id       id.StoreID
	coord    *txn.Coordinator
	members  []Store
	links    map[Store]*memberLink
	handles  *Handles
	notifier *Notifier
	filter   func(types.Article) bool
	logger   *slog.Logger
	policy   DesyncPolicy
	onDesync func(DesyncEvent)
	warned   map[DesyncKind]bool
}

var (
	_ Store           = (*AggregateStore)(nil)
	_ txn.Participant = (*AggregateStore)(nil)
)

// NewAggregateStore creates an aggregate with no members. WithCoordinator
// provides the coordinator used when a request's context carries no scope.
func NewAggregateStore(opts ...Option) *AggregateStore {
	o := buildOptions(opts)
	a := &AggregateStore{
		id:       o.id,
		coord:    o.coord,
		links:    make(map[Store]*memberLink),
		handles:  NewHandles(o.handles),
		filter:   o.filter,
		logger:   o.logger,
		policy:   o.policy,
		onDesync: o.onDesync,
		warned:   make(map[DesyncKind]bool),
	}
	a.notifier = NewNotifier(a, types.ZeroFraction, a.handles.Compact)
	return a
}

// ID returns the store identifier.
func (a *AggregateStore) ID() id.StoreID { return a.id }

// Consumer returns the function that routes articles into members.
func (a *AggregateStore) Consumer() Function { return ConsumerOf(a) }

// Supplier returns the function that routes articles out of members.
func (a *AggregateStore) Supplier() Function { return SupplierOf(a) }

// Count returns the total quantity across members.
func (a *AggregateStore) Count() types.Fraction { return a.notifier.Count() }

// Capacity returns the total capacity across members.
func (a *AggregateStore) Capacity() types.Fraction { return a.notifier.Capacity() }

// HandleCount returns the handle high-water mark of tracked articles.
func (a *AggregateStore) HandleCount() int { return a.handles.HighWater() }

// AmountOf returns the tracked total of art.
func (a *AggregateStore) AmountOf(art types.Article) types.Fraction {
	if r := a.handles.Find(art); r != nil {
		return r.amount
	}
	return types.ZeroFraction
}

// View returns the tracked article at handle, or EmptyView.
func (a *AggregateStore) View(handle int) ArticleView {
	if r := a.handles.Get(handle); r != nil {
		return r.view()
	}
	return EmptyView
}

// Holders returns the members known to hold art.
func (a *AggregateStore) Holders(art types.Article) []Store {
	if r := a.handles.Find(art); r != nil {
		return slices.Clone(r.holders)
	}
	return nil
}

// Members returns the members in routing order.
func (a *AggregateStore) Members() []Store { return slices.Clone(a.members) }

// SetDirtyCallback is a no-op: aggregates are not persisted.
func (a *AggregateStore) SetDirtyCallback(func()) {}

// WriteState returns ErrUnsupported.
func (a *AggregateStore) WriteState() ([]byte, error) { return nil, ErrUnsupported }

// ReadState returns ErrUnsupported.
func (a *AggregateStore) ReadState([]byte) error { return ErrUnsupported }

// ──────────────────────────────────────────────────
// Membership
// ──────────────────────────────────────────────────

// memberLink is the aggregate's listener on one member.
type memberLink struct {
	agg    *AggregateStore
	member Store
}

func (l *memberLink) Notify(e Event) { l.agg.onMemberEvent(l.member, e) }

func (l *memberLink) Disconnect(s Store, _, isValid bool) {
	if !isValid {
		l.agg.dropMember(s)
	}
}

// AddMember appends m to the routing order and starts tracking its contents.
func (a *AggregateStore) AddMember(m Store) error {
	if m == nil || m == Store(a) {
		return ErrInvalidMember
	}
	if _, ok := a.links[m]; ok {
		return fmt.Errorf("%w: %s is already a member", ErrInvalidMember, m.ID())
	}
	if inner, ok := m.(*AggregateStore); ok && inner.reaches(a) {
		return fmt.Errorf("%w: %s would create a cycle", ErrInvalidMember, m.ID())
	}

	link := &memberLink{agg: a, member: m}
	a.links[m] = link
	a.members = append(a.members, m)
	m.StartListening(link, true)
	return nil
}

// RemoveMember stops tracking m. It reports whether m was a member.
func (a *AggregateStore) RemoveMember(m Store) bool {
	link, ok := a.links[m]
	if !ok {
		return false
	}
	m.StopListening(link, true)
	a.forget(m)
	return true
}

// dropMember forgets a member that went away without a final replay.
func (a *AggregateStore) dropMember(m Store) {
	if _, ok := a.links[m]; !ok {
		return
	}
	a.forget(m)

	var arts []types.Article
	for i := 0; i < a.handles.HighWater(); i++ {
		if r := a.handles.Get(i); r != nil && r.hasHolder(m) {
			arts = append(arts, r.article)
		}
	}
	for _, art := range arts {
		a.resync(art)
	}
	a.notifier.ChangeCapacity(a.memberCapacity().Sub(a.Capacity()))
}

func (a *AggregateStore) forget(m Store) {
	delete(a.links, m)
	if i := slices.Index(a.members, m); i >= 0 {
		a.members = slices.Delete(a.members, i, i+1)
	}
}

func (a *AggregateStore) reaches(target *AggregateStore) bool {
	if a == target {
		return true
	}
	for _, m := range a.members {
		if inner, ok := m.(*AggregateStore); ok && inner.reaches(target) {
			return true
		}
	}
	return false
}

func (a *AggregateStore) memberCapacity() types.Fraction {
	total := types.ZeroFraction
	for _, m := range a.members {
		total = total.Add(m.Capacity())
	}
	return total
}

// onMemberEvent folds one member notification into the bookkeeping and
// forwards it to the aggregate's own listeners.
func (a *AggregateStore) onMemberEvent(m Store, e Event) {
	switch e.Kind {
	case EventCapacity:
		a.notifier.ChangeCapacity(e.CapacityDelta)

	case EventAccept:
		r := a.handles.FindOrCreate(e.Article)
		before := r.amount
		delta := e.After.Sub(e.Before)
		r.amount = before.Add(delta)
		r.addHolder(m)
		a.notifier.NotifyAccept(r.handle, e.Article, before, delta)

	case EventSupply:
		delta := e.Before.Sub(e.After)
		r := a.handles.Find(e.Article)
		switch {
		case r == nil:
			a.desync(m, e.Article, DesyncUntracked, types.ZeroFraction, delta)
			a.resync(e.Article)
			return
		case !r.hasHolder(m):
			a.desync(m, e.Article, DesyncNotHolder, types.ZeroFraction, e.Before)
			a.resync(e.Article)
			return
		case r.amount.LessThan(delta):
			a.desync(m, e.Article, DesyncUnderflow, r.amount, delta)
			a.resync(e.Article)
			return
		}

		before := r.amount
		r.amount = before.Sub(delta)
		if e.After.IsZero() {
			r.removeHolder(m)
		}
		a.notifier.NotifySupply(r.handle, e.Article, before, delta)
		if r.amount.IsZero() && !a.notifier.HasListeners() {
			a.handles.Release(r)
		}
	}
}

func (a *AggregateStore) desync(m Store, art types.Article, kind DesyncKind, expected, actual types.Fraction) {
	ev := DesyncEvent{Aggregate: a.id, Article: art, Kind: kind, Expected: expected, Actual: actual}
	if m != nil {
		ev.Member = m.ID()
	}
	if a.policy == DesyncPanic {
		panic("store: aggregate " + ev.String())
	}
	if !a.warned[kind] {
		a.warned[kind] = true
		a.logger.Warn("aggregate out of sync with members, resynchronizing",
			"aggregate_id", a.id.String(),
			"member_id", ev.Member.String(),
			"article", art.String(),
			"kind", kind.String(),
			"expected", expected.String(),
			"actual", actual.String(),
		)
	}
	if a.onDesync != nil {
		a.onDesync(ev)
	}
}

// resync rebuilds the bookkeeping of art from the members.
func (a *AggregateStore) resync(art types.Article) {
	total, holders := a.scan(art)
	r := a.handles.Find(art)
	if r == nil {
		if total.IsZero() {
			return
		}
		r = a.handles.FindOrCreate(art)
	}

	before := r.amount
	r.amount = total
	r.holders = holders
	switch diff := total.Sub(before); {
	case diff.IsPositive():
		a.notifier.NotifyAccept(r.handle, art, before, diff)
	case diff.IsNegative():
		a.notifier.NotifySupply(r.handle, art, before, diff.Neg())
	}
	if r.amount.IsZero() && !a.notifier.HasListeners() {
		a.handles.Release(r)
	}
}

func (a *AggregateStore) scan(art types.Article) (types.Fraction, []Store) {
	total := types.ZeroFraction
	var holders []Store
	for _, m := range a.members {
		if q := m.AmountOf(art); q.IsPositive() {
			total = total.Add(q)
			holders = append(holders, m)
		}
	}
	return total, holders
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

type touchSet map[types.Article]struct{}

// PrepareRollback implements txn.Participant. The aggregate itself holds
// no quantities; on rollback it verifies the articles it routed against
// the (already restored) members.
func (a *AggregateStore) PrepareRollback(f *txn.Frame) txn.RollbackFunc {
	f.Stash(a, touchSet{})
	return func(f *txn.Frame, committed bool) {
		v, _ := f.Stashed(a)
		touched, _ := v.(touchSet)
		if committed {
			if parent := f.Parent(); parent != nil && parent.Enlisted(a) {
				if pv, ok := parent.Stashed(a); ok {
					for art := range touched {
						pv.(touchSet)[art] = struct{}{}
					}
				}
			}
			return
		}
		a.verify(touched)
	}
}

func (a *AggregateStore) verify(touched touchSet) {
	for art := range touched {
		total, _ := a.scan(art)
		if tracked := a.AmountOf(art); !tracked.Equal(total) {
			a.desync(nil, art, DesyncMismatch, tracked, total)
			a.resync(art)
		}
	}
}

// atomically runs fn in a scope nested in ctx's scope, or in a new scope of
// the aggregate's coordinator, with the aggregate enlisted.
func (a *AggregateStore) atomically(ctx context.Context, art types.Article, fn func(context.Context) (types.Fraction, error)) (types.Fraction, error) {
	coord := a.coord
	if s := txn.FromContext(ctx); s != nil && s.IsOpen() {
		coord = s.Coordinator()
	}
	if coord == nil {
		return types.ZeroFraction, ErrNoCoordinator
	}

	ctx, scope, err := coord.Open(ctx)
	if err != nil {
		return types.ZeroFraction, err
	}
	defer scope.Close() //nolint:errcheck // no-op after Commit

	if err := scope.Enlist(a); err != nil {
		return types.ZeroFraction, err
	}
	if v, ok := scope.Stashed(a); ok {
		v.(touchSet)[art] = struct{}{}
	}

	moved, err := fn(ctx)
	if err != nil {
		return types.ZeroFraction, err
	}
	if err := scope.Commit(); err != nil {
		return types.ZeroFraction, err
	}
	return moved, nil
}

// ──────────────────────────────────────────────────
// Routing
// ──────────────────────────────────────────────────

// Accept routes up to limit of art into members: known holders first, then
// the other members in order, skipping full members.
func (a *AggregateStore) Accept(ctx context.Context, art types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(art, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	if limit.IsZero() || !a.filter(art) || len(a.members) == 0 {
		return types.ZeroFraction, nil
	}
	if simulate {
		return a.routeAccept(ctx, art, limit, unit, true)
	}
	return a.atomically(ctx, art, func(ctx context.Context) (types.Fraction, error) {
		return a.routeAccept(ctx, art, limit, unit, false)
	})
}

// Supply routes up to limit of art out of the members known to hold it.
func (a *AggregateStore) Supply(ctx context.Context, art types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(art, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	if limit.IsZero() || !a.AmountOf(art).IsPositive() {
		return types.ZeroFraction, nil
	}
	if simulate {
		return a.routeSupply(ctx, art, limit, unit, true)
	}
	return a.atomically(ctx, art, func(ctx context.Context) (types.Fraction, error) {
		return a.routeSupply(ctx, art, limit, unit, false)
	})
}

func (a *AggregateStore) routeAccept(ctx context.Context, art types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	holders := a.Holders(art)
	moved := types.ZeroFraction
	remaining := limit

	try := func(m Store) (bool, error) {
		if isFull(m) {
			return false, nil
		}
		got, err := m.Accept(ctx, art, remaining, unit, simulate)
		if err != nil {
			return false, err
		}
		moved = moved.Add(got)
		remaining = remaining.Sub(got)
		return !remaining.IsPositive(), nil
	}

	for _, m := range holders {
		if done, err := try(m); err != nil || done {
			return moved, err
		}
	}
	for _, m := range slices.Clone(a.members) {
		if slices.Contains(holders, m) {
			continue
		}
		if done, err := try(m); err != nil || done {
			return moved, err
		}
	}
	return moved, nil
}

func (a *AggregateStore) routeSupply(ctx context.Context, art types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	moved := types.ZeroFraction
	remaining := limit

	for _, m := range a.Holders(art) {
		got, err := m.Supply(ctx, art, remaining, unit, simulate)
		if err != nil {
			return moved, err
		}
		moved = moved.Add(got)
		remaining = remaining.Sub(got)
		if !remaining.IsPositive() {
			break
		}
	}
	return moved, nil
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

// StartListening attaches l.
func (a *AggregateStore) StartListening(l Listener, sendInitialState bool) {
	a.notifier.Start(l, sendInitialState, a.handles.Contents())
}

// StopListening detaches l.
func (a *AggregateStore) StopListening(l Listener, sendFinalState bool) {
	a.notifier.Stop(l, sendFinalState, a.handles.Contents())
}

// Destroy detaches every listener and every member.
func (a *AggregateStore) Destroy() {
	a.notifier.DisconnectAll()
	for _, m := range slices.Clone(a.members) {
		a.RemoveMember(m)
	}
}
