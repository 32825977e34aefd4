package store

import (
	"context"
	"iter"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// SingleArticleStore holds one article at a time, like a tank or a single
// inventory slot. Its whole state is three values, so rollback restores a
// snapshot taken on first enlistment.
type SingleArticleStore struct {
	id       id.StoreID
	article  types.Article
	amount   types.Fraction
	notifier *Notifier
	rollback *snapshotRollback[singleSnapshot]
	filter   func(types.Article) bool
	onDirty  func()
}

type singleSnapshot struct {
	article  types.Article
	amount   types.Fraction
	capacity types.Fraction
}

var (
	_ Store           = (*SingleArticleStore)(nil)
	_ txn.Participant = (*SingleArticleStore)(nil)
)

// singleHandle is the only handle a single-article store uses.
const singleHandle = 0

// NewSingleArticleStore creates an empty store. Panics on negative capacity.
func NewSingleArticleStore(capacity types.Fraction, opts ...Option) *SingleArticleStore {
	if capacity.IsNegative() {
		panic("store: negative capacity")
	}
	o := buildOptions(opts)
	s := &SingleArticleStore{
		id:      o.id,
		article: types.Nothing,
		amount:  types.ZeroFraction,
		filter:  o.filter,
	}
	s.notifier = NewNotifier(s, capacity, nil)
	s.rollback = &snapshotRollback[singleSnapshot]{capture: s.snapshot, restore: s.restore}
	return s
}

// ID returns the store identifier.
func (s *SingleArticleStore) ID() id.StoreID { return s.id }

// Consumer returns the function that moves articles into the store.
func (s *SingleArticleStore) Consumer() Function { return ConsumerOf(s) }

// Supplier returns the function that moves articles out of the store.
func (s *SingleArticleStore) Supplier() Function { return SupplierOf(s) }

// Count returns the quantity held.
func (s *SingleArticleStore) Count() types.Fraction { return s.notifier.Count() }

// Capacity returns the maximum quantity.
func (s *SingleArticleStore) Capacity() types.Fraction { return s.notifier.Capacity() }

// HandleCount is always 1.
func (s *SingleArticleStore) HandleCount() int { return 1 }

// Article returns the article held, or Nothing when empty.
func (s *SingleArticleStore) Article() types.Article { return s.article }

// AmountOf returns the quantity of a held.
func (s *SingleArticleStore) AmountOf(a types.Article) types.Fraction {
	if a != s.article {
		return types.ZeroFraction
	}
	return s.amount
}

// View returns the held article for handle 0, or EmptyView.
func (s *SingleArticleStore) View(handle int) ArticleView {
	if handle != singleHandle || s.article.IsNothing() {
		return EmptyView
	}
	return ArticleView{Article: s.article, Amount: s.amount, Handle: singleHandle}
}

// SetDirtyCallback installs the change callback.
func (s *SingleArticleStore) SetDirtyCallback(fn func()) { s.onDirty = fn }

// PrepareRollback implements txn.Participant.
func (s *SingleArticleStore) PrepareRollback(_ *txn.Frame) txn.RollbackFunc {
	return s.rollback.prepare()
}

// Accept adds up to limit of a. A store already holding a different
// article accepts nothing.
func (s *SingleArticleStore) Accept(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(a, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	if limit.IsZero() || !s.filter(a) {
		return types.ZeroFraction, nil
	}
	if !s.article.IsNothing() && s.article != a {
		return types.ZeroFraction, nil
	}

	room := s.Capacity().Sub(s.amount)
	amount := granulate(a, limit.Min(room), unit)
	if !amount.IsPositive() {
		return types.ZeroFraction, nil
	}
	if simulate {
		return amount, nil
	}
	if err := enlist(ctx, s, s.rollback); err != nil {
		return types.ZeroFraction, err
	}

	s.put(a, amount)
	return amount, nil
}

// Supply removes up to limit of a.
func (s *SingleArticleStore) Supply(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(a, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	if limit.IsZero() || s.article != a {
		return types.ZeroFraction, nil
	}

	amount := granulate(a, limit.Min(s.amount), unit)
	if !amount.IsPositive() {
		return types.ZeroFraction, nil
	}
	if simulate {
		return amount, nil
	}
	if err := enlist(ctx, s, s.rollback); err != nil {
		return types.ZeroFraction, err
	}

	s.take(amount)
	return amount, nil
}

// SetCapacity changes the capacity. It fails with ErrInvalidCapacity when
// capacity is negative or below the quantity held.
func (s *SingleArticleStore) SetCapacity(ctx context.Context, capacity types.Fraction) error {
	if capacity.IsNegative() || capacity.LessThan(s.amount) {
		return ErrInvalidCapacity
	}
	delta := capacity.Sub(s.Capacity())
	if delta.IsZero() {
		return nil
	}
	if err := enlist(ctx, s, s.rollback); err != nil {
		return err
	}
	s.notifier.ChangeCapacity(delta)
	s.markDirty()
	return nil
}

func (s *SingleArticleStore) put(a types.Article, amount types.Fraction) {
	before := s.amount
	s.article = a
	s.amount = before.Add(amount)
	s.notifier.NotifyAccept(singleHandle, a, before, amount)
	s.markDirty()
}

func (s *SingleArticleStore) take(amount types.Fraction) {
	a := s.article
	before := s.amount
	s.amount = before.Sub(amount)
	if s.amount.IsZero() {
		s.article = types.Nothing
	}
	s.notifier.NotifySupply(singleHandle, a, before, amount)
	s.markDirty()
}

func (s *SingleArticleStore) snapshot() singleSnapshot {
	return singleSnapshot{article: s.article, amount: s.amount, capacity: s.Capacity()}
}

// restore brings the store back to snap through ordinary notifications.
func (s *SingleArticleStore) restore(snap singleSnapshot) {
	capDelta := snap.capacity.Sub(s.Capacity())
	if capDelta.IsPositive() {
		s.notifier.ChangeCapacity(capDelta)
	}

	if s.article != snap.article && s.amount.IsPositive() {
		s.take(s.amount)
	}
	switch diff := snap.amount.Sub(s.amount); {
	case diff.IsPositive():
		s.put(snap.article, diff)
	case diff.IsNegative():
		s.take(diff.Neg())
	}

	if capDelta.IsNegative() {
		s.notifier.ChangeCapacity(capDelta)
	}
	s.markDirty()
}

func (s *SingleArticleStore) markDirty() {
	if s.onDirty != nil {
		s.onDirty()
	}
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

func (s *SingleArticleStore) contents() iter.Seq[ArticleView] {
	return func(yield func(ArticleView) bool) {
		if v := s.View(singleHandle); !v.IsEmpty() {
			yield(v)
		}
	}
}

// StartListening attaches l.
func (s *SingleArticleStore) StartListening(l Listener, sendInitialState bool) {
	s.notifier.Start(l, sendInitialState, s.contents())
}

// StopListening detaches l.
func (s *SingleArticleStore) StopListening(l Listener, sendFinalState bool) {
	s.notifier.Stop(l, sendFinalState, s.contents())
}

// Destroy detaches every listener, marking the store invalid for them.
func (s *SingleArticleStore) Destroy() {
	s.notifier.DisconnectAll()
}

// ──────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────

// WriteState encodes the capacity and contents.
func (s *SingleArticleStore) WriteState() ([]byte, error) {
	return encodeState(StateKindSingle, s.Capacity(), s.contents())
}

// ReadState replaces the contents with a blob from WriteState. It must not
// be called while the store is enlisted in an open scope.
func (s *SingleArticleStore) ReadState(data []byte) error {
	if s.rollback.active() {
		return ErrUnenlistedMutation
	}
	capacity, entries, err := decodeState(data, StateKindSingle)
	if err != nil {
		return err
	}
	if len(entries) > 1 {
		return ErrCorruptState
	}

	snap := singleSnapshot{article: types.Nothing, amount: types.ZeroFraction, capacity: capacity}
	if len(entries) == 1 {
		snap.article = entries[0].article
		snap.amount = entries[0].amount
	}
	s.restore(snap)
	return nil
}
