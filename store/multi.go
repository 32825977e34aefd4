package store

import (
	"context"
	"log/slog"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// MultiArticleStore holds any mix of articles up to a shared capacity.
// Rollback replays a delta journal, so large stores pay only for what a
// scope changed.
type MultiArticleStore struct {
	id       id.StoreID
	handles  *Handles
	notifier *Notifier
	rollback *journalRollback
	filter   func(types.Article) bool
	logger   *slog.Logger
	onDirty  func()
}

var (
	_ Store           = (*MultiArticleStore)(nil)
	_ txn.Participant = (*MultiArticleStore)(nil)
	_ journalTarget   = (*MultiArticleStore)(nil)
)

// NewMultiArticleStore creates an empty store. Panics on negative capacity.
func NewMultiArticleStore(capacity types.Fraction, opts ...Option) *MultiArticleStore {
	if capacity.IsNegative() {
		panic("store: negative capacity")
	}
	o := buildOptions(opts)
	s := &MultiArticleStore{
		id:      o.id,
		handles: NewHandles(o.handles),
		filter:  o.filter,
		logger:  o.logger,
	}
	s.notifier = NewNotifier(s, capacity, s.compactIdle)
	s.rollback = &journalRollback{target: s}
	return s
}

// ID returns the store identifier.
func (s *MultiArticleStore) ID() id.StoreID { return s.id }

// Consumer returns the function that moves articles into the store.
func (s *MultiArticleStore) Consumer() Function { return ConsumerOf(s) }

// Supplier returns the function that moves articles out of the store.
func (s *MultiArticleStore) Supplier() Function { return SupplierOf(s) }

// Count returns the total quantity held.
func (s *MultiArticleStore) Count() types.Fraction { return s.notifier.Count() }

// Capacity returns the maximum total quantity.
func (s *MultiArticleStore) Capacity() types.Fraction { return s.notifier.Capacity() }

// HandleCount returns the handle high-water mark.
func (s *MultiArticleStore) HandleCount() int { return s.handles.HighWater() }

// AmountOf returns the quantity of a held.
func (s *MultiArticleStore) AmountOf(a types.Article) types.Fraction {
	if r := s.handles.Find(a); r != nil {
		return r.amount
	}
	return types.ZeroFraction
}

// View returns the article at handle, or EmptyView.
func (s *MultiArticleStore) View(handle int) ArticleView {
	if r := s.handles.Get(handle); r != nil {
		return r.view()
	}
	return EmptyView
}

// SetDirtyCallback installs the change callback.
func (s *MultiArticleStore) SetDirtyCallback(fn func()) { s.onDirty = fn }

// PrepareRollback implements txn.Participant.
func (s *MultiArticleStore) PrepareRollback(_ *txn.Frame) txn.RollbackFunc {
	return s.rollback.prepare()
}

// Accept adds up to limit of a, bounded by the free capacity.
func (s *MultiArticleStore) Accept(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(a, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	if limit.IsZero() || !s.filter(a) {
		return types.ZeroFraction, nil
	}

	room := s.Capacity().Sub(s.Count())
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

	s.rollback.record(a, amount)
	s.adjust(a, amount)
	return amount, nil
}

// Supply removes up to limit of a, bounded by the quantity held.
func (s *MultiArticleStore) Supply(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(a, limit, unit); err != nil {
		return types.ZeroFraction, err
	}
	r := s.handles.Find(a)
	if limit.IsZero() || r == nil || !r.amount.IsPositive() {
		return types.ZeroFraction, nil
	}

	amount := granulate(a, limit.Min(r.amount), unit)
	if !amount.IsPositive() {
		return types.ZeroFraction, nil
	}
	if simulate {
		return amount, nil
	}
	if err := enlist(ctx, s, s.rollback); err != nil {
		return types.ZeroFraction, err
	}

	s.rollback.record(a, amount.Neg())
	s.adjust(a, amount.Neg())
	return amount, nil
}

// SetCapacity changes the capacity. It fails with ErrInvalidCapacity when
// capacity is negative or below the current count.
func (s *MultiArticleStore) SetCapacity(ctx context.Context, capacity types.Fraction) error {
	if capacity.IsNegative() || capacity.LessThan(s.Count()) {
		return ErrInvalidCapacity
	}
	delta := capacity.Sub(s.Capacity())
	if delta.IsZero() {
		return nil
	}
	if err := enlist(ctx, s, s.rollback); err != nil {
		return err
	}
	s.rollback.recordCapacity(delta)
	s.notifier.ChangeCapacity(delta)
	s.markDirty()
	return nil
}

// adjust applies a signed change to a and notifies listeners.
func (s *MultiArticleStore) adjust(a types.Article, delta types.Fraction) {
	if delta.IsPositive() {
		r := s.handles.FindOrCreate(a)
		before := r.amount
		r.amount = before.Add(delta)
		s.notifier.NotifyAccept(r.handle, a, before, delta)
		s.markDirty()
		return
	}

	r := s.handles.Find(a)
	if r == nil || r.amount.LessThan(delta.Neg()) {
		panic("store: supply exceeds the quantity held")
	}
	before := r.amount
	r.amount = before.Add(delta)
	s.notifier.NotifySupply(r.handle, a, before, delta.Neg())
	if r.amount.IsZero() && !s.notifier.HasListeners() {
		s.handles.Release(r)
	}
	s.markDirty()
}

func (s *MultiArticleStore) replayAdjust(a types.Article, delta types.Fraction) {
	s.adjust(a, delta)
}

func (s *MultiArticleStore) replayCapacity(delta types.Fraction) {
	s.notifier.ChangeCapacity(delta)
	s.markDirty()
}

func (s *MultiArticleStore) markDirty() {
	if s.onDirty != nil {
		s.onDirty()
	}
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

// StartListening attaches l.
func (s *MultiArticleStore) StartListening(l Listener, sendInitialState bool) {
	s.notifier.Start(l, sendInitialState, s.handles.Contents())
}

// StopListening detaches l. Compaction runs once no listener is left.
func (s *MultiArticleStore) StopListening(l Listener, sendFinalState bool) {
	s.notifier.Stop(l, sendFinalState, s.handles.Contents())
}

// Destroy detaches every listener, marking the store invalid for them.
func (s *MultiArticleStore) Destroy() {
	s.notifier.DisconnectAll()
}

// Compact packs the handle table. It does nothing and returns false while
// listeners are attached, since they index the store by handle.
func (s *MultiArticleStore) Compact() bool {
	if s.notifier.HasListeners() {
		return false
	}
	s.handles.Compact()
	return true
}

func (s *MultiArticleStore) compactIdle() {
	before := s.handles.HighWater()
	s.handles.Compact()
	if after := s.handles.HighWater(); after != before {
		s.logger.Debug("compacted store handles",
			"store_id", s.id.String(),
			"high_water_before", before,
			"high_water_after", after,
		)
	}
}

// ──────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────

// WriteState encodes the capacity and contents.
func (s *MultiArticleStore) WriteState() ([]byte, error) {
	return encodeState(StateKindMulti, s.Capacity(), s.handles.Contents())
}

// ReadState replaces the contents with a blob from WriteState. Listeners see
// the old contents removed and the new contents added. It must not be
// called while the store is enlisted in an open scope.
func (s *MultiArticleStore) ReadState(data []byte) error {
	if s.rollback.active() {
		return ErrUnenlistedMutation
	}
	capacity, entries, err := decodeState(data, StateKindMulti)
	if err != nil {
		return err
	}

	var old []ArticleView
	for v := range s.handles.Contents() {
		old = append(old, v)
	}
	for _, v := range old {
		s.adjust(v.Article, v.Amount.Neg())
	}

	// Count is zero here, so any capacity is valid.
	s.notifier.ChangeCapacity(capacity.Sub(s.Capacity()))
	for _, e := range entries {
		s.adjust(e.article, e.amount)
	}
	return nil
}
