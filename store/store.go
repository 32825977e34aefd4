// Package store implements article stores: containers holding quantities
// of articles up to a capacity, with transactional mutation, listener
// notification and opaque state persistence.
//
// Three implementations are provided:
//   - SingleArticleStore holds one article at a time and rolls back by
//     restoring a full snapshot.
//   - MultiArticleStore holds any number of articles and rolls back by
//     replaying a per-scope delta journal.
//   - AggregateStore presents many member stores as one, routing requests
//     to the members that already hold an article.
//
// Mutations enlist the store in the transaction scope carried by the
// context (see package txn). Mutating without a scope is allowed only while
// the store is not enlisted in any open scope.
package store

import (
	"context"
	"fmt"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/types"
)

// Store is an article container.
type Store interface {
	// ID returns the store identifier.
	ID() id.StoreID

	// Accept adds up to limit of a and returns the amount added. unit > 0
	// limits the result to multiples of 1/unit; unit == 0 means exact.
	Accept(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error)

	// Supply removes up to limit of a and returns the amount removed. unit
	// is interpreted as for Accept.
	Supply(ctx context.Context, a types.Article, limit types.Fraction, unit int64, simulate bool) (types.Fraction, error)

	// Consumer returns the function that moves articles into the store.
	Consumer() Function

	// Supplier returns the function that moves articles out of the store.
	Supplier() Function

	// AmountOf returns the quantity of a held.
	AmountOf(a types.Article) types.Fraction

	// View returns the article at handle, or EmptyView.
	View(handle int) ArticleView

	// HandleCount returns the handle high-water mark.
	HandleCount() int

	// Count returns the total quantity held.
	Count() types.Fraction

	// Capacity returns the maximum total quantity.
	Capacity() types.Fraction

	// StartListening attaches l, replaying current contents when
	// sendInitialState is set.
	StartListening(l Listener, sendInitialState bool)

	// StopListening detaches l, replaying removal of all contents when
	// sendFinalState is set.
	StopListening(l Listener, sendFinalState bool)

	// WriteState encodes the store contents as an opaque blob.
	WriteState() ([]byte, error)

	// ReadState replaces the store contents with a blob from WriteState.
	ReadState(data []byte) error

	// SetDirtyCallback installs fn, called after every change to the
	// contents (rollback replays included) so the owner can schedule
	// persistence.
	SetDirtyCallback(fn func())
}

// ArticleView is a read-only view of one stored article.
type ArticleView struct {
	Article types.Article  `json:"article"`
	Amount  types.Fraction `json:"amount"`
	Handle  int            `json:"handle"`
}

// EmptyView is returned for invalid or unused handles.
var EmptyView = ArticleView{Article: types.Nothing, Amount: types.ZeroFraction, Handle: -1}

// IsEmpty reports whether the view holds no quantity.
func (v ArticleView) IsEmpty() bool {
	return v.Article.IsNothing() || !v.Amount.IsPositive()
}

// ──────────────────────────────────────────────────
// Consumer / Supplier functions
// ──────────────────────────────────────────────────

// Role selects the direction of a Function.
type Role uint8

const (
	// RoleNone moves nothing.
	RoleNone Role = iota
	// RoleConsumer moves articles into its store.
	RoleConsumer
	// RoleSupplier moves articles out of its store.
	RoleSupplier
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleConsumer:
		return "consumer"
	case RoleSupplier:
		return "supplier"
	default:
		return "none"
	}
}

// Function moves articles into or out of one store. The zero value is an
// absent function that moves nothing.
type Function struct {
	role  Role
	store Store
}

// ConsumerOf returns the consumer function of s.
func ConsumerOf(s Store) Function { return Function{role: RoleConsumer, store: s} }

// SupplierOf returns the supplier function of s.
func SupplierOf(s Store) Function { return Function{role: RoleSupplier, store: s} }

// Role returns the function direction.
func (fn Function) Role() Role { return fn.role }

// IsAbsent reports whether fn moves nothing.
func (fn Function) IsAbsent() bool { return fn.store == nil || fn.role == RoleNone }

// Apply moves up to count whole units of a and returns the units moved.
func (fn Function) Apply(ctx context.Context, a types.Article, count int64, simulate bool) (int64, error) {
	if count < 0 {
		return 0, ErrNegativeQuantity
	}
	moved, err := fn.move(ctx, a, types.Whole(count), 1, simulate)
	if err != nil {
		return 0, err
	}
	return moved.ToLong(1), nil
}

// ApplyFraction moves up to numerator/divisor of a and returns the amount
// moved in units of 1/divisor.
func (fn Function) ApplyFraction(ctx context.Context, a types.Article, numerator, divisor int64, simulate bool) (int64, error) {
	if divisor < 1 {
		return 0, ErrInvalidDivisor
	}
	if numerator < 0 {
		return 0, ErrNegativeQuantity
	}
	moved, err := fn.move(ctx, a, types.Of(numerator, divisor), divisor, simulate)
	if err != nil {
		return 0, err
	}
	return moved.ToLong(divisor), nil
}

// ApplyAmount moves up to amount of a and returns the exact amount moved.
func (fn Function) ApplyAmount(ctx context.Context, a types.Article, amount types.Fraction, simulate bool) (types.Fraction, error) {
	return fn.move(ctx, a, amount, 0, simulate)
}

func (fn Function) move(ctx context.Context, a types.Article, amount types.Fraction, unit int64, simulate bool) (types.Fraction, error) {
	if err := validate(a, amount, unit); err != nil {
		return types.ZeroFraction, err
	}
	switch {
	case fn.IsAbsent():
		return types.ZeroFraction, nil
	case fn.role == RoleConsumer:
		return fn.store.Accept(ctx, a, amount, unit, simulate)
	case fn.role == RoleSupplier:
		return fn.store.Supply(ctx, a, amount, unit, simulate)
	default:
		panic(fmt.Sprintf("store: unknown role %d", fn.role))
	}
}

// ──────────────────────────────────────────────────
// Helpers shared by the implementations
// ──────────────────────────────────────────────────

func validate(a types.Article, amount types.Fraction, unit int64) error {
	if a.IsNothing() {
		return ErrNoArticle
	}
	if amount.IsNegative() {
		return ErrNegativeQuantity
	}
	if unit < 0 {
		return ErrInvalidDivisor
	}
	return nil
}

// granulate rounds amount down to whole units for discrete articles and to
// multiples of 1/unit when unit > 0.
func granulate(a types.Article, amount types.Fraction, unit int64) types.Fraction {
	if a.IsDiscrete() {
		amount = amount.RoundDown(1)
	}
	if unit > 0 {
		amount = amount.RoundDown(unit)
	}
	return amount
}

func isFull(s Store) bool {
	return s.Count().GreaterOrEqual(s.Capacity())
}
