package stockpile

import (
	"context"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/store"
)

// Location addresses a place in the host's world, such as a block
// position in a named dimension.
type Location struct {
	Space string `json:"space"`
	X     int64  `json:"x"`
	Y     int64  `json:"y"`
	Z     int64  `json:"z"`
}

// Side is the face of a location a caller is reaching through.
type Side uint8

const (
	SideAny Side = iota
	SideDown
	SideUp
	SideNorth
	SideSouth
	SideWest
	SideEast
)

// Authorization identifies who is asking for access. Hosts decide what it
// permits.
type Authorization struct {
	Principal string
}

// Locator resolves something attached to a location, for example the
// store inside a machine. It is implemented by the host.
type Locator[T any] interface {
	Lookup(ctx context.Context, loc Location, side Side, storeID id.StoreID, auth Authorization) (T, bool)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc[T any] func(ctx context.Context, loc Location, side Side, storeID id.StoreID, auth Authorization) (T, bool)

// Lookup calls fn.
func (fn LocatorFunc[T]) Lookup(ctx context.Context, loc Location, side Side, storeID id.StoreID, auth Authorization) (T, bool) {
	return fn(ctx, loc, side, storeID, auth)
}

// BlobBinding is the persistence target of a portable store, one carried
// by an item rather than fixed in place. It is implemented by the host.
type BlobBinding interface {
	BackingBlob() []byte
	SetBackingBlob(blob []byte)
}

// Locator returns a Locator that finds registered stores by id, ignoring
// location and side. Hosts can wrap it to add placement and access checks.
func (l *Ledger) Locator() Locator[store.Store] {
	return LocatorFunc[store.Store](func(_ context.Context, _ Location, _ Side, storeID id.StoreID, _ Authorization) (store.Store, bool) {
		s, err := l.Store(storeID)
		return s, err == nil
	})
}
