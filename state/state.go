// Package state defines how store state blobs are persisted.
//
// A Record holds the opaque blob a store writes with WriteState, keyed by
// the store ID. Backends live in subpackages: memory for tests and
// embedded use, and sqlite, postgres and mongo over grove.
package state

import (
	"context"
	"errors"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/types"
)

var (
	// ErrNotFound is returned when no record exists for a store.
	ErrNotFound = errors.New("state: record not found")

	// ErrClosed is returned by a repository after Close.
	ErrClosed = errors.New("state: repository closed")
)

// Record is one persisted store blob.
type Record struct {
	types.Entity

	StoreID id.StoreID `json:"store_id"`
	Kind    string     `json:"kind"`
	Data    []byte     `json:"data"`

	// Version increases by one on every save.
	Version int64 `json:"version"`

	// Count is the store's total quantity when saved, rendered as a string
	// for inspection. It is never read back.
	Count string `json:"count,omitempty"`
}

// ListOpts filters ListStates.
type ListOpts struct {
	Kind   string
	Limit  int
	Offset int
}

// Repository persists store state records.
type Repository interface {
	// SaveState inserts or replaces the record for r.StoreID. CreatedAt is
	// kept from the first save.
	SaveState(ctx context.Context, r *Record) error

	// LoadState returns the record for storeID, or ErrNotFound.
	LoadState(ctx context.Context, storeID id.StoreID) (*Record, error)

	// DeleteState removes the record for storeID, or returns ErrNotFound.
	DeleteState(ctx context.Context, storeID id.StoreID) error

	// ListStates returns records ordered by store ID.
	ListStates(ctx context.Context, opts ListOpts) ([]*Record, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
