// Package plugin provides an extensible plugin system for stockpile.
// Plugins hook into ledger lifecycle events: startup, closed transaction
// scopes, store registration, state persistence and aggregate desyncs.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, ledger any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnScopeClosed is called after a transaction scope commits or rolls back.
// It runs after the coordinator's locks are released.
type OnScopeClosed interface {
	Plugin
	OnScopeClosed(ctx context.Context, ev txn.Event) error
}

// OnTransfer is called after Ledger.Transfer moved a non-zero amount.
type OnTransfer interface {
	Plugin
	OnTransfer(ctx context.Context, from, to id.StoreID, article types.Article, moved types.Fraction) error
}

// ──────────────────────────────────────────────────
// Store hooks
// ──────────────────────────────────────────────────

// OnStoreRegistered is called when a store joins the ledger.
type OnStoreRegistered interface {
	Plugin
	OnStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) error
}

// OnStoreUnregistered is called when a store leaves the ledger.
type OnStoreUnregistered interface {
	Plugin
	OnStoreUnregistered(ctx context.Context, storeID id.StoreID, purged bool) error
}

// OnDesync is called when an aggregate finds its bookkeeping out of sync
// with its members.
type OnDesync interface {
	Plugin
	OnDesync(ctx context.Context, ev store.DesyncEvent) error
}

// ──────────────────────────────────────────────────
// Persistence hooks
// ──────────────────────────────────────────────────

// OnStateFlushed is called after a batch of dirty stores was persisted.
type OnStateFlushed interface {
	Plugin
	OnStateFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// OnStateRestored is called when a registered store was loaded from its
// persisted blob.
type OnStateRestored interface {
	Plugin
	OnStateRestored(ctx context.Context, storeID id.StoreID, version int64) error
}
