package store

import (
	"log/slog"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

type options struct {
	id       id.StoreID
	filter   func(types.Article) bool
	logger   *slog.Logger
	handles  int
	coord    *txn.Coordinator
	policy   DesyncPolicy
	onDesync func(DesyncEvent)
}

func defaultOptions() options {
	return options{
		filter:  func(types.Article) bool { return true },
		logger:  slog.Default(),
		handles: defaultHandleCapacity,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id.IsNil() {
		o.id = id.NewStoreID()
	}
	return o
}

// Option configures a store.
type Option func(*options)

// WithID sets the store ID. Persistent stores need a stable ID so their
// state can be found again after a restart.
func WithID(storeID id.StoreID) Option {
	return func(o *options) {
		o.id = storeID
	}
}

// WithFilter restricts the articles a store accepts.
func WithFilter(fn func(types.Article) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.filter = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithInitialHandles sizes the handle table. It is rounded up to a power of two.
func WithInitialHandles(n int) Option {
	return func(o *options) {
		o.handles = n
	}
}

// WithCoordinator sets the coordinator an aggregate uses when the context
// carries no scope.
func WithCoordinator(c *txn.Coordinator) Option {
	return func(o *options) {
		o.coord = c
	}
}

// WithDesyncPolicy sets how an aggregate reacts to bookkeeping desync.
func WithDesyncPolicy(p DesyncPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithDesyncHandler registers a function called for every desync an
// aggregate detects.
func WithDesyncHandler(fn func(DesyncEvent)) Option {
	return func(o *options) {
		o.onDesync = fn
	}
}
