package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins. Hook implementations are discovered
// once at registration, so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit              []OnInit
	onShutdown          []OnShutdown
	onScopeClosed       []OnScopeClosed
	onTransfer          []OnTransfer
	onStoreRegistered   []OnStoreRegistered
	onStoreUnregistered []OnStoreUnregistered
	onDesync            []OnDesync
	onStateFlushed      []OnStateFlushed
	onStateRestored     []OnStateRestored
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	cache := func(name string, ok bool) {
		if ok {
			hooks = append(hooks, name)
		}
	}
	cache("OnInit", appendHook(&r.onInit, p))
	cache("OnShutdown", appendHook(&r.onShutdown, p))
	cache("OnScopeClosed", appendHook(&r.onScopeClosed, p))
	cache("OnTransfer", appendHook(&r.onTransfer, p))
	cache("OnStoreRegistered", appendHook(&r.onStoreRegistered, p))
	cache("OnStoreUnregistered", appendHook(&r.onStoreUnregistered, p))
	cache("OnDesync", appendHook(&r.onDesync, p))
	cache("OnStateFlushed", appendHook(&r.onStateFlushed, p))
	cache("OnStateRestored", appendHook(&r.onStateRestored, p))

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

func appendHook[T Plugin](list *[]T, p Plugin) bool {
	v, ok := p.(T)
	if ok {
		*list = append(*list, v)
	}
	return ok
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the snapshot of list taken under the
// read lock. Failures are logged, never returned.
func emit[T Plugin](r *Registry, ctx context.Context, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger any) {
	emit(r, ctx, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, ledger)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, ctx, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitScopeClosed emits a scope closed event.
func (r *Registry) EmitScopeClosed(ctx context.Context, ev txn.Event) {
	emit(r, ctx, "OnScopeClosed", &r.onScopeClosed, func(p OnScopeClosed) error {
		return p.OnScopeClosed(ctx, ev)
	})
}

// EmitTransfer emits a transfer event.
func (r *Registry) EmitTransfer(ctx context.Context, from, to id.StoreID, article types.Article, moved types.Fraction) {
	emit(r, ctx, "OnTransfer", &r.onTransfer, func(p OnTransfer) error {
		return p.OnTransfer(ctx, from, to, article, moved)
	})
}

// EmitStoreRegistered emits a store registered event.
func (r *Registry) EmitStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) {
	emit(r, ctx, "OnStoreRegistered", &r.onStoreRegistered, func(p OnStoreRegistered) error {
		return p.OnStoreRegistered(ctx, storeID, kind)
	})
}

// EmitStoreUnregistered emits a store unregistered event.
func (r *Registry) EmitStoreUnregistered(ctx context.Context, storeID id.StoreID, purged bool) {
	emit(r, ctx, "OnStoreUnregistered", &r.onStoreUnregistered, func(p OnStoreUnregistered) error {
		return p.OnStoreUnregistered(ctx, storeID, purged)
	})
}

// EmitDesync emits an aggregate desync event.
func (r *Registry) EmitDesync(ctx context.Context, ev store.DesyncEvent) {
	emit(r, ctx, "OnDesync", &r.onDesync, func(p OnDesync) error {
		return p.OnDesync(ctx, ev)
	})
}

// EmitStateFlushed emits a state flushed event.
func (r *Registry) EmitStateFlushed(ctx context.Context, count int, elapsed time.Duration) {
	emit(r, ctx, "OnStateFlushed", &r.onStateFlushed, func(p OnStateFlushed) error {
		return p.OnStateFlushed(ctx, count, elapsed)
	})
}

// EmitStateRestored emits a state restored event.
func (r *Registry) EmitStateRestored(ctx context.Context, storeID id.StoreID, version int64) {
	emit(r, ctx, "OnStateRestored", &r.onStateRestored, func(p OnStateRestored) error {
		return p.OnStateRestored(ctx, storeID, version)
	})
}

// callWithTimeout calls a plugin function with a timeout. A plugin that
// outlives the timeout keeps running but no longer holds up the caller.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
