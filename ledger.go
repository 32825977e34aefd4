package stockpile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Ledger owns a transaction coordinator and a set of persistent stores.
// Changed stores are written to a state.Repository in the background.
type Ledger struct {
	repo    state.Repository
	coord   *txn.Coordinator
	plugins *plugin.Registry
	logger  *slog.Logger

	mu     sync.RWMutex
	stores map[string]*entry

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	// flushMu serializes flushes so records are saved in version order.
	flushMu sync.Mutex

	// Background worker
	kick     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	lifeMu   sync.Mutex
	started  bool
	stopped  bool

	// Configuration
	flushBatchSize int
	flushInterval  time.Duration
	desyncPolicy   store.DesyncPolicy
	listeners      []store.Listener
}

// entry is one registered store. binding is set for portable stores, which
// persist through their carrier instead of the repository.
type entry struct {
	store   store.Store
	kind    string
	version int64
	binding BlobBinding
}

// New creates a new Ledger instance.
func New(repo state.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:           repo,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		stores:         make(map[string]*entry),
		dirty:          make(map[string]struct{}),
		kick:           make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
		flushBatchSize: 100,
		flushInterval:  5 * time.Second,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.coord == nil {
		l.coord = txn.NewCoordinator(
			txn.WithLogger(l.logger),
			txn.WithObserver(l.scopeClosed),
		)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithFlushConfig sets how many dirty stores trigger an early flush and how
// often the background worker flushes regardless.
func WithFlushConfig(batchSize int, interval time.Duration) Option {
	return func(l *Ledger) {
		if batchSize > 0 {
			l.flushBatchSize = batchSize
		}
		if interval > 0 {
			l.flushInterval = interval
		}
	}
}

// WithCoordinator makes the ledger use c instead of creating its own
// coordinator. OnScopeClosed hooks only fire for a coordinator the ledger
// created.
func WithCoordinator(c *txn.Coordinator) Option {
	return func(l *Ledger) {
		l.coord = c
	}
}

// WithDesyncPolicy sets the policy of aggregates created by NewAggregate.
func WithDesyncPolicy(p store.DesyncPolicy) Option {
	return func(l *Ledger) {
		l.desyncPolicy = p
	}
}

// WithListener attaches l to every store while it is registered, replaying
// its contents on Register and detaching on Unregister.
func WithListener(listener store.Listener) Option {
	return func(l *Ledger) {
		l.listeners = append(l.listeners, listener)
	}
}

// Start migrates the repository and begins the flush worker. A ledger
// starts once: Stop closes the repository, so a stopped ledger returns
// ErrStopped.
func (l *Ledger) Start(ctx context.Context) error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	switch {
	case l.stopped:
		return ErrStopped
	case l.started:
		return ErrAlreadyStarted
	}

	if err := l.repo.Migrate(ctx); err != nil {
		return fmt.Errorf("stockpile: migrate: %w", err)
	}

	l.plugins.EmitInit(ctx, l)

	l.started = true
	l.wg.Add(1)
	go l.flushWorker(ctx)

	l.logger.Info("stockpile started",
		"batch_size", l.flushBatchSize,
		"flush_interval", l.flushInterval,
	)

	return nil
}

// Stop flushes outstanding state, stops the worker and closes the
// repository. Later calls do nothing.
func (l *Ledger) Stop() error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.stopped {
		return nil
	}
	l.stopped = true
	ctx := context.Background()

	if l.started {
		close(l.stopChan)
		l.wg.Wait()
		l.started = false
	} else if _, err := l.Flush(ctx); err != nil {
		l.logger.Error("final flush failed", "error", err)
	}

	l.plugins.EmitShutdown(ctx)

	return l.repo.Close()
}

// Coordinator returns the ledger's transaction coordinator.
func (l *Ledger) Coordinator() *txn.Coordinator { return l.coord }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// ──────────────────────────────────────────────────
// Scopes
// ──────────────────────────────────────────────────

// Open starts a transaction scope, nesting if ctx already carries one.
func (l *Ledger) Open(ctx context.Context) (context.Context, *txn.Scope, error) {
	return l.coord.Open(ctx)
}

// Run calls fn inside a scope, committing when it returns nil.
func (l *Ledger) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.coord.Run(ctx, fn)
}

func (l *Ledger) scopeClosed(ctx context.Context, ev txn.Event) {
	// Nested scopes close with the coordinator still locked, and empty
	// scopes are the ledger's own flushes.
	if ev.Depth > 0 || ev.Participants == 0 {
		return
	}
	l.plugins.EmitScopeClosed(ctx, ev)
}

// ──────────────────────────────────────────────────
// Store registry
// ──────────────────────────────────────────────────

// Register adds s to the ledger. If the repository holds a record for s,
// the store is restored from it first. Changes to s are persisted by later
// flushes. Register must not be called inside an open scope.
func (l *Ledger) Register(ctx context.Context, s store.Store) error {
	kind, err := l.admit(ctx, s)
	if err != nil {
		return err
	}

	e := &entry{store: s, kind: kind}
	rec, err := l.repo.LoadState(ctx, s.ID())
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return fmt.Errorf("stockpile: load %s: %w", s.ID(), err)
	default:
		if err := s.ReadState(rec.Data); err != nil {
			return fmt.Errorf("stockpile: restore %s: %w", s.ID(), err)
		}
		e.version = rec.Version
		l.plugins.EmitStateRestored(ctx, s.ID(), rec.Version)
		l.logger.Debug("store restored",
			"store_id", s.ID().String(),
			"version", rec.Version,
			"count", s.Count().String(),
		)
	}

	return l.add(ctx, e)
}

// BindPortable adds s to the ledger with binding as its persistence
// target. The store is restored from the binding's blob when it has one,
// and flushes write back to the binding instead of the repository.
func (l *Ledger) BindPortable(ctx context.Context, s store.Store, binding BlobBinding) error {
	if binding == nil {
		return fmt.Errorf("%w: nil binding", ErrInvalidInput)
	}
	kind, err := l.admit(ctx, s)
	if err != nil {
		return err
	}

	if blob := binding.BackingBlob(); len(blob) > 0 {
		if err := s.ReadState(blob); err != nil {
			return fmt.Errorf("stockpile: restore %s from binding: %w", s.ID(), err)
		}
		l.plugins.EmitStateRestored(ctx, s.ID(), 0)
	}

	return l.add(ctx, &entry{store: s, kind: kind, binding: binding})
}

// admit validates s for registration and returns its state kind.
func (l *Ledger) admit(ctx context.Context, s store.Store) (string, error) {
	if inScope(ctx) {
		return "", ErrScopeOpen
	}
	if s == nil || s.ID().IsNil() {
		return "", fmt.Errorf("%w: store without id", ErrInvalidInput)
	}
	kind := store.StateKind(s)
	if kind == "" {
		return "", fmt.Errorf("%w: %s", ErrNotPersistent, s.ID())
	}

	l.mu.RLock()
	_, exists := l.stores[s.ID().String()]
	l.mu.RUnlock()
	if exists {
		return "", fmt.Errorf("%w: %s", ErrStoreExists, s.ID())
	}
	return kind, nil
}

func (l *Ledger) add(ctx context.Context, e *entry) error {
	key := e.store.ID().String()

	l.mu.Lock()
	if _, exists := l.stores[key]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStoreExists, key)
	}
	l.stores[key] = e
	l.mu.Unlock()

	e.store.SetDirtyCallback(func() { l.markDirty(key) })
	for _, listener := range l.listeners {
		e.store.StartListening(listener, true)
	}

	l.plugins.EmitStoreRegistered(ctx, e.store.ID(), e.kind)
	return nil
}

// Unregister removes a store from the ledger. Unless purge is set, pending
// changes are persisted first; with purge the persisted record is deleted.
func (l *Ledger) Unregister(ctx context.Context, storeID id.StoreID, purge bool) error {
	if inScope(ctx) {
		return ErrScopeOpen
	}
	key := storeID.String()

	l.mu.Lock()
	e, ok := l.stores[key]
	if ok {
		delete(l.stores, key)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotRegistered, storeID)
	}
	e.store.SetDirtyCallback(nil)
	for _, listener := range l.listeners {
		e.store.StopListening(listener, false)
	}

	l.dirtyMu.Lock()
	_, wasDirty := l.dirty[key]
	delete(l.dirty, key)
	l.dirtyMu.Unlock()

	switch {
	case purge && e.binding == nil:
		if err := l.repo.DeleteState(ctx, storeID); err != nil && !errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("stockpile: purge %s: %w", storeID, err)
		}
	case purge:
		e.binding.SetBackingBlob(nil)
	case wasDirty:
		snaps, err := l.capture(ctx, []*entry{e})
		if err != nil {
			return err
		}
		if err := l.persist(ctx, snaps[0]); err != nil {
			return fmt.Errorf("stockpile: save %s: %w", storeID, err)
		}
	}

	l.plugins.EmitStoreUnregistered(ctx, storeID, purge)
	return nil
}

// Store returns the registered store with the given id.
func (l *Ledger) Store(storeID id.StoreID) (store.Store, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if e, ok := l.stores[storeID.String()]; ok {
		return e.store, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStoreNotRegistered, storeID)
}

// Stores returns the ids of all registered stores, sorted.
func (l *Ledger) Stores() []id.StoreID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]id.StoreID, 0, len(l.stores))
	for _, e := range l.stores {
		ids = append(ids, e.store.ID())
	}
	slices.SortFunc(ids, func(a, b id.StoreID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// NewAggregate creates an aggregate bound to the ledger's coordinator.
// Desyncs are reported to OnDesync plugins. Aggregates are not registered:
// their contents live in their members.
func (l *Ledger) NewAggregate(opts ...store.Option) *store.AggregateStore {
	base := []store.Option{
		store.WithCoordinator(l.coord),
		store.WithLogger(l.logger),
		store.WithDesyncPolicy(l.desyncPolicy),
		store.WithDesyncHandler(func(ev store.DesyncEvent) {
			l.plugins.EmitDesync(context.Background(), ev)
		}),
	}
	return store.NewAggregateStore(append(base, opts...)...)
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

// Transfer moves up to amount of a from one store to another inside one
// scope and returns the amount moved: the most that from can supply and to
// can accept. Either both sides change or neither does.
func (l *Ledger) Transfer(ctx context.Context, from, to store.Store, a types.Article, amount types.Fraction) (types.Fraction, error) {
	if from == nil || to == nil || from == to {
		return types.ZeroFraction, ErrInvalidTransfer
	}

	moved := types.ZeroFraction
	err := l.coord.Run(ctx, func(ctx context.Context) error {
		offer, err := from.Supply(ctx, a, amount, 0, true)
		if err != nil {
			return err
		}
		room, err := to.Accept(ctx, a, offer, 0, true)
		if err != nil || !room.IsPositive() {
			return err
		}

		taken, err := from.Supply(ctx, a, room, 0, false)
		if err != nil {
			return err
		}
		put, err := to.Accept(ctx, a, taken, 0, false)
		if err != nil {
			return err
		}
		if !put.Equal(taken) {
			return fmt.Errorf("%w: supplied %s, accepted %s", ErrTransferIncomplete, taken, put)
		}
		moved = put
		return nil
	})
	if err != nil {
		return types.ZeroFraction, err
	}

	if moved.IsPositive() {
		l.plugins.EmitTransfer(ctx, from.ID(), to.ID(), a, moved)
	}
	return moved, nil
}

// ──────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────

func (l *Ledger) markDirty(key string) {
	l.dirtyMu.Lock()
	l.dirty[key] = struct{}{}
	n := len(l.dirty)
	l.dirtyMu.Unlock()

	if n >= l.flushBatchSize {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Dirty returns the number of stores with unpersisted changes.
func (l *Ledger) Dirty() int {
	l.dirtyMu.Lock()
	defer l.dirtyMu.Unlock()
	return len(l.dirty)
}

// snapshot is a store's encoded state captured inside a scope.
type snapshot struct {
	entry   *entry
	storeID id.StoreID
	blob    []byte
	count   string
	version int64
}

// Flush persists every dirty store and returns how many were saved. State
// is captured while holding a scope, so no half-finished scope is ever
// persisted. Flush must not be called inside an open scope.
func (l *Ledger) Flush(ctx context.Context) (int, error) {
	if inScope(ctx) {
		return 0, ErrScopeOpen
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	snaps, err := l.capture(ctx, nil)
	if err != nil {
		return 0, err
	}

	var errs MultiError
	saved := 0
	for start := 0; start < len(snaps); start += l.flushBatchSize {
		batch := snaps[start:min(start+l.flushBatchSize, len(snaps))]
		if n := l.flushBatch(ctx, batch, &errs); n > 0 {
			saved += n
		}
	}
	return saved, errs.Err()
}

func (l *Ledger) flushBatch(ctx context.Context, batch []snapshot, errs *MultiError) int {
	began := time.Now()
	saved := 0
	for _, snap := range batch {
		if err := l.persist(ctx, snap); err != nil {
			errs.Add(fmt.Errorf("stockpile: save %s: %w", snap.storeID, err))
			l.markDirty(snap.storeID.String())
			continue
		}
		saved++
	}

	elapsed := time.Since(began)
	if saved > 0 {
		l.plugins.EmitStateFlushed(ctx, saved, elapsed)
	}
	l.logger.Debug("flushed store state",
		"batch_size", len(batch),
		"saved", saved,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return saved
}

// capture encodes the given entries, or every dirty entry when entries is
// nil, inside a scope of the ledger's coordinator.
func (l *Ledger) capture(ctx context.Context, entries []*entry) ([]snapshot, error) {
	_, scope, err := l.coord.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close() //nolint:errcheck // no-op after Commit

	if entries == nil {
		entries = l.takeDirty()
	}

	var errs MultiError
	snaps := make([]snapshot, 0, len(entries))

	l.mu.Lock()
	for _, e := range entries {
		blob, err := e.store.WriteState()
		if err != nil {
			errs.Add(fmt.Errorf("stockpile: encode %s: %w", e.store.ID(), err))
			continue
		}
		e.version++
		snaps = append(snaps, snapshot{
			entry:   e,
			storeID: e.store.ID(),
			blob:    blob,
			count:   e.store.Count().String(),
			version: e.version,
		})
	}
	l.mu.Unlock()

	if err := scope.Commit(); err != nil {
		return nil, err
	}
	return snaps, errs.Err()
}

// takeDirty swaps out the dirty set and resolves it to registered entries.
func (l *Ledger) takeDirty() []*entry {
	l.dirtyMu.Lock()
	keys := l.dirty
	l.dirty = make(map[string]struct{}, len(keys))
	l.dirtyMu.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]*entry, 0, len(keys))
	for key := range keys {
		if e, ok := l.stores[key]; ok {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		return strings.Compare(a.store.ID().String(), b.store.ID().String())
	})
	return entries
}

func (l *Ledger) persist(ctx context.Context, snap snapshot) error {
	if snap.entry.binding != nil {
		snap.entry.binding.SetBackingBlob(snap.blob)
		return nil
	}

	return l.repo.SaveState(ctx, &state.Record{
		Entity:  types.NewEntity(),
		StoreID: snap.storeID,
		Kind:    snap.entry.kind,
		Data:    snap.blob,
		Version: snap.version,
		Count:   snap.count,
	})
}

// flushWorker persists dirty stores every interval, or sooner once a batch
// worth of stores is dirty.
func (l *Ledger) flushWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			// Final flush
			l.flushLogged(context.WithoutCancel(ctx))
			return

		case <-ctx.Done():
			return

		case <-l.kick:
			l.flushLogged(ctx)

		case <-ticker.C:
			l.flushLogged(ctx)
		}
	}
}

func (l *Ledger) flushLogged(ctx context.Context) {
	if l.Dirty() == 0 {
		return
	}
	if _, err := l.Flush(ctx); err != nil {
		l.logger.Error("failed to flush store state", "error", err)
	}
}

func inScope(ctx context.Context) bool {
	s := txn.FromContext(ctx)
	return s != nil && s.IsOpen()
}
