// Package observability provides stockpile plugins that export ledger
// lifecycle events as metrics and traces.
package observability

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnScopeClosed       = (*MetricsExtension)(nil)
	_ plugin.OnTransfer          = (*MetricsExtension)(nil)
	_ plugin.OnStoreRegistered   = (*MetricsExtension)(nil)
	_ plugin.OnStoreUnregistered = (*MetricsExtension)(nil)
	_ plugin.OnDesync            = (*MetricsExtension)(nil)
	_ plugin.OnStateFlushed      = (*MetricsExtension)(nil)
	_ plugin.OnStateRestored     = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger lifecycle metrics.
// Register it as a Ledger plugin.
type MetricsExtension struct {
	// Scope metrics
	ScopeCommitted    Counter
	ScopeRolledBack   Counter
	ScopeDuration     Histogram
	ScopeParticipants Histogram

	// Transfer metrics
	Transfers      Counter
	TransferAmount Histogram

	// Store metrics
	StoreRegistered   Counter
	StoreUnregistered Counter
	StorePurged       Counter
	StoreDesync       Counter

	// Persistence metrics
	StateFlushed      Counter
	StateFlushLatency Histogram
	StateRestored     Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		ScopeCommitted:    factory.Counter("stockpile.scope.committed"),
		ScopeRolledBack:   factory.Counter("stockpile.scope.rolled_back"),
		ScopeDuration:     factory.Histogram("stockpile.scope.duration_ms"),
		ScopeParticipants: factory.Histogram("stockpile.scope.participants"),

		Transfers:      factory.Counter("stockpile.transfer.count"),
		TransferAmount: factory.Histogram("stockpile.transfer.amount"),

		StoreRegistered:   factory.Counter("stockpile.store.registered"),
		StoreUnregistered: factory.Counter("stockpile.store.unregistered"),
		StorePurged:       factory.Counter("stockpile.store.purged"),
		StoreDesync:       factory.Counter("stockpile.store.desync"),

		StateFlushed:      factory.Counter("stockpile.state.flushed"),
		StateFlushLatency: factory.Histogram("stockpile.state.flush.latency_ms"),
		StateRestored:     factory.Counter("stockpile.state.restored"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnScopeClosed implements plugin.OnScopeClosed.
func (m *MetricsExtension) OnScopeClosed(_ context.Context, ev txn.Event) error {
	if ev.Committed {
		m.ScopeCommitted.Inc()
	} else {
		m.ScopeRolledBack.Inc()
	}
	m.ScopeDuration.Observe(float64(ev.Duration().Microseconds()) / 1000)
	m.ScopeParticipants.Observe(float64(ev.Participants))
	return nil
}

// OnTransfer implements plugin.OnTransfer.
func (m *MetricsExtension) OnTransfer(_ context.Context, _, _ id.StoreID, _ types.Article, moved types.Fraction) error {
	m.Transfers.Inc()
	m.TransferAmount.Observe(moved.Float64())
	return nil
}

// OnStoreRegistered implements plugin.OnStoreRegistered.
func (m *MetricsExtension) OnStoreRegistered(_ context.Context, _ id.StoreID, _ string) error {
	m.StoreRegistered.Inc()
	return nil
}

// OnStoreUnregistered implements plugin.OnStoreUnregistered.
func (m *MetricsExtension) OnStoreUnregistered(_ context.Context, _ id.StoreID, purged bool) error {
	m.StoreUnregistered.Inc()
	if purged {
		m.StorePurged.Inc()
	}
	return nil
}

// OnDesync implements plugin.OnDesync.
func (m *MetricsExtension) OnDesync(_ context.Context, _ store.DesyncEvent) error {
	m.StoreDesync.Inc()
	return nil
}

// OnStateFlushed implements plugin.OnStateFlushed.
func (m *MetricsExtension) OnStateFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.StateFlushed.Add(float64(count))
	m.StateFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnStateRestored implements plugin.OnStateRestored.
func (m *MetricsExtension) OnStateRestored(_ context.Context, _ id.StoreID, _ int64) error {
	m.StateRestored.Inc()
	return nil
}
