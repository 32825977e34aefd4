// Package audithook bridges stockpile lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit product. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnScopeClosed       = (*Extension)(nil)
	_ plugin.OnTransfer          = (*Extension)(nil)
	_ plugin.OnStoreRegistered   = (*Extension)(nil)
	_ plugin.OnStoreUnregistered = (*Extension)(nil)
	_ plugin.OnDesync            = (*Extension)(nil)
	_ plugin.OnStateFlushed      = (*Extension)(nil)
	_ plugin.OnStateRestored     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger lifecycle events to an audit trail backend.
// Scope events are off by default since every transaction produces one;
// enable them with WithEnabledActions.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = defaults
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnScopeClosed implements plugin.OnScopeClosed.
func (e *Extension) OnScopeClosed(ctx context.Context, ev txn.Event) error {
	action, outcome := ActionScopeCommitted, OutcomeSuccess
	if !ev.Committed {
		action, outcome = ActionScopeRolledBack, OutcomeFailure
	}
	return e.record(ctx, action, SeverityInfo, outcome,
		ResourceScope, ev.ID.String(), CategoryInventory, nil,
		"participants", ev.Participants,
		"duration_ms", ev.Duration().Milliseconds(),
	)
}

// OnTransfer implements plugin.OnTransfer.
func (e *Extension) OnTransfer(ctx context.Context, from, to id.StoreID, article types.Article, moved types.Fraction) error {
	return e.record(ctx, ActionTransfer, SeverityInfo, OutcomeSuccess,
		ResourceStore, from.String(), CategoryInventory, nil,
		"to", to.String(),
		"article", article.String(),
		"amount", moved.String(),
	)
}

// ──────────────────────────────────────────────────
// Store hooks
// ──────────────────────────────────────────────────

// OnStoreRegistered implements plugin.OnStoreRegistered.
func (e *Extension) OnStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) error {
	return e.record(ctx, ActionStoreRegistered, SeverityInfo, OutcomeSuccess,
		ResourceStore, storeID.String(), CategoryInventory, nil,
		"kind", kind,
	)
}

// OnStoreUnregistered implements plugin.OnStoreUnregistered.
func (e *Extension) OnStoreUnregistered(ctx context.Context, storeID id.StoreID, purged bool) error {
	action := ActionStoreUnregistered
	if purged {
		action = ActionStorePurged
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceStore, storeID.String(), CategoryInventory, nil,
		"purged", purged,
	)
}

// OnDesync implements plugin.OnDesync.
func (e *Extension) OnDesync(ctx context.Context, ev store.DesyncEvent) error {
	return e.record(ctx, ActionStoreDesync, SeverityWarning, OutcomePartial,
		ResourceStore, ev.Aggregate.String(), CategoryIntegrity, fmt.Errorf("%s", ev),
		"member", ev.Member.String(),
		"kind", ev.Kind.String(),
		"article", ev.Article.String(),
	)
}

// ──────────────────────────────────────────────────
// Persistence hooks
// ──────────────────────────────────────────────────

// OnStateFlushed implements plugin.OnStateFlushed.
func (e *Extension) OnStateFlushed(ctx context.Context, count int, elapsed time.Duration) error {
	return e.record(ctx, ActionStateFlushed, SeverityInfo, OutcomeSuccess,
		ResourceState, "", CategoryPersistence, nil,
		"count", count,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStateRestored implements plugin.OnStateRestored.
func (e *Extension) OnStateRestored(ctx context.Context, storeID id.StoreID, version int64) error {
	return e.record(ctx, ActionStateRestored, SeverityInfo, OutcomeSuccess,
		ResourceState, storeID.String(), CategoryPersistence, nil,
		"version", version,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) isEnabled(action string) bool {
	if e.enabled == nil {
		return defaultEnabled(action)
	}
	return e.enabled[action]
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.isEnabled(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
