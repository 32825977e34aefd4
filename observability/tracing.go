package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// TracerName is the instrumentation scope of spans created here.
const TracerName = "github.com/xraph/stockpile"

var (
	_ plugin.Plugin        = (*TracingExtension)(nil)
	_ plugin.OnScopeClosed = (*TracingExtension)(nil)
	_ plugin.OnTransfer    = (*TracingExtension)(nil)
	_ plugin.OnDesync      = (*TracingExtension)(nil)
)

// TracingExtension records closed scopes as OpenTelemetry spans, backdated
// to when the scope opened. Transfers and desyncs become events on the
// span found in the context.
type TracingExtension struct {
	tracer trace.Tracer
}

// NewTracingExtension creates a TracingExtension. A nil provider uses the
// global one.
func NewTracingExtension(tp trace.TracerProvider) *TracingExtension {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingExtension{tracer: tp.Tracer(TracerName)}
}

// Name implements plugin.Plugin.
func (t *TracingExtension) Name() string { return "observability-tracing" }

// OnScopeClosed implements plugin.OnScopeClosed.
func (t *TracingExtension) OnScopeClosed(ctx context.Context, ev txn.Event) error {
	_, span := t.tracer.Start(ctx, "stockpile.scope",
		trace.WithTimestamp(ev.Opened),
		trace.WithAttributes(
			attribute.String("stockpile.scope.id", ev.ID.String()),
			attribute.Int("stockpile.scope.depth", ev.Depth),
			attribute.Int("stockpile.scope.participants", ev.Participants),
			attribute.Bool("stockpile.scope.committed", ev.Committed),
		),
	)
	if !ev.Committed {
		span.SetStatus(codes.Error, "rolled back")
	}
	span.End(trace.WithTimestamp(ev.Closed))
	return nil
}

// OnTransfer implements plugin.OnTransfer.
func (t *TracingExtension) OnTransfer(ctx context.Context, from, to id.StoreID, article types.Article, moved types.Fraction) error {
	trace.SpanFromContext(ctx).AddEvent("stockpile.transfer", trace.WithAttributes(
		attribute.String("stockpile.transfer.from", from.String()),
		attribute.String("stockpile.transfer.to", to.String()),
		attribute.String("stockpile.article", article.String()),
		attribute.String("stockpile.amount", moved.String()),
	))
	return nil
}

// OnDesync implements plugin.OnDesync.
func (t *TracingExtension) OnDesync(ctx context.Context, ev store.DesyncEvent) error {
	trace.SpanFromContext(ctx).AddEvent("stockpile.desync", trace.WithAttributes(
		attribute.String("stockpile.store.id", ev.Aggregate.String()),
		attribute.String("stockpile.member.id", ev.Member.String()),
		attribute.String("stockpile.desync.kind", ev.Kind.String()),
		attribute.String("stockpile.article", ev.Article.String()),
		attribute.String("stockpile.expected", ev.Expected.String()),
		attribute.String("stockpile.actual", ev.Actual.String()),
	))
	return nil
}
