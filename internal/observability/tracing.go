package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the docflow tracer.
const TracerName = "docflow"

// Span attribute keys.
const (
	AttrFilename    = "docflow.filename"
	AttrDocumentID  = "docflow.document_id"
	AttrAction      = "docflow.action"
	AttrUnit        = "docflow.unit"
	AttrOperationID = "docflow.operation_id"
	AttrRunID       = "docflow.run_id"
	AttrStage       = "docflow.stage"
)

// Tracer starts spans for documents and stages. It uses the global
// TracerProvider, which is a no-op unless the embedding program installs one.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer bound to the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartDocument opens the root span for one input file.
func (t *Tracer) StartDocument(ctx context.Context, runID, filename string) (context.Context, trace.Span) {
	return t.start(ctx, "docflow.document",
		attribute.String(AttrRunID, runID),
		attribute.String(AttrFilename, filename),
	)
}

// StartStage opens a span for one remote stage. unit is 0 for document-level
// stages.
func (t *Tracer) StartStage(ctx context.Context, action string, unit int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(AttrAction, action)}
	if unit > 0 {
		attrs = append(attrs, attribute.Int(AttrUnit, unit))
	}
	return t.start(ctx, "docflow.stage."+action, attrs...)
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, recording err when non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
