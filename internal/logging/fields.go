package logging

import (
	"context"
	"log/slog"

	"docflow/internal/services"
)

// Structured keys shared by every component.
const (
	FieldComponent     = "component"
	FieldDocument      = "document"
	FieldStage         = "stage"
	FieldUnit          = "unit"
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags a line for filtering, e.g. "poll_retry".
	FieldEventType = "event_type"
	FieldErrorCode = "error_code"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the consequence of a warning for the batch.
	FieldImpact = "impact"
)

// ContextFields returns the document, unit, stage and run id carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if document, ok := services.DocumentFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDocument, document))
	}
	if unit, ok := services.UnitFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldUnit, unit))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if runID, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, runID))
	}
	return fields
}

// WithContext tags logger with ContextFields(ctx). A nil logger yields a
// no-op logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(Args(fields...)...)
	}
	return logger
}
