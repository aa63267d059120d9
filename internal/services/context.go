package services

import "context"

// Context keys are unexported types so no other package can collide with them.
type (
	documentKey  struct{}
	stageKey     struct{}
	unitKey      struct{}
	requestIDKey struct{}
)

// WithDocument tags ctx with the input filename. Empty names are ignored.
func WithDocument(ctx context.Context, filename string) context.Context {
	return withString(ctx, documentKey{}, filename)
}

// DocumentFromContext returns the input filename set by WithDocument.
func DocumentFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, documentKey{})
}

// WithStage tags ctx with the pipeline action being run.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey{}, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, stageKey{})
}

// WithUnit tags ctx with a 1-based extraction unit. Zero and negative
// indexes are ignored.
func WithUnit(ctx context.Context, unit int) context.Context {
	if unit < 1 {
		return ctx
	}
	return context.WithValue(ctx, unitKey{}, unit)
}

func UnitFromContext(ctx context.Context) (int, bool) {
	unit, ok := ctx.Value(unitKey{}).(int)
	return unit, ok && unit > 0
}

// WithRequestID tags ctx with the run correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey{})
}

func withString(ctx context.Context, key any, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key any) (string, bool) {
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}
