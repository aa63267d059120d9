package services_test

import (
	"context"
	"testing"

	"docflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithDocument(ctx, "invoice.pdf")
	ctx = services.WithStage(ctx, "classify")
	ctx = services.WithUnit(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if name, ok := services.DocumentFromContext(ctx); !ok || name != "invoice.pdf" {
		t.Fatalf("unexpected document: %v %v", name, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "classify" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if unit, ok := services.UnitFromContext(ctx); !ok || unit != 2 {
		t.Fatalf("unexpected unit: %v %v", unit, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithUnit(ctx, 0)
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.UnitFromContext(ctx); ok {
		t.Fatal("expected no unit value")
	}
}
