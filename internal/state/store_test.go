package state_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docflow/internal/state"
	"docflow/internal/testsupport"
)

func TestUpsertStageInsertsThenUpdates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Stage: state.StageInit, ProjectID: "p1"}); err != nil {
		t.Fatalf("UpsertStage init: %v", err)
	}
	if err := store.UpsertStage(ctx, state.StageUpdate{
		Filename:    "a.pdf",
		Stage:       state.StageDigitizePending,
		Action:      state.ActionDigitization,
		OperationID: "op-digitize",
	}); err != nil {
		t.Fatalf("UpsertStage pending: %v", err)
	}
	if err := store.UpsertStage(ctx, state.StageUpdate{
		Filename:   "a.pdf",
		DocumentID: "doc-1",
		Stage:      state.StageDigitized,
		Action:     state.ActionDigitization,
		Duration:   1500 * time.Millisecond,
		PageCount:  3,
	}); err != nil {
		t.Fatalf("UpsertStage digitized: %v", err)
	}

	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document row")
	}
	if doc.DocumentID != "doc-1" || doc.Stage != state.StageDigitized || doc.ProjectID != "p1" || doc.PageCount != 3 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.OperationIDs[state.ActionDigitization] != "op-digitize" {
		t.Fatalf("expected operation id to survive later updates, got %v", doc.OperationIDs)
	}
	if doc.Durations[state.ActionDigitization] != 1500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", doc.Durations[state.ActionDigitization])
	}
	if doc.CachedAt == nil {
		t.Fatal("expected cached_at to be set at digitized")
	}

	missing, err := store.Get(ctx, "missing.pdf")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing row, got %+v err=%v", missing, err)
	}
}

func TestUpsertStageRejectsRegression(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", DocumentID: "doc-1", Stage: state.StageDigitized})
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageClassified})

	err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Stage: state.StageDigitizePending})
	if !errors.Is(err, state.ErrStageRegression) {
		t.Fatalf("expected ErrStageRegression, got %v", err)
	}

	err = store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", DocumentID: "doc-2", Stage: state.StageClassified})
	if !errors.Is(err, state.ErrDocumentIDImmutable) {
		t.Fatalf("expected ErrDocumentIDImmutable, got %v", err)
	}

	mustUpsert(t, store, state.StageUpdate{
		Filename:     "a.pdf",
		Stage:        state.StageExtractFailed,
		ErrorCode:    "Boom",
		ErrorMessage: "remote failure",
	})
	err = store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Stage: state.StageExtracted})
	if !errors.Is(err, state.ErrStageRegression) {
		t.Fatalf("expected failed stage to be terminal, got %v", err)
	}

	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Stage != state.StageExtractFailed || doc.ErrorCode != "Boom" || doc.ErrorMessage != "remote failure" {
		t.Fatalf("unexpected document after failure: %+v", doc)
	}
	if doc.DocumentID != "doc-1" {
		t.Fatalf("document id changed: %q", doc.DocumentID)
	}
}

func TestSuccessClearsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageDigitizeFailed, ErrorCode: "X", ErrorMessage: "x"})
	if err := store.Rewind(ctx, "a.pdf", state.StageInit, "retry"); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Stage != state.StageInit || doc.ErrorCode != "" || doc.ErrorMessage != "" {
		t.Fatalf("expected rewound row with cleared error, got %+v", doc)
	}
}

func TestLookupCachedDocumentIDHonoursExpiry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cache.ExpiryDays = 7
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := testsupport.MustOpenStore(t, cfg, state.WithClock(clock))
	ctx := context.Background()

	id, ok, err := store.LookupCachedDocumentID(ctx, "a.pdf")
	if err != nil || ok || id != "" {
		t.Fatalf("expected miss for unknown file, got %q %v %v", id, ok, err)
	}

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageDigitizePending})
	if _, ok, _ := store.LookupCachedDocumentID(ctx, "a.pdf"); ok {
		t.Fatal("expected miss before digitization completes")
	}

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", DocumentID: "doc-1", Stage: state.StageDigitized})
	if err := store.PlanUnits(ctx, "a.pdf", []state.UnitPlan{{Index: 1, DocumentTypeID: "invoices"}}); err != nil {
		t.Fatalf("PlanUnits: %v", err)
	}

	now = now.Add(6 * 24 * time.Hour)
	id, ok, err = store.LookupCachedDocumentID(ctx, "a.pdf")
	if err != nil || !ok || id != "doc-1" {
		t.Fatalf("expected cache hit within window, got %q %v %v", id, ok, err)
	}

	now = now.Add(2 * 24 * time.Hour)
	id, ok, err = store.LookupCachedDocumentID(ctx, "a.pdf")
	if !errors.Is(err, state.ErrCacheExpired) || ok || id != "" {
		t.Fatalf("expected expiry, got %q %v %v", id, ok, err)
	}
	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected expired row to be evicted, got %+v", doc)
	}
	units, err := store.ListUnits(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected units evicted with document, got %d", len(units))
	}
}

func TestRewindDropsUnitsBeforeExtraction(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", DocumentID: "doc-1", Stage: state.StageDigitized})
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageExtractPending})
	if err := store.PlanUnits(ctx, "a.pdf", []state.UnitPlan{{Index: 1}, {Index: 2}}); err != nil {
		t.Fatalf("PlanUnits: %v", err)
	}
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageExtracted})

	if err := store.Rewind(ctx, "a.pdf", state.StageDigitized, "cache hit"); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Stage != state.StageDigitized || doc.DocumentID != "doc-1" {
		t.Fatalf("unexpected row after rewind: %+v", doc)
	}
	units, err := store.ListUnits(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected units dropped, got %d", len(units))
	}

	if err := store.Rewind(ctx, "a.pdf", state.StageExtractFailed, "bad"); err == nil {
		t.Fatal("expected rewind into a failed stage to be rejected")
	}
}

func TestUnitStagesAndPendingValidations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", DocumentID: "doc-1", Stage: state.StageDigitized})
	if err := store.PlanUnits(ctx, "a.pdf", []state.UnitPlan{
		{Index: 1, DocumentTypeID: "invoices", Confidence: 0.9, StartPage: 0, PageCount: 2, PageRange: "1-2"},
		{Index: 2, DocumentTypeID: "receipts", Confidence: 0.8, StartPage: 2, PageCount: 1, PageRange: "3"},
	}); err != nil {
		t.Fatalf("PlanUnits: %v", err)
	}

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Unit: 1, Stage: state.StageExtractPending, Action: state.ActionExtraction, OperationID: "op-e1", ExtractorID: "inv"})
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Unit: 1, Stage: state.StageExtracted, Action: state.ActionExtraction, Duration: 2 * time.Second})
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Unit: 1, Stage: state.StageExtractionValidationSubmitted, Action: state.ActionExtractionValidation, OperationID: "op-v1"})
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Unit: 2, Stage: state.StageExtractFailed, ErrorCode: "Nope", ErrorMessage: "bad"})

	if err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Unit: 1, Stage: state.StageExtracted}); !errors.Is(err, state.ErrStageRegression) {
		t.Fatalf("expected unit regression error, got %v", err)
	}
	if err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Unit: 1, Stage: state.StageClassified, Action: state.ActionClassification}); err == nil {
		t.Fatal("expected classification action to be rejected for a unit")
	}

	units, err := store.ListUnits(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	first := units[0]
	if first.DocumentTypeID != "invoices" || first.PageRange != "1-2" || first.ExtractorID != "inv" {
		t.Fatalf("unexpected unit 1: %+v", first)
	}
	if first.OperationIDs[state.ActionExtraction] != "op-e1" || first.OperationIDs[state.ActionExtractionValidation] != "op-v1" {
		t.Fatalf("unexpected unit operations: %v", first.OperationIDs)
	}
	if units[1].Stage != state.StageExtractFailed || units[1].ErrorCode != "Nope" {
		t.Fatalf("unexpected unit 2: %+v", units[1])
	}

	pending, err := store.PendingValidations(ctx)
	if err != nil {
		t.Fatalf("PendingValidations: %v", err)
	}
	if len(pending) != 1 || pending[0].Index != 1 || pending[0].Filename != "a.pdf" {
		t.Fatalf("unexpected pending validations: %+v", pending)
	}
}

func TestConcurrentUpsertsOnDistinctFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stages := []state.Stage{state.StageInit, state.StageDigitizePending, state.StageDigitized, state.StageClassifyInit, state.StageClassified}
	var wg sync.WaitGroup
	errs := make(chan error, 8*len(stages))
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("file-%d.pdf", i)
			for _, stage := range stages {
				update := state.StageUpdate{Filename: name, Stage: stage}
				if stage == state.StageDigitized {
					update.DocumentID = fmt.Sprintf("doc-%d", i)
				}
				if err := store.UpsertStage(ctx, update); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert failed: %v", err)
	}

	docs, err := store.List(ctx, state.StageClassified)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 8 {
		t.Fatalf("expected 8 classified documents, got %d", len(docs))
	}
	counts, err := store.StageCounts(ctx)
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[state.StageClassified] != 8 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestExtractionRowsAndValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rows := []state.ExtractionRow{
		{DocumentID: "doc-1", DocumentTypeID: "invoices", FieldID: "total", Field: "Total", Value: "10.00", Confidence: 0.9, OCRConfidence: 0.95, RowIndex: -1, ColumnIndex: -1},
		{DocumentID: "doc-1", DocumentTypeID: "invoices", FieldID: "items", Field: "Description", Value: "Widget", RowIndex: 1, ColumnIndex: 0},
		{DocumentID: "doc-1", DocumentTypeID: "invoices", FieldID: "items", Field: "Amount", Value: "", IsMissing: true, RowIndex: 1, ColumnIndex: 1},
	}
	if err := store.InsertExtractionRows(ctx, "a.pdf", 1, rows); err != nil {
		t.Fatalf("InsertExtractionRows: %v", err)
	}
	// Re-inserting replaces rather than duplicates.
	if err := store.InsertExtractionRows(ctx, "a.pdf", 1, rows); err != nil {
		t.Fatalf("InsertExtractionRows again: %v", err)
	}

	matched, err := store.ApplyValidatedRows(ctx, "a.pdf", 1, []state.ValidatedRow{
		{FieldID: "total", Field: "Total", RowIndex: -1, ColumnIndex: -1, Value: "10.00", OperatorConfirmed: true, DataSource: "Automatic"},
		{FieldID: "items", Field: "Description", RowIndex: 1, ColumnIndex: 0, Value: "Gadget", OperatorConfirmed: true, DataSource: "Automatic"},
		{FieldID: "items", Field: "Amount", RowIndex: 1, ColumnIndex: 1, Value: "", DataSource: "ManuallyChanged"},
		{FieldID: "unknown", Field: "Unknown", RowIndex: -1, ColumnIndex: -1, Value: "x"},
	})
	if err != nil {
		t.Fatalf("ApplyValidatedRows: %v", err)
	}
	if matched != 3 {
		t.Fatalf("expected 3 matched rows, got %d", matched)
	}

	stored, err := store.ExtractionRows(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("ExtractionRows: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(stored))
	}
	if stored[0].FieldID != "total" {
		t.Fatalf("expected scalar fields first, got %+v", stored[0])
	}
	want := map[string]bool{"Total": true, "Description": false, "Amount": false}
	for _, row := range stored {
		if row.IsCorrect == nil {
			t.Fatalf("expected is_correct for %s", row.Field)
		}
		if *row.IsCorrect != want[row.Field] {
			t.Fatalf("is_correct for %s = %v, want %v", row.Field, *row.IsCorrect, want[row.Field])
		}
		if row.ValidatedValue == nil {
			t.Fatalf("expected validated value for %s", row.Field)
		}
	}
}

func TestApplyValidatedRowsKeepsClearedValue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := store.InsertExtractionRows(ctx, "a.pdf", 1, []state.ExtractionRow{
		{DocumentID: "doc-1", DocumentTypeID: "invoices", FieldID: "total", Field: "Total", Value: "10", RowIndex: -1, ColumnIndex: -1},
	}); err != nil {
		t.Fatalf("InsertExtractionRows: %v", err)
	}
	matched, err := store.ApplyValidatedRows(ctx, "a.pdf", 1, []state.ValidatedRow{
		{FieldID: "total", Field: "Total", RowIndex: -1, ColumnIndex: -1, Value: "", DataSource: "ManuallyChanged"},
	})
	if err != nil || matched != 1 {
		t.Fatalf("ApplyValidatedRows matched=%d err=%v", matched, err)
	}

	stored, err := store.ExtractionRows(ctx, "a.pdf")
	if err != nil || len(stored) != 1 {
		t.Fatalf("ExtractionRows = %v, %v", stored, err)
	}
	row := stored[0]
	if row.ValidatedValue == nil || *row.ValidatedValue != "" {
		t.Fatalf("validated value = %v, want empty string", row.ValidatedValue)
	}
	if row.Value != "10" {
		t.Fatalf("original value = %q, want 10", row.Value)
	}
	if row.IsCorrect == nil || *row.IsCorrect {
		t.Fatalf("is_correct = %v, want false", row.IsCorrect)
	}
}

func TestClassificationAuditIsAppendOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.InsertClassification(ctx, state.ClassificationRecord{
			DocumentID:     "doc-1",
			Filename:       "a.pdf",
			DocumentTypeID: "invoices",
			Confidence:     0.9,
			PageCount:      2,
			ClassifierName: "classifier-1",
			OperationID:    fmt.Sprintf("op-%d", i),
		}); err != nil {
			t.Fatalf("InsertClassification: %v", err)
		}
	}
	records, err := store.Classifications(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Classifications: %v", err)
	}
	if len(records) != 2 || records[0].OperationID != "op-0" || records[1].OperationID != "op-1" {
		t.Fatalf("unexpected audit rows: %+v", records)
	}
}

func TestPurge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageInit})
	mustUpsert(t, store, state.StageUpdate{Filename: "b.pdf", Stage: state.StageInit})

	n, err := store.Purge(ctx, "a.pdf")
	if err != nil || n != 1 {
		t.Fatalf("Purge a.pdf: n=%d err=%v", n, err)
	}
	n, err = store.Purge(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Purge all: n=%d err=%v", n, err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustUpsert(t, store, state.StageUpdate{Filename: "a.pdf", Stage: state.StageInit})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	doc, err := reopened.Get(context.Background(), "a.pdf")
	if err != nil || doc == nil {
		t.Fatalf("expected row after reopen, got %+v err=%v", doc, err)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.StatePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	if _, err := state.Open(cfg); !errors.Is(err, state.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func mustUpsert(t *testing.T, store *state.Store, update state.StageUpdate) {
	t.Helper()
	if err := store.UpsertStage(context.Background(), update); err != nil {
		t.Fatalf("UpsertStage(%s %s): %v", update.Filename, update.Stage, err)
	}
}
