package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/pipeline"
	"docflow/internal/poller"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/state"
	"docflow/internal/testsupport"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	fake  *testsupport.FakeService
	cfg   *config.Config
	store *state.Store
	orch  *pipeline.Orchestrator
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	fake := testsupport.NewFakeService(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithService(fake)}, opts...)...)
	store := testsupport.MustOpenStore(t, cfg)
	service := du.NewClient(cfg.Service, nil)
	p := poller.New(cfg, service, store, poller.WithSleeper(noSleep))
	return &harness{
		fake:  fake,
		cfg:   cfg,
		store: store,
		orch: pipeline.NewOrchestrator(pipeline.Dependencies{
			Config:  cfg,
			Store:   store,
			Service: service,
			Poller:  p,
		}),
	}
}

func (h *harness) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(h.cfg), "in", name)
	testsupport.WriteFile(t, path, 128)
	return path
}

func (h *harness) document(t *testing.T, name string) *state.Document {
	t.Helper()
	doc, err := h.store.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get %s: %v", name, err)
	}
	if doc == nil {
		t.Fatalf("no document row for %s", name)
	}
	return doc
}

func (h *harness) units(t *testing.T, name string) []*state.Unit {
	t.Helper()
	units, err := h.store.ListUnits(context.Background(), name)
	if err != nil {
		t.Fatalf("ListUnits %s: %v", name, err)
	}
	return units
}

func TestDriverIsolatesFailingDocument(t *testing.T) {
	h := newHarness(t)
	h.fake.Script("b.pdf", testsupport.FakeDocument{
		Fail: map[state.Action]testsupport.FakeError{
			state.ActionClassification: {Code: "[ClassifierError]", Message: "cannot classify"},
		},
	})
	paths := []string{h.input(t, "a.pdf"), h.input(t, "b.pdf"), h.input(t, "c.pdf")}

	driver := pipeline.NewDriver(h.orch, 2, nil)
	summary, err := driver.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}
	if len(summary.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(summary.Reports))
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Filename != "b.pdf" {
		t.Fatalf("expected only b.pdf to fail, got %+v", summary.Failed)
	}

	failed := h.document(t, "b.pdf")
	if failed.Stage != state.StageClassifyFailed {
		t.Fatalf("b.pdf stage = %s, want %s", failed.Stage, state.StageClassifyFailed)
	}
	if failed.ErrorCode != "[ClassifierError]" || failed.ErrorMessage != "cannot classify" {
		t.Fatalf("b.pdf error = %q %q", failed.ErrorCode, failed.ErrorMessage)
	}
	if failed.DocumentID != testsupport.DocumentID("b.pdf") {
		t.Fatalf("b.pdf keeps its document id, got %q", failed.DocumentID)
	}
	if units := h.units(t, "b.pdf"); len(units) != 0 {
		t.Fatalf("b.pdf must not plan units, got %d", len(units))
	}

	for _, name := range []string{"a.pdf", "c.pdf"} {
		doc := h.document(t, name)
		if doc.Stage != state.StageExtracted {
			t.Fatalf("%s stage = %s, want %s", name, doc.Stage, state.StageExtracted)
		}
		if doc.ErrorCode != "" {
			t.Fatalf("%s has error code %q", name, doc.ErrorCode)
		}
		units := h.units(t, name)
		if len(units) != 1 || units[0].Stage != state.StageExtracted || units[0].ExtractorID != "default-extractor" {
			t.Fatalf("%s units = %+v", name, units)
		}
	}
	if got := h.fake.Starts(state.ActionExtraction); got != 2 {
		t.Fatalf("expected 2 extraction starts, got %d", got)
	}
	rows, err := h.store.ExtractionRows(context.Background())
	if err != nil {
		t.Fatalf("ExtractionRows: %v", err)
	}
	for _, row := range rows {
		if row.Filename == "b.pdf" {
			t.Fatal("b.pdf must not have extraction rows")
		}
	}
}

func TestProcessReusesCachedDigitization(t *testing.T) {
	h := newHarness(t)
	path := h.input(t, "a.pdf")
	ctx := context.Background()

	first := h.orch.Process(ctx, path)
	if first.Err != nil {
		t.Fatalf("first Process: %v", first.Err)
	}
	if first.Cached {
		t.Fatal("first run must upload")
	}
	second := h.orch.Process(ctx, path)
	if second.Err != nil {
		t.Fatalf("second Process: %v", second.Err)
	}
	if !second.Cached {
		t.Fatal("second run must reuse the cached document id")
	}
	if got := h.fake.Starts(state.ActionDigitization); got != 1 {
		t.Fatalf("expected 1 upload, got %d", got)
	}
	if second.DocumentID != first.DocumentID {
		t.Fatalf("document id changed: %s -> %s", first.DocumentID, second.DocumentID)
	}
	if second.Stage != state.StageExtracted {
		t.Fatalf("stage = %s, want %s", second.Stage, state.StageExtracted)
	}
	if units := h.units(t, "a.pdf"); len(units) != 1 {
		t.Fatalf("expected units to be re-planned once, got %d", len(units))
	}
}

func TestDriverExtractionFailureLeavesSiblingUntouched(t *testing.T) {
	h := newHarness(t)
	h.fake.Script("a.pdf", testsupport.FakeDocument{
		Fail: map[state.Action]testsupport.FakeError{
			state.ActionExtraction: {Code: "[ExtractorError]", Message: "bad page"},
		},
	})
	h.fake.Script("b.pdf", testsupport.FakeDocument{
		Units: []testsupport.FakeUnit{
			{DocumentType: "invoices", Confidence: 0.9, StartPage: 0, PageCount: 1},
			{DocumentType: "invoices", Confidence: 0.8, StartPage: 1, PageCount: 1},
		},
	})
	paths := []string{h.input(t, "a.pdf"), h.input(t, "b.pdf")}

	summary, err := pipeline.NewDriver(h.orch, 2, nil).Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Filename != "a.pdf" {
		t.Fatalf("expected only a.pdf to fail, got %+v", summary.Failed)
	}

	failed := h.document(t, "a.pdf")
	if failed.Stage != state.StageExtractFailed || failed.ErrorCode != "[ExtractorError]" {
		t.Fatalf("a.pdf = %s %q", failed.Stage, failed.ErrorCode)
	}

	sibling := h.document(t, "b.pdf")
	if sibling.Stage != state.StageExtracted || sibling.ErrorCode != "" || sibling.ErrorMessage != "" {
		t.Fatalf("b.pdf = %s %q %q", sibling.Stage, sibling.ErrorCode, sibling.ErrorMessage)
	}
	if sibling.DocumentID != testsupport.DocumentID("b.pdf") {
		t.Fatalf("b.pdf document id = %q", sibling.DocumentID)
	}
	units := h.units(t, "b.pdf")
	if len(units) != 2 {
		t.Fatalf("expected 2 units for b.pdf, got %d", len(units))
	}
	for _, unit := range units {
		if unit.Stage != state.StageExtracted || unit.ErrorCode != "" {
			t.Fatalf("b.pdf unit %d = %s %q", unit.Index, unit.Stage, unit.ErrorCode)
		}
		if unit.OperationIDs[state.ActionExtraction] == "" {
			t.Fatalf("b.pdf unit %d lost its extraction operation id", unit.Index)
		}
	}

	rows, err := h.store.ExtractionRows(context.Background(), "a.pdf", "b.pdf")
	if err != nil {
		t.Fatalf("ExtractionRows: %v", err)
	}
	seen := map[int]bool{}
	for _, row := range rows {
		if row.Filename == "a.pdf" {
			t.Fatal("a.pdf must not have extraction rows")
		}
		if row.DocumentID != sibling.DocumentID {
			t.Fatalf("b.pdf row carries document id %q", row.DocumentID)
		}
		seen[row.Unit] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected rows for both b.pdf units, got %v", seen)
	}
}

func TestProcessRetriesFailedDocumentOnNextRun(t *testing.T) {
	h := newHarness(t)
	path := h.input(t, "a.pdf")
	ctx := context.Background()
	h.fake.Script("a.pdf", testsupport.FakeDocument{
		Fail: map[state.Action]testsupport.FakeError{
			state.ActionExtraction: {Code: "[ExtractorError]", Message: "bad page"},
		},
	})

	report := h.orch.Process(ctx, path)
	if report.Err == nil {
		t.Fatal("expected extraction failure")
	}
	if report.Stage != state.StageExtractFailed {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageExtractFailed)
	}
	units := h.units(t, "a.pdf")
	if len(units) != 1 || units[0].Stage != state.StageExtractFailed || units[0].ErrorCode != "[ExtractorError]" {
		t.Fatalf("units = %+v", units)
	}

	h.fake.Script("a.pdf", testsupport.FakeDocument{})
	report = h.orch.Process(ctx, path)
	if report.Err != nil {
		t.Fatalf("retry Process: %v", report.Err)
	}
	if report.Stage != state.StageExtracted {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageExtracted)
	}
	if doc := h.document(t, "a.pdf"); doc.ErrorCode != "" || doc.ErrorMessage != "" {
		t.Fatalf("error pair not cleared: %q %q", doc.ErrorCode, doc.ErrorMessage)
	}
}

func TestProcessRoutesUnitsByDocumentType(t *testing.T) {
	h := newHarness(t, testsupport.WithExtractor("receipts", "receipts-extractor"))
	h.fake.Script("m.pdf", testsupport.FakeDocument{
		Units: []testsupport.FakeUnit{
			{DocumentType: "invoices", Confidence: 0.9, StartPage: 0, PageCount: 1},
			{DocumentType: "receipts", Confidence: 0.8, StartPage: 1, PageCount: 2},
		},
	})

	report := h.orch.Process(context.Background(), h.input(t, "m.pdf"))
	if report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	if report.Units != 2 {
		t.Fatalf("expected 2 units, got %d", report.Units)
	}
	units := h.units(t, "m.pdf")
	if len(units) != 2 {
		t.Fatalf("expected 2 unit rows, got %d", len(units))
	}
	if units[0].ExtractorID != "default-extractor" || units[1].ExtractorID != "receipts-extractor" {
		t.Fatalf("extractors = %q, %q", units[0].ExtractorID, units[1].ExtractorID)
	}
	for _, unit := range units {
		if unit.Stage != state.StageExtracted {
			t.Fatalf("unit %d stage = %s", unit.Index, unit.Stage)
		}
	}

	bodies := h.fake.StartBodies(state.ActionExtraction)
	if len(bodies) != 2 {
		t.Fatalf("expected 2 extraction starts, got %d", len(bodies))
	}
	want := []string{"1-1", "2-3"}
	for i, body := range bodies {
		var pageRange string
		if err := json.Unmarshal(body["pageRange"], &pageRange); err != nil {
			t.Fatalf("body %d pageRange: %v", i, err)
		}
		if pageRange != want[i] {
			t.Fatalf("body %d pageRange = %q, want %q", i, pageRange, want[i])
		}
	}
}

func TestProcessSingleUnitSendsNoPageRange(t *testing.T) {
	h := newHarness(t)
	if report := h.orch.Process(context.Background(), h.input(t, "a.pdf")); report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	bodies := h.fake.StartBodies(state.ActionExtraction)
	if len(bodies) != 1 {
		t.Fatalf("expected 1 extraction start, got %d", len(bodies))
	}
	if _, ok := bodies[0]["pageRange"]; ok {
		t.Fatal("single unit must not send a page range")
	}
}

func TestProcessFailsUnroutedTypeWhenFallbackIsFail(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.ExtractorFallback = config.FallbackFail
	}))

	report := h.orch.Process(context.Background(), h.input(t, "a.pdf"))
	if !errors.Is(report.Err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", report.Err)
	}
	if report.Stage != state.StageExtractFailed {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageExtractFailed)
	}
	if doc := h.document(t, "a.pdf"); doc.ErrorCode != services.CodeConfiguration {
		t.Fatalf("error code = %q", doc.ErrorCode)
	}
	if got := h.fake.Starts(state.ActionExtraction); got != 0 {
		t.Fatalf("no extraction may start, got %d", got)
	}
}

func TestProcessWithoutClassificationExtractsWholeFile(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.PerformClassification = false
	}))

	report := h.orch.Process(context.Background(), h.input(t, "a.pdf"))
	if report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	if got := h.fake.Starts(state.ActionClassification); got != 0 {
		t.Fatalf("classification must be skipped, got %d starts", got)
	}
	if report.Stage != state.StageExtracted || report.Units != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestProcessStopsAfterClassificationWhenExtractionDisabled(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.PerformExtraction = false
	}))

	report := h.orch.Process(context.Background(), h.input(t, "a.pdf"))
	if report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	if report.Stage != state.StageClassified {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageClassified)
	}
	if got := h.fake.Starts(state.ActionExtraction); got != 0 {
		t.Fatalf("extraction must be skipped, got %d starts", got)
	}
}

func TestSweepResumesDeferredValidation(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.ValidateExtraction = true
		cfg.Pipeline.ValidateExtractionLater = true
	}))
	h.fake.Script("a.pdf", testsupport.FakeDocument{Corrections: map[string]string{"Total": "120.00"}})
	ctx := context.Background()

	report := h.orch.Process(ctx, h.input(t, "a.pdf"))
	if report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	if report.Parked != 1 {
		t.Fatalf("expected 1 parked unit, got %d", report.Parked)
	}
	if report.Stage != state.StageExtractionValidationSubmitted {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageExtractionValidationSubmitted)
	}
	if got := h.fake.Polls(state.ActionExtractionValidation); got != 0 {
		t.Fatalf("deferred validation must not poll, got %d", got)
	}

	summary, err := h.orch.Sweep(ctx, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(summary.Results) != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Results[0].Stage != state.StageExtractionValidation {
		t.Fatalf("unit stage = %s", summary.Results[0].Stage)
	}
	if got := summary.Settled["a.pdf"]; got != state.StageExtractionValidation {
		t.Fatalf("settled = %s, want %s", got, state.StageExtractionValidation)
	}
	if doc := h.document(t, "a.pdf"); doc.Stage != state.StageExtractionValidation {
		t.Fatalf("document stage = %s", doc.Stage)
	}
	pending, err := h.store.PendingValidations(ctx)
	if err != nil {
		t.Fatalf("PendingValidations: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no parked units, got %d", len(pending))
	}

	again, err := h.orch.Sweep(ctx, 2)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(again.Results) != 0 {
		t.Fatalf("second sweep must be a no-op, got %+v", again.Results)
	}
}

func TestProcessLeavesParkedDocumentForSweep(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.ValidateExtraction = true
		cfg.Pipeline.ValidateExtractionLater = true
	}))
	ctx := context.Background()
	path := h.input(t, "a.pdf")

	if report := h.orch.Process(ctx, path); report.Err != nil || report.Parked != 1 {
		t.Fatalf("first Process: parked=%d err=%v", report.Parked, report.Err)
	}
	parked := h.units(t, "a.pdf")
	if len(parked) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(parked))
	}
	operationID := parked[0].OperationIDs[state.ActionExtractionValidation]
	if operationID == "" {
		t.Fatal("parked unit has no validation operation id")
	}

	report := h.orch.Process(ctx, path)
	if report.Err != nil {
		t.Fatalf("second Process: %v", report.Err)
	}
	if report.Parked != 1 || report.Stage != state.StageExtractionValidationSubmitted {
		t.Fatalf("second report = %+v", report)
	}
	for _, action := range []state.Action{state.ActionDigitization, state.ActionClassification, state.ActionExtraction, state.ActionExtractionValidation} {
		if got := h.fake.Starts(action); got != 1 {
			t.Fatalf("%s started %d times, want 1", action, got)
		}
	}
	units := h.units(t, "a.pdf")
	if len(units) != 1 || units[0].Stage != state.StageExtractionValidationSubmitted ||
		units[0].OperationIDs[state.ActionExtractionValidation] != operationID {
		t.Fatalf("parked unit changed: %+v", units)
	}

	summary, err := h.orch.Sweep(ctx, 1)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Stage != state.StageExtractionValidation {
		t.Fatalf("sweep = %+v", summary)
	}
}

func TestProcessWaitsForInlineExtractionValidation(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Pipeline.ValidateClassification = true
		cfg.Pipeline.ValidateExtraction = true
	}))
	h.fake.Script("a.pdf", testsupport.FakeDocument{Reclassify: "receipts"})

	report := h.orch.Process(context.Background(), h.input(t, "a.pdf"))
	if report.Err != nil {
		t.Fatalf("Process: %v", report.Err)
	}
	if report.Stage != state.StageExtractionValidation {
		t.Fatalf("stage = %s, want %s", report.Stage, state.StageExtractionValidation)
	}
	units := h.units(t, "a.pdf")
	if len(units) != 1 || units[0].DocumentTypeID != "receipts" {
		t.Fatalf("units must follow the reviewed classification, got %+v", units)
	}
	if report.Parked != 0 {
		t.Fatalf("inline validation must not park, got %d", report.Parked)
	}
}
