package stageexec_test

import (
	"context"
	"errors"
	"testing"

	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stageexec"
	"docflow/internal/state"
	"docflow/internal/testsupport"
)

func TestRunPersistsRemoteFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Stage: state.StageDigitized, DocumentID: "doc-a"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	remote := &services.RemoteError{Code: "[ClassifierError]", Message: "classifier offline"}
	err := stageexec.Run(ctx, stageexec.Options{
		Logger:   logging.NewNop(),
		Store:    store,
		Action:   state.ActionClassification,
		Filename: "a.pdf",
		Run:      func(context.Context) error { return remote },
	})
	if !errors.Is(err, remote) {
		t.Fatalf("Run error = %v, want remote error", err)
	}

	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Stage != state.StageClassifyFailed {
		t.Fatalf("stage = %s, want %s", doc.Stage, state.StageClassifyFailed)
	}
	if doc.ErrorCode != "[ClassifierError]" || doc.ErrorMessage != "classifier offline" {
		t.Fatalf("error pair = %q %q", doc.ErrorCode, doc.ErrorMessage)
	}
}

func TestRunLeavesCancelledStageResumable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := store.UpsertStage(ctx, state.StageUpdate{Filename: "a.pdf", Stage: state.StageDigitized, DocumentID: "doc-a"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := stageexec.Run(ctx, stageexec.Options{
		Logger:   logging.NewNop(),
		Store:    store,
		Action:   state.ActionClassification,
		Filename: "a.pdf",
		Run:      func(context.Context) error { return context.Canceled },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	doc, err := store.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Stage != state.StageDigitized || doc.ErrorCode != "" {
		t.Fatalf("cancelled stage was persisted: %s %q", doc.Stage, doc.ErrorCode)
	}
}

func TestRunRequiresStore(t *testing.T) {
	err := stageexec.Run(context.Background(), stageexec.Options{
		Logger: logging.NewNop(),
		Action: state.ActionDigitization,
		Run:    func(context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"classify_failed":                 "Classify Failed",
		"extraction-validation-submitted": "Extraction Validation Submitted",
		"  ":                              "",
	}
	for input, want := range cases {
		if got := stageexec.Label(input); got != want {
			t.Fatalf("Label(%q) = %q, want %q", input, got, want)
		}
	}
}
