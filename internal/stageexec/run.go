package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/services"
	"docflow/internal/state"
)

// Options controls one stage execution.
type Options struct {
	Logger   *slog.Logger
	Store    *state.Store
	Tracer   *observability.Tracer
	Action   state.Action
	Filename string
	// Unit addresses an extraction unit row; 0 means the document row.
	Unit int
	Run  func(ctx context.Context) error
}

// Run executes one stage with logging, a trace span and failure persistence.
// A failed stage is written to the store with its error pair; cancellation
// is returned untouched so the stage resumes on the next run.
func Run(ctx context.Context, opts Options) error {
	if opts.Run == nil {
		return fmt.Errorf("stage function unavailable: %s", opts.Action)
	}
	if opts.Store == nil {
		return fmt.Errorf("state store is required")
	}

	stageCtx := services.WithStage(ctx, string(opts.Action))
	if opts.Unit > 0 {
		stageCtx = services.WithUnit(stageCtx, opts.Unit)
	}
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	stageCtx, span := opts.Tracer.StartStage(stageCtx, string(opts.Action), opts.Unit)

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", Label(string(opts.Action))),
	)
	start := time.Now()
	err := opts.Run(stageCtx)
	observability.End(span, err)
	if err != nil {
		return handleFailure(stageCtx, stageLogger, opts, err)
	}

	stageLogger.Info(
		"stage finished",
		logging.String(logging.FieldEventType, "stage_finish"),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func handleFailure(ctx context.Context, logger *slog.Logger, opts Options, stageErr error) error {
	if errors.Is(stageErr, context.Canceled) || errors.Is(stageErr, context.DeadlineExceeded) {
		logger.Warn("stage interrupted", logging.String(logging.FieldEventType, "stage_interrupted"), logging.Error(stageErr))
		return stageErr
	}
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}

	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("resolved_stage", string(opts.Action.FailedStage())),
		logging.String(logging.FieldErrorCode, details.Code),
		logging.String("error_message", message),
		logging.Error(stageErr),
	)
	persistCtx := context.WithoutCancel(ctx)
	if err := opts.Store.UpsertStage(persistCtx, state.StageUpdate{
		Filename:     opts.Filename,
		Unit:         opts.Unit,
		Stage:        opts.Action.FailedStage(),
		Action:       opts.Action,
		ErrorCode:    details.Code,
		ErrorMessage: message,
	}); err != nil && !errors.Is(err, state.ErrStageRegression) {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	return stageErr
}

// Label renders a stage or action name for people, e.g. "classify_failed"
// becomes "Classify Failed".
func Label(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	return cases.Title(language.English).String(strings.ToLower(strings.Join(words, " ")))
}
