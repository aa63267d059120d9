package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"docflow/internal/classify"
	"docflow/internal/config"
	"docflow/internal/digitize"
	"docflow/internal/extract"
	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/poller"
	"docflow/internal/prompts"
	"docflow/internal/services"
	"docflow/internal/services/du"
	"docflow/internal/stageexec"
	"docflow/internal/state"
	"docflow/internal/validate"
)

// Dependencies wires the orchestrator. Service, Poller and Store are
// required; the rest are optional.
type Dependencies struct {
	Config  *config.Config
	Store   *state.Store
	Service *du.Client
	Poller  *poller.Poller
	Prompts *prompts.Loader
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs the fixed stage sequence for one document at a time.
type Orchestrator struct {
	cfg            *config.Config
	store          *state.Store
	selector       *Selector
	digitizer      *digitize.Client
	classification *classify.Client
	extractor      *extract.Client
	validator      *validate.Client
	tracer         *observability.Tracer
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// Report summarises one processed document.
type Report struct {
	Filename   string
	DocumentID string
	Stage      state.Stage
	Units      int
	Parked     int
	Cached     bool
	Err        error
}

// NewOrchestrator builds an orchestrator from its dependencies.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	logger := logging.NewComponentLogger(deps.Logger, "pipeline")
	return &Orchestrator{
		cfg:      deps.Config,
		store:    deps.Store,
		selector: NewSelector(deps.Config, deps.Prompts, logger),
		digitizer: digitize.New(deps.Service, deps.Poller, deps.Store,
			digitize.WithLogger(logger),
			digitize.WithMetrics(deps.Metrics),
		),
		classification: classify.New(deps.Service, deps.Poller, deps.Store, logger),
		extractor:      extract.New(deps.Service, deps.Poller, deps.Store, logger),
		validator:      validate.New(deps.Config, deps.Service, deps.Poller, deps.Store, logger),
		tracer:         deps.Tracer,
		metrics:        deps.Metrics,
		logger:         logger,
	}
}

// Process runs every enabled stage for the file at path. A stage failure is
// persisted on the document (or unit) row and ends processing of this file
// only; the returned Report always names the stage the file stopped at.
func (o *Orchestrator) Process(ctx context.Context, path string) Report {
	filename := filepath.Base(path)
	report := Report{Filename: filename}
	runID, _ := services.RequestIDFromContext(ctx)
	ctx = services.WithDocument(ctx, filename)
	ctx, span := o.tracer.StartDocument(ctx, runID, filename)
	logger := logging.WithContext(ctx, o.logger)

	report.Err = o.process(ctx, logger, path, &report)
	observability.End(span, report.Err)

	if doc, err := o.store.Get(ctx, filename); err == nil && doc != nil {
		report.Stage = doc.Stage
		report.DocumentID = doc.DocumentID
	}
	if report.Err != nil && (errors.Is(report.Err, context.Canceled) || errors.Is(report.Err, context.DeadlineExceeded)) {
		logger.Warn("document interrupted; it resumes on the next run",
			logging.String(logging.FieldStage, string(report.Stage)),
		)
		return report
	}
	o.metrics.RecordDocument(string(report.Stage))
	if report.Err != nil {
		details := services.Details(report.Err)
		logging.ErrorWithContext(logger, "document failed", "document_failed",
			logging.String(logging.FieldStage, string(report.Stage)),
			logging.String(logging.FieldErrorCode, details.Code),
			logging.String("error_message", details.Message),
			logging.String(logging.FieldImpact, "remaining stages for this document were skipped"),
		)
		return report
	}
	logger.Info("document processed",
		logging.String(logging.FieldStage, string(report.Stage)),
		logging.Int("units", report.Units),
		logging.Int("parked", report.Parked),
		logging.Bool("cached", report.Cached),
		logging.String(logging.FieldEventType, "document_complete"),
	)
	return report
}

func (o *Orchestrator) process(ctx context.Context, logger *slog.Logger, path string, report *Report) error {
	filename := report.Filename
	p := o.cfg.Pipeline

	// Re-running a document would rewind its units and drop the review
	// operation ids the sweep needs.
	if parked := o.parkedUnits(ctx, logger, filename); len(parked) > 0 {
		report.Parked = len(parked)
		logger.Info("document awaiting review; leaving it for the sweep",
			logging.Int("parked", len(parked)),
			logging.String("operation_ids", strings.Join(parked, ",")),
			logging.String(logging.FieldEventType, "document_parked"),
		)
		return nil
	}

	var digitized digitize.Result
	if err := o.run(ctx, state.ActionDigitization, filename, 0, func(ctx context.Context) error {
		var err error
		digitized, err = o.digitizer.Digitize(ctx, path)
		return err
	}); err != nil {
		return err
	}
	report.DocumentID = digitized.DocumentID
	report.Cached = digitized.Cached

	plans := []state.UnitPlan{{Index: 1, PageCount: digitized.PageCount}}
	if p.PerformClassification {
		var (
			classifier Module
			outcome    classify.Outcome
		)
		if err := o.run(ctx, state.ActionClassification, filename, 0, func(ctx context.Context) error {
			var err error
			classifier, err = o.selector.Classifier(logging.WithContext(ctx, o.logger))
			if err != nil {
				return err
			}
			outcome, err = o.classification.Classify(ctx, classify.Request{
				Filename:     filename,
				DocumentID:   digitized.DocumentID,
				ClassifierID: classifier.ID,
				Prompts:      classifier.Prompts,
				PageCount:    digitized.PageCount,
			})
			return err
		}); err != nil {
			return err
		}

		if p.ValidateClassification {
			if err := o.run(ctx, state.ActionClassificationValidation, filename, 0, func(ctx context.Context) error {
				validated, err := o.validator.Classification(ctx, validate.ClassificationRequest{
					Filename:     filename,
					DocumentID:   digitized.DocumentID,
					ClassifierID: classifier.ID,
					Outcome:      outcome,
					Prompts:      classifier.Prompts,
					PageCount:    digitized.PageCount,
				})
				if err == nil {
					outcome = validated
				}
				return err
			}); err != nil {
				return err
			}
		}

		if !p.PerformExtraction {
			return nil
		}
		plans = outcome.Plans()
		if len(plans) == 0 {
			logging.WarnWithContext(logger, "classification found no documents; skipping extraction", "classification_empty",
				logging.String(logging.FieldImpact, "no extraction results for this file"),
			)
			return nil
		}
	}

	return o.extractUnits(ctx, logger, filename, digitized.DocumentID, plans, report)
}

func (o *Orchestrator) extractUnits(ctx context.Context, logger *slog.Logger, filename, documentID string, plans []state.UnitPlan, report *Report) error {
	p := o.cfg.Pipeline
	state.BestEffort(ctx, logger, "plan units", o.store.PlanUnits(ctx, filename, plans))
	state.BestEffort(ctx, logger, "record extract-pending", o.store.UpsertStage(ctx, state.StageUpdate{
		Filename: filename,
		Stage:    state.StageExtractPending,
	}))
	report.Units = len(plans)
	logger.Info("extraction planned",
		logging.Int("units", len(plans)),
		logging.String(logging.FieldEventType, "units_planned"),
	)

	var stageErr error
	for _, plan := range plans {
		// A single unit covers the whole file, so no page range is sent.
		pageRange := ""
		if len(plans) > 1 {
			pageRange = plan.PageRange
		}
		var (
			module    Module
			extracted extract.Outcome
		)
		stageErr = o.run(ctx, state.ActionExtraction, filename, plan.Index, func(ctx context.Context) error {
			var err error
			module, err = o.selector.Extractor(logging.WithContext(ctx, o.logger), plan.DocumentTypeID)
			if err != nil {
				return err
			}
			extracted, err = o.extractor.Extract(ctx, extract.Request{
				Filename:    filename,
				Unit:        plan.Index,
				DocumentID:  documentID,
				ExtractorID: module.ID,
				PageRange:   pageRange,
				Prompts:     module.Prompts,
			})
			return err
		})
		if stageErr != nil {
			break
		}
		if !p.ValidateExtraction {
			continue
		}

		later := p.ValidateExtractionLater
		stageErr = o.run(ctx, state.ActionExtractionValidation, filename, plan.Index, func(ctx context.Context) error {
			_, err := o.validator.Extraction(ctx, validate.ExtractionRequest{
				Filename:    filename,
				Unit:        plan.Index,
				DocumentID:  documentID,
				ExtractorID: module.ID,
				Outcome:     extracted,
				Prompts:     module.Prompts,
			}, later)
			return err
		})
		if stageErr != nil {
			break
		}
		if later {
			report.Parked++
			o.metrics.RecordStage(string(state.ActionExtractionValidation), observability.OutcomeParked, 0)
		}
	}

	if stageErr != nil && (errors.Is(stageErr, context.Canceled) || errors.Is(stageErr, context.DeadlineExceeded)) {
		return stageErr
	}
	settle(ctx, o.store, logger, filename)
	return stageErr
}

func (o *Orchestrator) run(ctx context.Context, action state.Action, filename string, unit int, fn func(context.Context) error) error {
	return stageexec.Run(ctx, stageexec.Options{
		Logger:   o.logger,
		Store:    o.store,
		Tracer:   o.tracer,
		Action:   action,
		Filename: filename,
		Unit:     unit,
		Run:      fn,
	})
}

// parkedUnits returns the review operation ids of units waiting at
// extraction-validation-submitted.
func (o *Orchestrator) parkedUnits(ctx context.Context, logger *slog.Logger, filename string) []string {
	units, err := o.store.ListUnits(ctx, filename)
	if err != nil {
		state.BestEffort(ctx, logger, "list units", err)
		return nil
	}
	var ids []string
	for _, unit := range units {
		if unit.Stage == state.StageExtractionValidationSubmitted {
			ids = append(ids, unit.OperationIDs[state.ActionExtractionValidation])
		}
	}
	return ids
}

// settle moves the document row to the aggregate of its units: the first
// failed unit wins, otherwise the least advanced unit.
func settle(ctx context.Context, store *state.Store, logger *slog.Logger, filename string) state.Stage {
	units, err := store.ListUnits(ctx, filename)
	if err != nil {
		state.BestEffort(ctx, logger, "list units", err)
		return ""
	}
	if len(units) == 0 {
		return ""
	}
	update := state.StageUpdate{Filename: filename, Stage: units[0].Stage}
	for _, unit := range units {
		if unit.Stage.Failed() {
			update.Stage = unit.Stage
			update.ErrorCode = unit.ErrorCode
			update.ErrorMessage = unit.ErrorMessage
			break
		}
		if unit.Stage.Before(update.Stage) {
			update.Stage = unit.Stage
		}
	}
	if !update.Stage.Failed() && update.Stage.Before(state.StageExtractPending) {
		return ""
	}
	state.BestEffort(ctx, logger, "settle document stage", store.UpsertStage(ctx, update))
	return update.Stage
}
