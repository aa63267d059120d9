package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/state"
)

// SweepResult is the outcome of resuming one parked unit.
type SweepResult struct {
	Filename string
	Unit     int
	Stage    state.Stage
	Err      error
}

// SweepSummary is the outcome of one sweep.
type SweepSummary struct {
	RunID   string
	Results []SweepResult
	Failed  int
	Settled map[string]state.Stage
	Elapsed time.Duration
}

// Sweep resumes every unit parked at extraction-validation-submitted, applies
// the reviewed values and advances the unit and document rows. Units of the
// same file are resumed in order on one worker.
func (o *Orchestrator) Sweep(ctx context.Context, workers int) (SweepSummary, error) {
	runID := uuid.NewString()
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)
	summary := SweepSummary{RunID: runID, Settled: make(map[string]state.Stage)}
	start := time.Now()

	units, err := o.store.PendingValidations(ctx)
	if err != nil {
		return summary, err
	}
	var order []string
	byFile := make(map[string][]*state.Unit)
	for _, unit := range units {
		if _, ok := byFile[unit.Filename]; !ok {
			order = append(order, unit.Filename)
		}
		byFile[unit.Filename] = append(byFile[unit.Filename], unit)
	}
	logger.Info("sweep started",
		logging.Int("units", len(units)),
		logging.Int("files", len(order)),
		logging.String(logging.FieldEventType, "sweep_start"),
	)

	if workers < 1 {
		workers = 1
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, filename := range order {
		g.Go(func() error {
			results, settled := o.sweepFile(ctx, filename, byFile[filename])
			mu.Lock()
			defer mu.Unlock()
			summary.Results = append(summary.Results, results...)
			for _, result := range results {
				if result.Err != nil {
					summary.Failed++
				}
			}
			if settled != "" {
				summary.Settled[filename] = settled
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.Elapsed = time.Since(start)

	logger.Info("sweep finished",
		logging.Int("units", len(summary.Results)),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", summary.Elapsed),
		logging.String(logging.FieldEventType, "sweep_complete"),
	)
	return summary, ctx.Err()
}

func (o *Orchestrator) sweepFile(ctx context.Context, filename string, units []*state.Unit) ([]SweepResult, state.Stage) {
	ctx = services.WithDocument(ctx, filename)
	logger := logging.WithContext(ctx, o.logger)
	results := make([]SweepResult, 0, len(units))

	doc, err := o.store.Get(ctx, filename)
	if err == nil && (doc == nil || doc.DocumentID == "") {
		err = services.Wrap(services.ErrNotFound, "extraction_validation", "resume", "document row has no document id", nil)
	}
	if err != nil {
		for _, unit := range units {
			results = append(results, SweepResult{Filename: filename, Unit: unit.Index, Stage: unit.Stage, Err: err})
		}
		logging.ErrorWithContext(logger, "cannot resume parked validations", "sweep_document_missing", logging.Error(err))
		return results, ""
	}

	for _, unit := range units {
		result := SweepResult{Filename: filename, Unit: unit.Index}
		result.Err = o.run(ctx, state.ActionExtractionValidation, filename, unit.Index, func(ctx context.Context) error {
			_, err := o.validator.Resume(ctx, unit, doc.DocumentID)
			return err
		})
		result.Stage = unitStage(ctx, o.store, filename, unit.Index)
		results = append(results, result)
		if result.Err != nil && (errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded)) {
			return results, ""
		}
	}
	settled := settle(ctx, o.store, logger, filename)
	o.metrics.RecordDocument(string(settled))
	return results, settled
}

func unitStage(ctx context.Context, store *state.Store, filename string, index int) state.Stage {
	units, err := store.ListUnits(ctx, filename)
	if err != nil {
		return ""
	}
	for _, unit := range units {
		if unit.Index == index {
			return unit.Stage
		}
	}
	return ""
}
