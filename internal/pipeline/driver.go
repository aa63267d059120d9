package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docflow/internal/digitize"
	"docflow/internal/logging"
	"docflow/internal/services"
)

// Summary is the outcome of one batch.
type Summary struct {
	RunID   string
	Reports []Report
	Failed  []Report
	Elapsed time.Duration
}

// Driver processes a batch of files with bounded concurrency. Each file runs
// its whole pipeline on one worker; a failing file never cancels the others.
type Driver struct {
	orchestrator *Orchestrator
	workers      int
	logger       *slog.Logger
}

// NewDriver builds a driver. workers below one is treated as one.
func NewDriver(orchestrator *Orchestrator, workers int, logger *slog.Logger) *Driver {
	if workers < 1 {
		workers = 1
	}
	return &Driver{
		orchestrator: orchestrator,
		workers:      workers,
		logger:       logging.NewComponentLogger(logger, "driver"),
	}
}

// Run processes paths and returns once every file has finished. The only
// error is the context's, when the batch was interrupted.
func (d *Driver) Run(ctx context.Context, paths []string) (Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, d.logger)
	summary := Summary{RunID: runID, Reports: make([]Report, len(paths))}
	start := time.Now()

	logger.Info("batch started",
		logging.Int("files", len(paths)),
		logging.Int("workers", d.workers),
		logging.String(logging.FieldEventType, "batch_start"),
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers)
	for i, path := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				summary.Reports[i] = Report{Filename: filepath.Base(path), Err: ctx.Err()}
				return nil
			}
			report := d.orchestrator.Process(ctx, path)
			summary.Reports[i] = report
			if report.Err != nil {
				mu.Lock()
				summary.Failed = append(summary.Failed, report)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.Elapsed = time.Since(start)
	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].Filename < summary.Failed[j].Filename })

	logger.Info("batch finished",
		logging.Int("files", len(paths)),
		logging.Int("failed", len(summary.Failed)),
		logging.Duration("elapsed", summary.Elapsed),
		logging.String(logging.FieldEventType, "batch_complete"),
	)
	return summary, ctx.Err()
}

// Inputs expands files and directories into the supported input files, in
// name order. Directories are not walked recursively. Filenames key the
// state store, so two inputs with the same base name are rejected.
func Inputs(paths ...string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, services.Wrap(services.ErrNotFound, "input", "stat", path, err)
		}
		if !info.IsDir() {
			if !digitize.IsSupported(path) {
				return nil, services.Wrap(services.ErrValidation, "input", "check extension",
					fmt.Sprintf("%s is not a supported file type", path), nil)
			}
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read input dir %s: %w", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !digitize.IsSupported(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	seen := make(map[string]string, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		if other, ok := seen[name]; ok && other != file {
			return nil, services.Wrap(services.ErrValidation, "input", "dedupe",
				fmt.Sprintf("%s and %s share the file name %s", other, file, name), nil)
		}
		seen[name] = file
	}
	sort.Slice(files, func(i, j int) bool { return filepath.Base(files[i]) < filepath.Base(files[j]) })
	return slices.Compact(files), nil
}
