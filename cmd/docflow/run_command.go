package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/observability"
	"docflow/internal/pipeline"
	"docflow/internal/poller"
	"docflow/internal/prompts"
	"docflow/internal/results"
	"docflow/internal/services"
	"docflow/internal/state"
)

type batchOptions struct {
	workers     int
	metricsBind string
	jsonOutput  bool
}

func (o *batchOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.workers, "workers", "w", 0, "Concurrent documents (defaults to workflow.workers)")
	cmd.Flags().StringVar(&o.metricsBind, "metrics-bind", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "Emit the summary as JSON")
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		opts         batchOptions
		exportFormat string
	)

	cmd := &cobra.Command{
		Use:   "run <file-or-dir>...",
		Short: "Process documents through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			var format results.Format
			if strings.TrimSpace(exportFormat) != "" {
				parsed, err := results.ParseFormat(exportFormat)
				if err != nil {
					return err
				}
				format = parsed
			}

			inputs, err := pipeline.Inputs(args...)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No supported files found")
				return nil
			}

			env, err := newBatchEnv(cmd.Context(), ctx, opts)
			if err != nil {
				return err
			}
			defer env.shutdown()

			summary, runErr := pipeline.NewDriver(env.orchestrator, env.workers, env.logger).Run(cmd.Context(), inputs)
			if opts.jsonOutput {
				if err := writeJSON(cmd, runSummaryJSON(summary)); err != nil {
					return err
				}
			} else {
				printRunSummary(cmd, summary)
			}

			if format != "" && runErr == nil {
				filenames := make([]string, 0, len(inputs))
				for _, input := range inputs {
					filenames = append(filenames, filepath.Base(input))
				}
				path := results.DefaultPath(env.cfg.Paths.OutputDir, format, time.Now())
				n, err := results.NewWriter(env.store, env.logger).Export(cmd.Context(), format, path, filenames...)
				if err != nil {
					return err
				}
				if !opts.jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", n, path)
				}
			}

			if runErr != nil {
				return runErr
			}
			if len(summary.Failed) > 0 {
				return fmt.Errorf("%d of %d documents failed", len(summary.Failed), len(summary.Reports))
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&exportFormat, "export", "", "Export extraction results after the run (csv or xlsx)")
	return cmd
}

// batchEnv is the wiring shared by run and sweep.
type batchEnv struct {
	cfg          *config.Config
	store        *state.Store
	orchestrator *pipeline.Orchestrator
	workers      int
	logger       *slog.Logger
	shutdown     func()
}

// newBatchEnv takes the run lock, checks credentials before any document is
// touched and wires the pipeline.
func newBatchEnv(runCtx context.Context, ctx *commandContext, opts batchOptions) (*batchEnv, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, err
	}
	if err := ctx.acquireLock(); err != nil {
		return nil, err
	}
	store, err := ctx.openStore()
	if err != nil {
		return nil, err
	}

	env := &batchEnv{cfg: cfg, store: store, logger: logger, shutdown: func() {}}
	var metrics *observability.Metrics
	bind := strings.TrimSpace(opts.metricsBind)
	if bind == "" && cfg.Metrics.Enabled {
		bind = cfg.Metrics.Bind
	}
	if bind != "" {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		stop, err := startMetricsServer(bind, metrics, logger)
		if err != nil {
			return nil, err
		}
		env.shutdown = stop
	}

	service, tokens, err := ctx.serviceClient(metrics)
	if err != nil {
		env.shutdown()
		return nil, err
	}
	if _, err := tokens.Token(runCtx); err != nil {
		env.shutdown()
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	p := poller.New(cfg, service, store,
		poller.WithLogger(logging.NewComponentLogger(logger, "poller")),
		poller.WithMetrics(metrics),
	)
	env.orchestrator = pipeline.NewOrchestrator(pipeline.Dependencies{
		Config:  cfg,
		Store:   store,
		Service: service,
		Poller:  p,
		Prompts: prompts.NewLoader(cfg.Paths.PromptsDir, logger),
		Tracer:  observability.NewTracer(),
		Metrics: metrics,
		Logger:  logger,
	})
	env.workers = cfg.Workflow.Workers
	if opts.workers > 0 {
		env.workers = opts.workers
	}
	return env, nil
}

func startMetricsServer(bind string, metrics *observability.Metrics, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "metrics", "listen", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "metrics_listen"),
	)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}

type reportJSON struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id,omitempty"`
	Stage      string `json:"stage"`
	Units      int    `json:"units"`
	Parked     int    `json:"parked"`
	Cached     bool   `json:"cached"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type runJSON struct {
	RunID   string       `json:"run_id"`
	Elapsed string       `json:"elapsed"`
	Failed  int          `json:"failed"`
	Reports []reportJSON `json:"documents"`
}

func runSummaryJSON(summary pipeline.Summary) runJSON {
	out := runJSON{
		RunID:   summary.RunID,
		Elapsed: summary.Elapsed.Round(time.Millisecond).String(),
		Failed:  len(summary.Failed),
		Reports: make([]reportJSON, 0, len(summary.Reports)),
	}
	for _, report := range summary.Reports {
		entry := reportJSON{
			Filename:   report.Filename,
			DocumentID: report.DocumentID,
			Stage:      string(report.Stage),
			Units:      report.Units,
			Parked:     report.Parked,
			Cached:     report.Cached,
		}
		if report.Err != nil {
			details := services.Details(report.Err)
			entry.ErrorCode = details.Code
			entry.Error = details.Message
		}
		out.Reports = append(out.Reports, entry)
	}
	return out
}

func printRunSummary(cmd *cobra.Command, summary pipeline.Summary) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(summary.Reports))
	for _, report := range summary.Reports {
		errText := ""
		if report.Err != nil {
			details := services.Details(report.Err)
			errText = truncate(errorText(details.Code, details.Message), 60)
		}
		cached := ""
		if report.Cached {
			cached = "cached"
		}
		rows = append(rows, []string{
			report.Filename,
			renderStage(report.Stage, colorize),
			strconv.Itoa(report.Units),
			strconv.Itoa(report.Parked),
			orDash(report.DocumentID),
			cached,
			errText,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"File", "Stage", "Units", "Parked", "Document ID", "Digitize", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	))
	fmt.Fprintf(out, "Run %s: %d documents, %d failed in %s\n",
		summary.RunID, len(summary.Reports), len(summary.Failed), summary.Elapsed.Round(time.Millisecond))
}
