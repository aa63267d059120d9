package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/pipeline"
	"docflow/internal/services"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Collect reviewed extractions for validations submitted earlier",
		Long: "Sweep polls every extraction validation parked by a run with\n" +
			"pipeline.validate_extraction_later, stores the reviewed values and\n" +
			"advances the documents.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			env, err := newBatchEnv(cmd.Context(), ctx, opts)
			if err != nil {
				return err
			}
			defer env.shutdown()

			summary, sweepErr := env.orchestrator.Sweep(cmd.Context(), env.workers)
			if opts.jsonOutput {
				if err := writeJSON(cmd, sweepSummaryJSON(summary)); err != nil {
					return err
				}
			} else {
				printSweepSummary(cmd, summary)
			}
			if sweepErr != nil {
				return sweepErr
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d validations failed", summary.Failed, len(summary.Results))
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

type sweepResultJSON struct {
	Filename  string `json:"filename"`
	Unit      int    `json:"unit"`
	Stage     string `json:"stage"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sweepJSON struct {
	RunID   string            `json:"run_id"`
	Elapsed string            `json:"elapsed"`
	Failed  int               `json:"failed"`
	Results []sweepResultJSON `json:"units"`
	Settled map[string]string `json:"documents"`
}

func sweepSummaryJSON(summary pipeline.SweepSummary) sweepJSON {
	out := sweepJSON{
		RunID:   summary.RunID,
		Elapsed: summary.Elapsed.Round(time.Millisecond).String(),
		Failed:  summary.Failed,
		Results: make([]sweepResultJSON, 0, len(summary.Results)),
		Settled: make(map[string]string, len(summary.Settled)),
	}
	for _, result := range summary.Results {
		entry := sweepResultJSON{Filename: result.Filename, Unit: result.Unit, Stage: string(result.Stage)}
		if result.Err != nil {
			details := services.Details(result.Err)
			entry.ErrorCode = details.Code
			entry.Error = details.Message
		}
		out.Results = append(out.Results, entry)
	}
	for filename, stage := range summary.Settled {
		out.Settled[filename] = string(stage)
	}
	return out
}

func printSweepSummary(cmd *cobra.Command, summary pipeline.SweepSummary) {
	out := cmd.OutOrStdout()
	if len(summary.Results) == 0 {
		fmt.Fprintln(out, "No parked validations")
		return
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(summary.Results))
	for _, result := range summary.Results {
		errText := ""
		if result.Err != nil {
			details := services.Details(result.Err)
			errText = truncate(strings.TrimSpace(details.Code+" "+details.Message), 60)
		}
		rows = append(rows, []string{
			result.Filename,
			strconv.Itoa(result.Unit),
			renderStage(result.Stage, colorize),
			renderStage(summary.Settled[result.Filename], colorize),
			errText,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"File", "Unit", "Unit Stage", "Document Stage", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
	fmt.Fprintf(out, "Sweep %s: %d validations, %d failed in %s\n",
		summary.RunID, len(summary.Results), summary.Failed, summary.Elapsed.Round(time.Millisecond))
}
