package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"docflow/internal/services"
	"docflow/internal/state"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		withRows   bool
	)

	cmd := &cobra.Command{
		Use:   "show <filename>",
		Short: "Show one document with its units and classification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			filename := args[0]
			doc, err := store.Get(cmd.Context(), filename)
			if err != nil {
				return err
			}
			if doc == nil {
				return services.Wrap(services.ErrNotFound, "show", "lookup", "no document named "+filename, nil)
			}
			units, err := store.ListUnits(cmd.Context(), filename)
			if err != nil {
				return err
			}
			audit, err := store.Classifications(cmd.Context(), filename)
			if err != nil {
				return err
			}
			var rows []state.ExtractionRow
			if withRows {
				if rows, err = store.ExtractionRows(cmd.Context(), filename); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd, map[string]any{
					"document":        toDocumentJSON(doc),
					"units":           unitsJSON(units),
					"classifications": audit,
					"extraction":      rows,
				})
			}
			printDocument(cmd, doc, units, audit, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&withRows, "rows", false, "Include extracted field rows")
	return cmd
}

func unitsJSON(units []*state.Unit) []map[string]any {
	out := make([]map[string]any, 0, len(units))
	for _, unit := range units {
		out = append(out, map[string]any{
			"unit":          unit.Index,
			"document_type": unit.DocumentTypeID,
			"confidence":    unit.Confidence,
			"page_range":    unit.PageRange,
			"extractor_id":  unit.ExtractorID,
			"stage":         string(unit.Stage),
			"error_code":    unit.ErrorCode,
			"error_message": unit.ErrorMessage,
		})
	}
	return out
}

func printDocument(cmd *cobra.Command, doc *state.Document, units []*state.Unit, audit []state.ClassificationRecord, rows []state.ExtractionRow) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader(doc.Filename, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Stage:", renderStage(doc.Stage, colorize))
	fmt.Fprintf(out, "  %-14s %s\n", "Document ID:", orDash(doc.DocumentID))
	fmt.Fprintf(out, "  %-14s %s\n", "Project:", orDash(doc.ProjectID))
	fmt.Fprintf(out, "  %-14s %s\n", "Classifier:", orDash(doc.ClassifierID))
	fmt.Fprintf(out, "  %-14s %d\n", "Pages:", doc.PageCount)
	cached := "-"
	if doc.CachedAt != nil {
		cached = formatTime(*doc.CachedAt)
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Cached:", cached)
	fmt.Fprintf(out, "  %-14s %s\n", "Updated:", formatTime(doc.UpdatedAt))
	if doc.ErrorCode != "" || doc.ErrorMessage != "" {
		fmt.Fprintf(out, "  %-14s %s\n", "Error:", errorText(doc.ErrorCode, doc.ErrorMessage))
	}

	if len(doc.OperationIDs) > 0 {
		actions := make([]string, 0, len(doc.OperationIDs))
		for action := range doc.OperationIDs {
			actions = append(actions, string(action))
		}
		sort.Strings(actions)
		opRows := make([][]string, 0, len(actions))
		for _, action := range actions {
			a := state.Action(action)
			opRows = append(opRows, []string{action, doc.OperationIDs[a], formatDuration(doc.Durations[a])})
		}
		fmt.Fprintln(out, renderTable([]string{"Stage", "Operation", "Duration"}, opRows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	}

	if len(units) > 0 {
		unitRows := make([][]string, 0, len(units))
		for _, unit := range units {
			unitRows = append(unitRows, []string{
				strconv.Itoa(unit.Index),
				orDash(unit.DocumentTypeID),
				strconv.FormatFloat(unit.Confidence, 'f', 2, 64),
				orDash(unit.PageRange),
				orDash(unit.ExtractorID),
				renderStage(unit.Stage, colorize),
				truncate(errorText(unit.ErrorCode, unit.ErrorMessage), 40),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Unit", "Type", "Confidence", "Pages", "Extractor", "Stage", "Error"},
			unitRows,
			[]columnAlignment{alignRight, alignLeft, alignRight},
		))
	}

	if len(audit) > 0 {
		auditRows := make([][]string, 0, len(audit))
		for _, record := range audit {
			auditRows = append(auditRows, []string{
				formatTime(record.CreatedAt),
				record.DocumentTypeID,
				strconv.FormatFloat(record.Confidence, 'f', 2, 64),
				fmt.Sprintf("%d+%d", record.StartPage+1, record.PageCount),
				orDash(record.ClassifierName),
				yesNo(record.Validated),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Classified", "Type", "Confidence", "Pages", "Classifier", "Validated"},
			auditRows,
			[]columnAlignment{alignLeft, alignLeft, alignRight},
		))
	}

	if len(rows) > 0 {
		fieldRows := make([][]string, 0, len(rows))
		for _, row := range rows {
			validated := "-"
			if row.ValidatedValue != nil {
				validated = *row.ValidatedValue
			}
			correct := "-"
			if row.IsCorrect != nil {
				correct = yesNo(*row.IsCorrect)
			}
			position := "-"
			if row.RowIndex >= 0 {
				position = fmt.Sprintf("%d,%d", row.RowIndex, row.ColumnIndex)
			}
			fieldRows = append(fieldRows, []string{
				strconv.Itoa(row.Unit),
				row.FieldID,
				row.Field,
				position,
				truncate(row.Value, 40),
				truncate(validated, 40),
				correct,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Unit", "Field ID", "Field", "Cell", "Value", "Validated", "Correct"},
			fieldRows,
			[]columnAlignment{alignRight},
		))
	}
}
