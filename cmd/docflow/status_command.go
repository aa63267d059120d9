package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"docflow/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		stageFilter []string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise document progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stages := make([]state.Stage, 0, len(stageFilter))
			for _, raw := range stageFilter {
				stage, err := state.ParseStage(raw)
				if err != nil {
					return err
				}
				stages = append(stages, stage)
			}

			counts, err := store.StageCounts(cmd.Context())
			if err != nil {
				return err
			}
			docs, err := store.List(cmd.Context(), stages...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, statusJSON(counts, docs))
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if len(docs) == 0 && len(stages) == 0 {
				fmt.Fprintln(out, "No documents tracked")
				return nil
			}

			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			countRows := make([][]string, 0, len(counts))
			for _, stage := range state.Stages() {
				if n := counts[stage]; n > 0 {
					countRows = append(countRows, []string{renderStage(stage, colorize), strconv.Itoa(n)})
				}
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Documents"}, countRows, []columnAlignment{alignLeft, alignRight}))

			for _, line := range renderSectionHeader("Documents", colorize) {
				fmt.Fprintln(out, line)
			}
			rows := make([][]string, 0, len(docs))
			for _, doc := range docs {
				rows = append(rows, []string{
					doc.Filename,
					renderStage(doc.Stage, colorize),
					orDash(doc.DocumentID),
					formatTime(doc.UpdatedAt),
					truncate(errorText(doc.ErrorCode, doc.ErrorMessage), 50),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"File", "Stage", "Document ID", "Updated", "Error"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&stageFilter, "stage", "s", nil, "Only list documents at these stages")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

type documentJSON struct {
	Filename     string            `json:"filename"`
	DocumentID   string            `json:"document_id,omitempty"`
	Stage        string            `json:"stage"`
	ClassifierID string            `json:"classifier_id,omitempty"`
	PageCount    int               `json:"page_count,omitempty"`
	Operations   map[string]string `json:"operations,omitempty"`
	Durations    map[string]string `json:"durations,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	UpdatedAt    string            `json:"updated_at"`
}

func toDocumentJSON(doc *state.Document) documentJSON {
	out := documentJSON{
		Filename:     doc.Filename,
		DocumentID:   doc.DocumentID,
		Stage:        string(doc.Stage),
		ClassifierID: doc.ClassifierID,
		PageCount:    doc.PageCount,
		ErrorCode:    doc.ErrorCode,
		ErrorMessage: doc.ErrorMessage,
		UpdatedAt:    formatTime(doc.UpdatedAt),
	}
	if len(doc.OperationIDs) > 0 {
		out.Operations = make(map[string]string, len(doc.OperationIDs))
		for action, id := range doc.OperationIDs {
			out.Operations[string(action)] = id
		}
	}
	if len(doc.Durations) > 0 {
		out.Durations = make(map[string]string, len(doc.Durations))
		for action, d := range doc.Durations {
			out.Durations[string(action)] = d.String()
		}
	}
	return out
}

func statusJSON(counts map[state.Stage]int, docs []*state.Document) map[string]any {
	stageCounts := make(map[string]int, len(counts))
	for stage, n := range counts {
		stageCounts[string(stage)] = n
	}
	list := make([]documentJSON, 0, len(docs))
	for _, doc := range docs {
		list = append(list, toDocumentJSON(doc))
	}
	return map[string]any{"stages": stageCounts, "documents": list}
}
