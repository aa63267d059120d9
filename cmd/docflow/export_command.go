package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/results"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		formatFlag string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "export [filename...]",
		Short: "Write extracted fields to CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			format, err := results.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			path, err := exportPath(cfg, outputPath, format)
			if err != nil {
				return err
			}
			n, err := results.NewWriter(store, logger).Export(cmd.Context(), format, path, args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d row(s) to %s\n", n, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatFlag, "format", "f", string(results.FormatCSV), "Output format (csv or xlsx)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: a timestamped file in paths.output_dir)")
	return cmd
}

func exportPath(cfg *config.Config, output string, format results.Format) (string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return results.DefaultPath(cfg.Paths.OutputDir, format, time.Now()), nil
	}
	return config.ExpandPath(output)
}
