package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var (
		project    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List projects, or the classifiers and extractors of one project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			client, _, err := ctx.serviceClient(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			if strings.TrimSpace(project) == "" {
				projects, err := client.Projects(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, projects)
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{p.ID, p.Name, orDash(p.Type), truncate(p.Description, 50)})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Type", "Description"}, rows, nil))
				return nil
			}

			classifiers, err := client.Classifiers(cmd.Context(), project)
			if err != nil {
				return err
			}
			extractors, err := client.Extractors(cmd.Context(), project)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{"classifiers": classifiers, "extractors": extractors})
			}

			for _, line := range renderSectionHeader("Classifiers", colorize) {
				fmt.Fprintln(out, line)
			}
			classifierRows := make([][]string, 0, len(classifiers))
			for _, c := range classifiers {
				classifierRows = append(classifierRows, []string{c.ID, c.Name, orDash(c.Status), truncate(strings.Join(c.DocumentTypeIDs, ", "), 50)})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Status", "Document Types"}, classifierRows, nil))

			for _, line := range renderSectionHeader("Extractors", colorize) {
				fmt.Fprintln(out, line)
			}
			extractorRows := make([][]string, 0, len(extractors))
			for _, e := range extractors {
				extractorRows = append(extractorRows, []string{e.ID, e.Name, orDash(e.Status), orDash(e.DocumentTypeID)})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Status", "Document Type"}, extractorRows, nil))
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id to inspect")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}
