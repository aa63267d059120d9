package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached document state",
	}
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [filename...]",
		Short: "Forget document state so files are processed from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("name one or more files or pass --all")
			}
			if len(args) > 0 && all {
				return fmt.Errorf("--all cannot be combined with file names")
			}
			defer ctx.close()
			if err := ctx.acquireLock(); err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			removed, err := store.Purge(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d document(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Clear every document")
	return cmd
}
