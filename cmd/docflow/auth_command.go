package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/services/auth"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage service credentials",
	}
	authCmd.AddCommand(newAuthStoreSecretCommand(ctx))
	authCmd.AddCommand(newAuthCheckCommand(ctx))
	return authCmd
}

func newAuthStoreSecretCommand(ctx *commandContext) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "store-secret",
		Short: "Save the client secret in the system keyring",
		Long:  "Save the client secret in the system keyring. Without --secret the first line of stdin is used.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			value := strings.TrimSpace(secret)
			if value == "" {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					value = strings.TrimSpace(scanner.Text())
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
			}
			if value == "" {
				return fmt.Errorf("no secret given")
			}
			if err := auth.StoreSecret(cfg.Auth, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored client secret for %s\n", cfg.Auth.ClientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Client secret (read from stdin when omitted)")
	return cmd
}

func newAuthCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Request an access token to verify the credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			_, tokens, err := ctx.serviceClient(nil)
			if err != nil {
				return err
			}
			if _, err := tokens.Token(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credentials accepted")
			return nil
		},
	}
}
