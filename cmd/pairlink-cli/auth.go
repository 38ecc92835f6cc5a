package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate and print a token",
		Long: `Log in with --client-id and --secret and print the issued token. Pass it
to later commands with --token to skip logging in again.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	resp, err := client.Authenticate(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticated as %s", resp.ClientID)
	if resp.IsAdmin {
		fmt.Fprint(out, " (admin)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	return nil
}
