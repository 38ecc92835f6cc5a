package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the node's event journal (admin)",
		Long:  "List the latest journal entries: health transitions and message traffic. Requires an admin client.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	return cmd
}

func runEvents(cmd *cobra.Command, limit int) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	resp, err := client.Events(ctx, limit)
	if err != nil {
		return err
	}

	if len(resp.Entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No journal entries")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tTIME\tKIND\tBYTES\tDETAIL")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			e.Offset, e.Time.Format("2006-01-02 15:04:05"), e.Kind, e.ContentLength, e.Detail)
	}
	return w.Flush()
}
