package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check link health",
		Long:  "Show whether both links to the peer are connected. Exits non-zero when the pair is unhealthy.",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State: %s\n", health.State)
	fmt.Fprintf(out, "Peer: %s\n", valueOr(health.PeerAddress, "-"))
	fmt.Fprintf(out, "Listen: %s\n", valueOr(health.ListenAddress, "-"))
	fmt.Fprintf(out, "Listener connected: %t\n", health.ListenerConnected)
	fmt.Fprintf(out, "Connector connected: %t\n", health.ConnectorConnected)
	fmt.Fprintf(out, "Connector attempts: %d\n", health.ConnectorAttempts)

	if !health.Healthy {
		return fmt.Errorf("pair is not healthy")
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
