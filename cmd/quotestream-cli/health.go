package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check consumer health",
		Long:  "Check the health of the quotestream consumer and its broker connection",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintf(out, "✅ Server is healthy!\n")
	} else {
		fmt.Fprintf(out, "❌ Server is not healthy!\n")
	}
	fmt.Fprintf(out, "Broker: %s\n", connectedLabel(health.Connected))
	fmt.Fprintf(out, "Status: %s\n", health.Status)
	fmt.Fprintf(out, "Subscriptions: %d\n", health.Subscriptions)
	fmt.Fprintf(out, "Messages: %d\n", health.Messages)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	return nil
}

func connectedLabel(connected bool) string {
	if connected {
		return "🟢 connected"
	}
	return "🔴 not connected"
}
