package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		destination string
		payload     string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a raw frame to a broker destination",
		Long: `Publish a JSON payload to a broker destination over the consumer's
live connection, for example a load request to the command destination.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, destination, payload)
		},
	}

	cmd.Flags().StringVar(&destination, "destination", "", "Broker destination to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Frame payload as JSON")
	if err := cmd.MarkFlagRequired("destination"); err != nil {
		panic(fmt.Sprintf("Failed to mark destination as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, destination, payloadStr string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	if !json.Valid([]byte(payloadStr)) {
		return fmt.Errorf("invalid JSON payload: %s", payloadStr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing to '%s'...\n", destination)

	response, err := client.Publish(ctx, destination, json.RawMessage(payloadStr))
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	fmt.Fprintf(out, "✅ Published %d byte(s) to %s\n", response.Bytes, response.Destination)
	return nil
}
