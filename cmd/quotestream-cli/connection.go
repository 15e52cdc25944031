package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect the consumer to the broker",
		Long: `Ask the consumer to connect to the broker. The connection completes
asynchronously; use 'status' or 'watch' to follow it.`,
		RunE: runConnect,
	}

	return cmd
}

func newDisconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the consumer from the broker",
		RunE:  runDisconnect,
	}

	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "🔌 Connect requested, status: %s\n", conn.Status)
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "🛑 Disconnected, status: %s\n", conn.Status)
	return nil
}
