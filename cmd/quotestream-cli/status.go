package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/quotestream/pkg/httpclient"
	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stream state",
		Long:  "Show the connection status, desired topics, live subscriptions and message log size",
		RunE:  runStatus,
	}

	return cmd
}

func newMessagesCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List logged messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessages(cmd.OutOrStdout(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages to show (0 = all)")

	return cmd
}

func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the message log",
		RunE:  runClear,
	}

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	state, err := client.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get state: %w", err)
	}

	printState(cmd.OutOrStdout(), state)
	return nil
}

func runMessages(out io.Writer, limit int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	messages, err := client.ListMessages(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if messages.Count == 0 {
		fmt.Fprintln(out, "No messages logged")
		return nil
	}

	fmt.Fprintf(out, "Showing %d of %d message(s), %d duplicate(s):\n\n", messages.Count, messages.Total, messages.Duplicates)
	printMessages(out, messages.Messages)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.ClearMessages(ctx); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Message log cleared\n")
	return nil
}

func printState(out io.Writer, state *httpclient.State) {
	fmt.Fprintf(out, "Status: %s\n", state.Status)
	if state.SessionID != "" {
		fmt.Fprintf(out, "Session: %s\n", state.SessionID)
	}
	fmt.Fprintf(out, "Topics: %s\n", joinOrNone(state.Topics))
	fmt.Fprintf(out, "Subscriptions: %d\n", len(state.Subscriptions))
	for _, sub := range state.Subscriptions {
		fmt.Fprintf(out, "   %s -> %s (%s)\n", sub.Topic, sub.Destination, sub.State)
	}
	fmt.Fprintf(out, "Messages: %d (%d duplicate)\n", len(state.Messages), state.Duplicates)
}

func printMessages(out io.Writer, messages []quote.Message) {
	for i, msg := range messages {
		marker := ""
		if msg.Duplicate {
			marker = " [duplicate]"
		}
		fmt.Fprintf(out, "%d. %s%s\n", i+1, msg.Canonical, marker)
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
