package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/quotestream/pkg/httpclient"
)

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe TICKER...",
		Short: "Subscribe to one or more tickers",
		Long: `Add tickers to the desired topic set. While connected they are
subscribed immediately; otherwise on the next connect.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSubscribe,
	}

	return cmd
}

func newUnsubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsubscribe TICKER",
		Short: "Unsubscribe from a ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnsubscribe,
	}

	return cmd
}

func newSubscriptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List desired topics and live subscriptions",
		RunE:  runSubscriptions,
	}

	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subscribing to %s...\n", joinOrNone(args))

	subs, err := client.Subscribe(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	fmt.Fprintf(out, "✅ Subscribed!\n")
	printSubscriptions(cmd, subs)
	return nil
}

func runUnsubscribe(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Unsubscribe(ctx, args[0])
	if err != nil {
		if httpclient.IsNotFound(err) {
			return fmt.Errorf("not subscribed to %s", args[0])
		}
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Unsubscribed from %s\n", resp.Topic)
	return nil
}

func runSubscriptions(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	printSubscriptions(cmd, subs)
	return nil
}

func printSubscriptions(cmd *cobra.Command, subs *httpclient.SubscriptionsResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Topics: %s\n", joinOrNone(subs.Topics))

	if len(subs.Subscriptions) == 0 {
		fmt.Fprintln(out, "No live subscriptions")
		return
	}

	fmt.Fprintf(out, "\n%d live subscription(s):\n", len(subs.Subscriptions))
	for i, sub := range subs.Subscriptions {
		fmt.Fprintf(out, "%d. %s\n", i+1, sub.Topic)
		fmt.Fprintf(out, "   Destination: %s\n", sub.Destination)
		fmt.Fprintf(out, "   Handle: %s\n", sub.Handle)
		fmt.Fprintf(out, "   State: %s\n", sub.State)
		fmt.Fprintf(out, "   Since: %s\n", sub.SubscribedAt.Format("2006-01-02 15:04:05"))
	}
}
