package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/quotestream/pkg/httpclient"
)

func newWatchCommand() *cobra.Command {
	var (
		bufferSize int
		frames     int
		jsonFormat bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the stream state in real-time",
		Long: `Watch the stream state using Server-Sent Events. Each change prints
the status, subscriptions and the newest messages.
Press Ctrl+C to stop watching.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, bufferSize, frames, jsonFormat)
		},
	}

	cmd.Flags().IntVar(&bufferSize, "buffer-size", 16, "State frame buffer size")
	cmd.Flags().IntVar(&frames, "frames", 0, "Stop after this many frames (0 = until interrupted)")
	cmd.Flags().BoolVar(&jsonFormat, "json", false, "Print each frame as JSON")

	return cmd
}

func runWatch(cmd *cobra.Command, bufferSize, frames int, jsonFormat bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	// Create context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	out := cmd.OutOrStdout()
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "\n🛑 Stopping watch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(out, "🌊 Watching stream state from %s...\n", serverURL)
	fmt.Fprintln(out, "Press Ctrl+C to stop watching")

	streamClient, err := client.StreamState(ctx, httpclient.StreamConfig{BufferSize: bufferSize})
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			fmt.Fprintf(out, "Warning: failed to close stream client: %v\n", err)
		}
	}()

	errs := streamClient.Errors()
	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Watch stopped. Received %d frame(s).\n", count)
			return nil

		case state, ok := <-streamClient.States():
			if !ok {
				fmt.Fprintf(out, "\n🔌 State stream closed. Received %d frame(s).\n", count)
				return nil
			}

			count++
			if err := printFrame(out, state, count, jsonFormat); err != nil {
				return err
			}
			if frames > 0 && count >= frames {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Non-fatal: the stream client reconnects on its own.
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)
		}
	}
}

// newestShown is how many of the newest messages a frame prints
const newestShown = 5

func printFrame(out io.Writer, state httpclient.State, count int, jsonFormat bool) error {
	if jsonFormat {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "📨 Frame #%d:\n", count)
	printState(out, &state)
	printMessages(out, state.Messages[:min(len(state.Messages), newestShown)])
	fmt.Fprintln(out)
	return nil
}
