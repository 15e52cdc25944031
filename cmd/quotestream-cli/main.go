package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/quotestream/pkg/httpclient"
)

// envToken supplies --token when the flag is not given
const envToken = "QUOTESTREAM_TOKEN"

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quotestream-cli",
		Short: "quotestream control API command line interface",
		Long: `quotestream-cli is a command line interface for the control API of a
quotestream consumer. It inspects the stream state and message log, drives the
broker connection, manages ticker subscriptions and publishes raw frames.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "quotestream control API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv(envToken), "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with --no-auth servers)")

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newMessagesCommand())
	rootCmd.AddCommand(newClearCommand())
	rootCmd.AddCommand(newConnectCommand())
	rootCmd.AddCommand(newDisconnectCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newUnsubscribeCommand())
	rootCmd.AddCommand(newSubscriptionsCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHealthCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	// health and a supplied token do not need a client ID
	if !noAuth && clientID == "" && token == "" && cmd.Name() != "health" {
		return fmt.Errorf("client-id is required (unless using --token or --no-auth)")
	}

	// Use a default client-id in no-auth mode
	effectiveClientID := clientID
	if effectiveClientID == "" {
		effectiveClientID = "dev-client"
	}

	config := httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	}

	var err error
	client, err = httpclient.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	// Set token if provided, or set dummy token in no-auth mode
	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// Set dummy token to bypass client-side auth checks
		client.SetToken("no-auth-mode")
	}

	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}

	// Skip authentication check in no-auth mode
	if noAuth {
		return nil
	}

	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'quotestream-cli auth' first or provide --token")
	}
	return nil
}
