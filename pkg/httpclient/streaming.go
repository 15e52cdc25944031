package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxFrameBytes bounds one SSE line; a state frame carries the whole log.
const maxFrameBytes = 4 << 20

// StreamClient consumes the server-sent state stream
type StreamClient struct {
	client *Client
	states chan State
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// BufferSize for the state channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 16
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// StreamState opens the state stream. Every frame is a full State; the
// first one is the state at the time of connecting, and a reconnect starts
// over with a fresh snapshot.
func (c *Client) StreamState(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		states: make(chan State, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// States returns the channel of state frames
func (sc *StreamClient) States() <-chan State {
	return sc.states
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.states)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := sc.connectAndStream(ctx)
		if err != nil && ctx.Err() == nil {
			sc.reportError(ctx, fmt.Errorf("streaming error: %w", err))
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			case <-ctx.Done():
			}
			return
		}

		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes the SSE connection and processes frames
func (sc *StreamClient) connectAndStream(ctx context.Context) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/state/stream"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// The request timeout would cut a long-lived stream; rely on ctx instead.
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		jsonData, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			// Keepalive comments, blank separators and other SSE fields
			continue
		}

		var state State
		if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
			sc.reportError(ctx, fmt.Errorf("failed to parse state: %w", err))
			continue
		}

		if !sc.deliver(ctx, state) {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}

// deliver hands state to the reader, discarding the oldest buffered frame
// when the buffer is full.
func (sc *StreamClient) deliver(ctx context.Context, state State) bool {
	for {
		select {
		case sc.states <- state:
			return true
		case <-ctx.Done():
			return false
		default:
		}

		select {
		case <-sc.states:
		default:
		}
	}
}

func (sc *StreamClient) reportError(ctx context.Context, err error) {
	select {
	case sc.errors <- err:
	case <-ctx.Done():
	default:
	}
}
