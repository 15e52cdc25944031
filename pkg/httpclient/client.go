// Package httpclient is a Go client for the quotestream control API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ErrNotAuthenticated is returned by methods that need a token before
// Authenticate or SetToken has been called
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is returned for every response with a status of 400 or above
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Status, e.Message)
}

// IsNotFound reports whether err is an API error with status 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP client for the quotestream control API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new control API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	// Validate required config
	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in with the configured client ID and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// GetState returns the full stream state
func (c *Client) GetState(ctx context.Context) (*State, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp State
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/state", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return &resp, nil
}

// ListMessages returns the newest limit messages of the log, or all of them
// when limit is zero
func (c *Client) ListMessages(ctx context.Context, limit int) (*MessagesResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	queryParams := url.Values{}
	if limit > 0 {
		queryParams.Set("limit", strconv.Itoa(limit))
	}

	var resp MessagesResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/messages", queryParams, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &resp, nil
}

// ClearMessages empties the message log
func (c *Client) ClearMessages(ctx context.Context) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/messages", nil, nil, true); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// GetConnection returns the current connection status
func (c *Client) GetConnection(ctx context.Context) (*ConnectionResponse, error) {
	return c.connectionCommand(ctx, http.MethodGet, "/api/v1/connection", "get connection")
}

// Connect asks the consumer to connect to the broker. The returned status is
// the one right after activation; the connection completes asynchronously.
func (c *Client) Connect(ctx context.Context) (*ConnectionResponse, error) {
	return c.connectionCommand(ctx, http.MethodPost, "/api/v1/connection/connect", "connect")
}

// Disconnect asks the consumer to close its broker connection
func (c *Client) Disconnect(ctx context.Context) (*ConnectionResponse, error) {
	return c.connectionCommand(ctx, http.MethodPost, "/api/v1/connection/disconnect", "disconnect")
}

func (c *Client) connectionCommand(ctx context.Context, method, path, action string) (*ConnectionResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp ConnectionResponse
	if err := c.doRequest(ctx, method, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	return &resp, nil
}

// ListSubscriptions returns the live subscriptions and desired topics
func (c *Client) ListSubscriptions(ctx context.Context) (*SubscriptionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp SubscriptionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/subscriptions", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// Subscribe adds topics to the consumer's desired set
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*SubscriptionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp SubscriptionsResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/subscriptions", SubscribeRequest{Topics: topics}, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &resp, nil
}

// Unsubscribe removes a topic. The error satisfies IsNotFound when the
// topic was not subscribed.
func (c *Client) Unsubscribe(ctx context.Context, topic string) (*UnsubscribeResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	path := fmt.Sprintf("/api/v1/subscriptions/%s", url.PathEscape(topic))
	var resp UnsubscribeResponse
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return &resp, nil
}

// Publish sends a JSON payload to a broker destination
func (c *Client) Publish(ctx context.Context, destination string, payload any) (*PublishResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}

	req := PublishRequest{
		Destination: destination,
		Payload:     raw,
	}

	var resp PublishResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/publish", req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to publish: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the consumer
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody any, respBody any, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil {
			apiErr.Message = errResp.Message
		} else {
			apiErr.Message = string(bytes.TrimSpace(bodyBytes))
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, respBody any, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
