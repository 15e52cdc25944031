package httpclient

import (
	"encoding/json"
	"time"

	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the quotestream control API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests. The state stream is not bound by it.
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// State is a full snapshot of the stream state
type State struct {
	Status        string          `json:"status"`
	SessionID     string          `json:"sessionId,omitempty"`
	Messages      []quote.Message `json:"messages"`
	Duplicates    int             `json:"duplicates"`
	Subscriptions []Subscription  `json:"subscriptions"`
	Topics        []string        `json:"topics"`
}

// MessagesResponse represents a window of the message log, newest first
type MessagesResponse struct {
	Messages   []quote.Message `json:"messages"`
	Count      int             `json:"count"`
	Total      int             `json:"total"`
	Duplicates int             `json:"duplicates"`
}

// ConnectionResponse reports the connection status after a command
type ConnectionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
}

// SubscribeRequest represents a request to add topics
type SubscribeRequest struct {
	Topics []string `json:"topics"`
}

// Subscription represents one live broker subscription
type Subscription struct {
	Topic        string    `json:"topic"`
	Destination  string    `json:"destination"`
	Handle       string    `json:"handle"`
	State        string    `json:"state"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// SubscriptionsResponse lists live subscriptions and the desired topics
type SubscriptionsResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
	Topics        []string       `json:"topics"`
}

// UnsubscribeResponse represents the result of removing a topic
type UnsubscribeResponse struct {
	Topic        string `json:"topic"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// PublishRequest represents a frame to send to a broker destination
type PublishRequest struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// PublishResponse represents a publish acknowledgement
type PublishResponse struct {
	Destination string `json:"destination"`
	Bytes       int    `json:"bytes"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Connected     bool   `json:"connected"`
	Status        string `json:"status"`
	Subscriptions int    `json:"subscriptions"`
	Messages      int    `json:"messages"`
	Message       string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
