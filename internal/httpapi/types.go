package httpapi

import (
	"encoding/json"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StateResponse is the full stream state, as served by GET /api/v1/state
// and by every frame of the state stream.
type StateResponse struct {
	Status        string                 `json:"status"`
	SessionID     string                 `json:"sessionId,omitempty"`
	Messages      []quote.Message        `json:"messages"`
	Duplicates    int                    `json:"duplicates"`
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
	Topics        []string               `json:"topics"`
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

// SubscriptionResponse represents one live broker subscription
type SubscriptionResponse struct {
	Topic        string    `json:"topic"`
	Destination  string    `json:"destination"`
	Handle       string    `json:"handle"`
	State        string    `json:"state"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// SubscriptionsListResponse lists live subscriptions and the desired topics
type SubscriptionsListResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
	Topics        []string               `json:"topics"`
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

func newStateResponse(s reducer.State, topics []string) StateResponse {
	messages := s.Log
	if messages == nil {
		messages = []quote.Message{}
	}
	if topics == nil {
		topics = []string{}
	}
	return StateResponse{
		Status:        s.Status.String(),
		SessionID:     s.SessionID,
		Messages:      messages,
		Duplicates:    s.Duplicates(),
		Subscriptions: newSubscriptionResponses(s.Subscriptions),
		Topics:        topics,
	}
}

func newSubscriptionResponses(table subscription.Table) []SubscriptionResponse {
	subs := table.List()
	resp := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, SubscriptionResponse{
			Topic:        sub.Topic,
			Destination:  sub.Destination,
			Handle:       string(sub.Handle),
			State:        sub.State.String(),
			SubscribedAt: sub.SubscribedAt,
		})
	}
	return resp
}
