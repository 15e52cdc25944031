package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/auth"
	"github.com/rmacdonaldsmith/quotestream/internal/controller"
	"github.com/rmacdonaldsmith/quotestream/internal/registry"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	stream    Stream
	jwtAuth   *auth.JWTAuth
	keepalive time.Duration
	logger    *slog.Logger
}

// NewHandlers creates a new handlers instance. jwtAuth may be nil when
// login is disabled.
func NewHandlers(stream Stream, jwtAuth *auth.JWTAuth, keepalive time.Duration, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		stream:    stream,
		jwtAuth:   jwtAuth,
		keepalive: keepalive,
		logger:    logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.jwtAuth == nil {
		h.writeError(w, "Authentication is disabled", http.StatusNotImplemented)
		return
	}

	var req AuthRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := validateAuthRequest(&req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, false)
	if err != nil {
		h.writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// State endpoints

// GetState handles GET /api/v1/state
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, newStateResponse(h.stream.Snapshot(), h.stream.Topics()), http.StatusOK)
}

// StreamState handles GET /api/v1/state/stream. It writes the current state
// as the first frame and one frame after every change, with ": ping"
// comments in between.
func (h *Handlers) StreamState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Watch before the first snapshot so no change falls in between.
	changes, cancel := h.stream.Changes()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(": state stream established\n\n")); err != nil {
		return
	}
	if err := h.writeStateFrame(w); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-changes:
			if err := h.writeStateFrame(w); err != nil {
				h.logger.Debug("state stream closed", "client", GetClientID(r), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// Message endpoints

// ListMessages handles GET /api/v1/messages?limit={limit}
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	state := h.stream.Snapshot()
	messages := state.Log
	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}

	h.writeJSON(w, MessagesResponse{
		Messages:   messages,
		Count:      len(messages),
		Total:      len(state.Log),
		Duplicates: state.Duplicates(),
	}, http.StatusOK)
}

// ClearMessages handles DELETE /api/v1/messages
func (h *Handlers) ClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.stream.Clear(r.Context()); err != nil {
		h.writeCommandError(w, "Failed to clear messages", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connection endpoints

// GetConnection handles GET /api/v1/connection
func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	h.writeConnection(w, http.StatusOK)
}

// Connect handles POST /api/v1/connection/connect. The connection is
// established asynchronously; the response carries the status right after
// activation.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.stream.Connect(r.Context()); err != nil {
		h.writeCommandError(w, "Failed to connect", err)
		return
	}
	h.writeConnection(w, http.StatusAccepted)
}

// Disconnect handles POST /api/v1/connection/disconnect
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.stream.Disconnect(r.Context()); err != nil {
		h.writeCommandError(w, "Failed to disconnect", err)
		return
	}
	h.writeConnection(w, http.StatusOK)
}

// Subscription endpoints

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	h.writeSubscriptions(w, http.StatusOK)
}

// CreateSubscriptions handles POST /api/v1/subscriptions
func (h *Handlers) CreateSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	topics := registry.Topics(req.Topics)
	if len(topics) == 0 {
		h.writeError(w, "At least one topic is required", http.StatusBadRequest)
		return
	}

	if err := h.stream.SubscribeAll(r.Context(), topics); err != nil {
		h.writeCommandError(w, "Failed to subscribe", err)
		return
	}
	h.writeSubscriptions(w, http.StatusOK)
}

// DeleteSubscription handles DELETE /api/v1/subscriptions/{topic}
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request, topic string) {
	found, err := h.stream.Unsubscribe(r.Context(), topic)
	if err != nil {
		h.writeCommandError(w, "Failed to unsubscribe", err)
		return
	}
	if !found {
		h.writeError(w, fmt.Sprintf("Topic %s is not subscribed", topic), http.StatusNotFound)
		return
	}

	h.writeJSON(w, UnsubscribeResponse{Topic: topic, Unsubscribed: true}, http.StatusOK)
}

// Publish endpoint

// Publish handles POST /api/v1/publish
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := validatePublishRequest(&req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.stream.Publish(r.Context(), req.Destination, req.Payload); err != nil {
		h.writeCommandError(w, "Failed to publish", err)
		return
	}

	h.writeJSON(w, PublishResponse{
		Destination: req.Destination,
		Bytes:       len(req.Payload),
	}, http.StatusAccepted)
}

// Health endpoint

// Health handles GET /api/v1/health. The API answers 200 whenever it is
// serving; Connected reports the broker connection.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	state := h.stream.Snapshot()
	connected := state.Status == transport.Connected

	message := "connected to broker"
	if !connected {
		message = "not connected to broker"
	}

	h.writeJSON(w, HealthResponse{
		Healthy:       true,
		Connected:     connected,
		Status:        state.Status.String(),
		Subscriptions: state.Subscriptions.Len(),
		Messages:      len(state.Log),
		Message:       message,
	}, http.StatusOK)
}

// Helper methods

func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, message, statusCode)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	writeJSON(w, data, statusCode)
}

// writeCommandError maps a controller error onto a status code
func (h *Handlers) writeCommandError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, controller.ErrTransportConnect):
		status = http.StatusBadGateway
	case errors.Is(err, controller.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(message, "error", err)
	}
	h.writeError(w, fmt.Sprintf("%s: %v", message, err), status)
}

func (h *Handlers) writeConnection(w http.ResponseWriter, statusCode int) {
	state := h.stream.Snapshot()
	h.writeJSON(w, ConnectionResponse{
		Status:    state.Status.String(),
		SessionID: state.SessionID,
	}, statusCode)
}

func (h *Handlers) writeSubscriptions(w http.ResponseWriter, statusCode int) {
	topics := h.stream.Topics()
	if topics == nil {
		topics = []string{}
	}
	h.writeJSON(w, SubscriptionsListResponse{
		Subscriptions: newSubscriptionResponses(h.stream.Snapshot().Subscriptions),
		Topics:        topics,
	}, statusCode)
}

// writeStateFrame writes the current state as an SSE data message
func (h *Handlers) writeStateFrame(w http.ResponseWriter) error {
	data, err := json.Marshal(newStateResponse(h.stream.Snapshot(), h.stream.Topics()))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// decodeJSON validates the content type and decodes the request body into
// dst. It writes the error response and returns false on failure.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validateJSON(r); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// validateJSON validates that the request has a JSON content type
func validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && !strings.HasPrefix(contentType, "application/json;") {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	return nil
}

// validatePublishRequest validates publish request fields
func validatePublishRequest(req *PublishRequest) error {
	req.Destination = strings.TrimSpace(req.Destination)
	if req.Destination == "" {
		return errors.New("destination is required")
	}
	if !strings.HasPrefix(req.Destination, "/") {
		return errors.New("destination must start with /")
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return errors.New("payload is required")
	}
	return nil
}
