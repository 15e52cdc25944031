// Package httpapi serves the control API of a quotestream consumer: the
// stream state, a server-sent events feed of state changes, and the
// connection, subscription and publish commands.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/auth"
	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
)

const (
	// DefaultAddr is the listen address used when Config.Addr is empty
	DefaultAddr = ":8080"
	// DefaultKeepaliveInterval is the interval between SSE ping comments
	DefaultKeepaliveInterval = 15 * time.Second
)

var (
	// ErrNilStream is returned when the server has no stream to serve
	ErrNilStream = errors.New("stream cannot be nil")
	// ErrMissingSecret is returned when authentication is on without a secret key
	ErrMissingSecret = errors.New("secret key is required unless no-auth mode is enabled")
)

// Stream is the view of the connection controller the API serves.
type Stream interface {
	Snapshot() reducer.State
	Topics() []string
	Changes() (<-chan struct{}, func())
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Clear(ctx context.Context) error
	SubscribeAll(ctx context.Context, topics []string) error
	Unsubscribe(ctx context.Context, topic string) (bool, error)
	Publish(ctx context.Context, destination string, body []byte) error
}

// Config holds server configuration
type Config struct {
	Addr      string
	SecretKey string
	NoAuth    bool

	// KeepaliveInterval between ": ping" comments on the state stream
	KeepaliveInterval time.Duration

	// Metrics, when set, is served at /metrics without authentication
	Metrics http.Handler

	Logger *slog.Logger
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the config for errors
func (c *Config) Validate() error {
	if c.SecretKey == "" && !c.NoAuth {
		return ErrMissingSecret
	}
	return nil
}

// Server represents the HTTP API server
type Server struct {
	stream     Stream
	jwtAuth    *auth.JWTAuth
	handlers   *Handlers
	middleware *Middleware
	config     Config
	server     *http.Server

	// cancelBase cancels the parent of every request context so open state
	// streams end on Stop.
	cancelBase context.CancelFunc
}

// NewServer creates a new HTTP API server
func NewServer(stream Stream, config Config) (*Server, error) {
	if stream == nil {
		return nil, ErrNilStream
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "httpapi")

	var jwtAuth *auth.JWTAuth
	if config.SecretKey != "" {
		jwtAuth = auth.NewJWTAuth(config.SecretKey)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	s := &Server{
		cancelBase: cancelBase,
		stream:     stream,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(stream, jwtAuth, config.KeepaliveInterval, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		config:     config,
	}

	s.server = &http.Server{
		Addr:        config.Addr,
		Handler:     s.setupRoutes(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: state streams stay open for the life of the client.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		BaseContext:    func(net.Listener) context.Context { return baseCtx },
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server on the configured address
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve accepts connections on lis
func (s *Server) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop ends open state streams and gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.cancelBase()
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}
	authed := func(handler http.HandlerFunc) http.Handler {
		return withMiddleware(s.middleware.AuthRequired(handler))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// State endpoints
	mux.Handle("/api/v1/state", authed(s.method(http.MethodGet, s.handlers.GetState)))
	mux.Handle("/api/v1/state/stream", authed(s.method(http.MethodGet, s.handlers.StreamState)))

	// Message log endpoints
	mux.Handle("/api/v1/messages", authed(s.handleMessages))

	// Connection endpoints
	mux.Handle("/api/v1/connection", authed(s.method(http.MethodGet, s.handlers.GetConnection)))
	mux.Handle("/api/v1/connection/connect", authed(s.method(http.MethodPost, s.handlers.Connect)))
	mux.Handle("/api/v1/connection/disconnect", authed(s.method(http.MethodPost, s.handlers.Disconnect)))

	// Subscription endpoints
	mux.Handle("/api/v1/subscriptions", authed(s.handleSubscriptions))
	mux.Handle("/api/v1/subscriptions/", authed(s.handleSubscriptionByTopic))

	// Publish endpoint
	mux.Handle("/api/v1/publish", authed(s.method(http.MethodPost, s.handlers.Publish)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	if s.config.Metrics != nil {
		mux.Handle("/metrics", s.config.Metrics)
	}

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// Route handlers that dispatch based on HTTP method

// method rejects every request whose method is not m
func (s *Server) method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleMessages routes message log requests based on HTTP method
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.ListMessages(w, r)
	case http.MethodDelete:
		s.handlers.ClearMessages(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSubscriptions routes subscription requests based on HTTP method
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.ListSubscriptions(w, r)
	case http.MethodPost:
		s.handlers.CreateSubscriptions(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSubscriptionByTopic handles DELETE /api/v1/subscriptions/{topic}
func (s *Server) handleSubscriptionByTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/v1/subscriptions/"))
	if topic == "" || strings.Contains(topic, "/") {
		writeError(w, "Topic required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handlers.DeleteSubscription(w, r, topic)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]any{
		"service":     "quotestream control API",
		"version":     "1.0.0",
		"description": "Inspect and drive a market-data quote stream consumer",
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"state": map[string]string{
				"get":    "GET /api/v1/state",
				"stream": "GET /api/v1/state/stream",
			},
			"messages": map[string]string{
				"list":  "GET /api/v1/messages?limit={limit}",
				"clear": "DELETE /api/v1/messages",
			},
			"connection": map[string]string{
				"status":     "GET /api/v1/connection",
				"connect":    "POST /api/v1/connection/connect",
				"disconnect": "POST /api/v1/connection/disconnect",
			},
			"subscriptions": map[string]string{
				"list":      "GET /api/v1/subscriptions",
				"subscribe": "POST /api/v1/subscriptions",
				"delete":    "DELETE /api/v1/subscriptions/{topic}",
			},
			"publish": "POST /api/v1/publish",
			"health":  "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
