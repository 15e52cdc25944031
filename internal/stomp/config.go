package stomp

import (
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultHeartbeat      = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second

	// Subprotocol is offered during the WebSocket handshake.
	Subprotocol = "v12.stomp"
)

var (
	// ErrEmptyBrokerURL is returned when no broker URL is configured
	ErrEmptyBrokerURL = errors.New("broker URL cannot be empty")
	// ErrInvalidBrokerURL is returned when the broker URL is not ws:// or wss://
	ErrInvalidBrokerURL = errors.New("broker URL must use ws or wss scheme")
)

// Config represents configuration for a Client
type Config struct {
	// BrokerURL is the WebSocket endpoint of the broker
	BrokerURL string

	// AccessToken authenticates the session. Empty disables authentication.
	AccessToken string

	// TokenInURL appends AccessToken to BrokerURL verbatim instead of sending
	// it as an Authorization header on CONNECT
	TokenInURL bool

	// Host is the virtual host sent on CONNECT. Defaults to the URL host.
	Host string

	// HeartbeatOutgoing is how often this client promises to send heart-beats
	HeartbeatOutgoing time.Duration

	// HeartbeatIncoming is how often this client wants heart-beats from the
	// broker. The read deadline is twice the negotiated value.
	HeartbeatIncoming time.Duration

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// Dialer defaults to websocket.DefaultDialer with the STOMP subprotocol
	Dialer *websocket.Dialer

	Logger *slog.Logger
	Now    func() time.Time
}

// SetDefaults applies default values for unset fields
func (c *Config) SetDefaults() {
	if c.HeartbeatOutgoing == 0 {
		c.HeartbeatOutgoing = DefaultHeartbeat
	}
	if c.HeartbeatIncoming == 0 {
		c.HeartbeatIncoming = DefaultHeartbeat
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Dialer == nil {
		d := *websocket.DefaultDialer
		d.Subprotocols = []string{Subprotocol}
		c.Dialer = &d
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return ErrEmptyBrokerURL
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return errors.Join(ErrInvalidBrokerURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return ErrInvalidBrokerURL
	}
	if c.HeartbeatOutgoing < 0 || c.HeartbeatIncoming < 0 {
		return errors.New("heart-beat intervals cannot be negative")
	}
	return nil
}

// dialURL is the URL actually dialed.
func (c *Config) dialURL() string {
	if c.TokenInURL {
		return c.BrokerURL + c.AccessToken
	}
	return c.BrokerURL
}

func (c *Config) host() string {
	if c.Host != "" {
		return c.Host
	}
	if u, err := url.Parse(c.BrokerURL); err == nil {
		return u.Hostname()
	}
	return ""
}
