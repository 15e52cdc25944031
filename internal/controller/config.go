package controller

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/metrics"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// Defaults taken from the behavior of the reference web client.
const (
	DefaultReconnectDelay      = 5 * time.Second
	DefaultErrorReconnectDelay = 3 * time.Second
	DefaultQueueSize           = 256
)

// DefaultTopics are subscribed when no initial topics are configured.
var DefaultTopics = []string{"SPLK", "CSCO"}

var (
	// ErrNilTransport is returned when no transport is configured
	ErrNilTransport = errors.New("transport cannot be nil")
	// ErrInvalidDelay is returned when a reconnect delay is negative
	ErrInvalidDelay = errors.New("reconnect delay cannot be negative")
	// ErrInvalidQueueSize is returned when the queue size is not positive
	ErrInvalidQueueSize = errors.New("queue size must be positive")
)

// Config holds the settings of a Controller.
type Config struct {
	// Transport connects to the broker
	Transport transport.Transport

	// DestinationPrefix is prepended to a topic key to form its destination
	DestinationPrefix string

	// CommandDestination receives load and subscribe requests. Empty disables
	// them.
	CommandDestination string

	// InitialTopics seed the desired topic set
	InitialTopics []string

	// ReconnectDelay is the wait after a failed connect or a lost connection
	ReconnectDelay time.Duration

	// ErrorReconnectDelay is the wait after a broker error frame
	ErrorReconnectDelay time.Duration

	// QueueSize bounds the number of pending commands and callbacks
	QueueSize int

	// Metrics is optional
	Metrics *metrics.Metrics

	Logger *slog.Logger
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ErrorReconnectDelay == 0 {
		c.ErrorReconnectDelay = DefaultErrorReconnectDelay
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.InitialTopics == nil {
		c.InitialTopics = append([]string(nil), DefaultTopics...)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return ErrNilTransport
	}
	if c.ReconnectDelay < 0 || c.ErrorReconnectDelay < 0 {
		return ErrInvalidDelay
	}
	if c.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	return nil
}
