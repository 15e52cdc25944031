// Package config loads the daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/quotestream/internal/controller"
	"github.com/rmacdonaldsmith/quotestream/internal/stomp"
)

// Environment variables that override file values.
const (
	EnvBrokerURL   = "QUOTESTREAM_BROKER_URL"
	EnvAccessToken = "QUOTESTREAM_ACCESS_TOKEN"
	EnvAPISecret   = "QUOTESTREAM_API_SECRET"
)

// Config is the whole daemon configuration.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Broker   BrokerConfig `yaml:"broker"`
	Stream   StreamConfig `yaml:"stream"`
	Server   ServerConfig `yaml:"server"`
}

// BrokerConfig describes the STOMP broker connection.
type BrokerConfig struct {
	URL               string        `yaml:"url"`
	AccessToken       string        `yaml:"access_token"`
	TokenInURL        bool          `yaml:"token_in_url"`
	Host              string        `yaml:"host"`
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// StreamConfig describes the subscriptions and reconnect policy.
type StreamConfig struct {
	DestinationPrefix   string        `yaml:"destination_prefix"`
	CommandDestination  string        `yaml:"command_destination"`
	Tickers             []string      `yaml:"tickers"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	ErrorReconnectDelay time.Duration `yaml:"error_reconnect_delay"`
	QueueSize           int           `yaml:"queue_size"`
	AutoConnect         *bool         `yaml:"auto_connect"`
}

// ServerConfig describes the listeners of the daemon.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	GRPCAddr  string `yaml:"grpc_addr"`
	SecretKey string `yaml:"secret_key"`
	NoAuth    bool   `yaml:"no_auth"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads path, expands ${VAR} references, applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config '%s': %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	c := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	c.ApplyEnv()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBrokerURL); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.Broker.AccessToken = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Server.SecretKey = v
	}
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Broker.HeartbeatOutgoing == 0 {
		c.Broker.HeartbeatOutgoing = stomp.DefaultHeartbeat
	}
	if c.Broker.HeartbeatIncoming == 0 {
		c.Broker.HeartbeatIncoming = stomp.DefaultHeartbeat
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = stomp.DefaultConnectTimeout
	}
	if c.Stream.Tickers == nil {
		c.Stream.Tickers = append([]string(nil), controller.DefaultTopics...)
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = controller.DefaultReconnectDelay
	}
	if c.Stream.ErrorReconnectDelay == 0 {
		c.Stream.ErrorReconnectDelay = controller.DefaultErrorReconnectDelay
	}
	if c.Stream.QueueSize == 0 {
		c.Stream.QueueSize = controller.DefaultQueueSize
	}
	if c.Stream.AutoConnect == nil {
		on := true
		c.Stream.AutoConnect = &on
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
}

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url cannot be empty")
	}
	if c.Broker.HeartbeatOutgoing < 0 || c.Broker.HeartbeatIncoming < 0 {
		return fmt.Errorf("heart-beat intervals cannot be negative")
	}
	if c.Stream.ReconnectDelay < 0 || c.Stream.ErrorReconnectDelay < 0 {
		return fmt.Errorf("reconnect delays cannot be negative")
	}
	if c.Stream.QueueSize < 0 {
		return fmt.Errorf("queue size cannot be negative: %d", c.Stream.QueueSize)
	}
	for i, ticker := range c.Stream.Tickers {
		if strings.TrimSpace(ticker) == "" {
			return fmt.Errorf("ticker %d cannot be empty", i)
		}
	}
	if c.Server.SecretKey == "" && !c.Server.NoAuth {
		return fmt.Errorf("server secret_key is required unless no_auth is set")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Connect reports whether the daemon connects at startup.
func (c *Config) Connect() bool {
	return c.Stream.AutoConnect == nil || *c.Stream.AutoConnect
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file '%s': %w", path, err)
	}
	return nil
}

// StompConfig returns the transport settings.
func (c *Config) StompConfig(logger *slog.Logger) stomp.Config {
	return stomp.Config{
		BrokerURL:         c.Broker.URL,
		AccessToken:       c.Broker.AccessToken,
		TokenInURL:        c.Broker.TokenInURL,
		Host:              c.Broker.Host,
		HeartbeatOutgoing: c.Broker.HeartbeatOutgoing,
		HeartbeatIncoming: c.Broker.HeartbeatIncoming,
		ConnectTimeout:    c.Broker.ConnectTimeout,
		Logger:            logger,
	}
}

// ControllerConfig returns the controller settings, without a transport.
func (c *Config) ControllerConfig(logger *slog.Logger) controller.Config {
	return controller.Config{
		DestinationPrefix:   c.Stream.DestinationPrefix,
		CommandDestination:  c.Stream.CommandDestination,
		InitialTopics:       append([]string{}, c.Stream.Tickers...),
		ReconnectDelay:      c.Stream.ReconnectDelay,
		ErrorReconnectDelay: c.Stream.ErrorReconnectDelay,
		QueueSize:           c.Stream.QueueSize,
		Logger:              logger,
	}
}
