package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log_level: debug
broker:
  url: wss://broker.example.com/ws?token=
  access_token: ${TEST_QUOTESTREAM_TOKEN}
  token_in_url: true
  heartbeat_outgoing: 20s
stream:
  destination_prefix: /user/topic/
  command_destination: /app/iex
  tickers: [AAPL, MSFT]
  reconnect_delay: 2s
  auto_connect: false
server:
  http_addr: 127.0.0.1:9000
  grpc_addr: 127.0.0.1:9001
  secret_key: s3cret
`

func TestParse(t *testing.T) {
	t.Setenv("TEST_QUOTESTREAM_TOKEN", "abc")

	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	assert.Equal(t, "wss://broker.example.com/ws?token=", c.Broker.URL)
	assert.Equal(t, "abc", c.Broker.AccessToken)
	assert.True(t, c.Broker.TokenInURL)
	assert.Equal(t, 20*time.Second, c.Broker.HeartbeatOutgoing)
	assert.Equal(t, 10*time.Second, c.Broker.HeartbeatIncoming)

	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Stream.Tickers)
	assert.Equal(t, 2*time.Second, c.Stream.ReconnectDelay)
	assert.Equal(t, 3*time.Second, c.Stream.ErrorReconnectDelay)
	assert.Equal(t, 256, c.Stream.QueueSize)
	assert.False(t, c.Connect())

	assert.Equal(t, "127.0.0.1:9000", c.Server.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9001", c.Server.GRPCAddr)
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("broker:\n  url: ws://localhost:8080/ws\nserver:\n  no_auth: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, []string{"SPLK", "CSCO"}, c.Stream.Tickers)
	assert.Equal(t, 5*time.Second, c.Stream.ReconnectDelay)
	assert.Equal(t, ":8080", c.Server.HTTPAddr)
	assert.Empty(t, c.Server.GRPCAddr)
	assert.True(t, c.Connect())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBrokerURL, "ws://override/ws")
	t.Setenv(EnvAPISecret, "from-env")

	c, err := Parse([]byte("broker:\n  url: ws://file/ws\n"))
	require.NoError(t, err)

	assert.Equal(t, "ws://override/ws", c.Broker.URL)
	assert.Equal(t, "from-env", c.Server.SecretKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown_key", "broker:\n  url: ws://x\n  nope: 1\nserver:\n  no_auth: true\n"},
		{"bad_duration", "broker:\n  url: ws://x\nstream:\n  reconnect_delay: soon\nserver:\n  no_auth: true\n"},
		{"missing_url", "server:\n  no_auth: true\n"},
		{"bad_level", "log_level: loud\nbroker:\n  url: ws://x\nserver:\n  no_auth: true\n"},
		{"blank_ticker", "broker:\n  url: ws://x\nstream:\n  tickers: ['']\nserver:\n  no_auth: true\n"},
		{"no_secret", "broker:\n  url: ws://x\n"},
		{"negative_delay", "broker:\n  url: ws://x\nstream:\n  error_reconnect_delay: -1s\nserver:\n  no_auth: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotestream.yaml")

	c := Default()
	c.Broker.URL = "ws://localhost:8080/ws"
	c.Server.SecretKey = "k"
	c.Stream.Tickers = []string{"IBM"}
	require.NoError(t, c.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestComponentConfigs(t *testing.T) {
	c := Default()
	c.Broker.URL = "ws://localhost/ws"
	c.Stream.DestinationPrefix = "/topic/"

	sc := c.StompConfig(slog.Default())
	assert.Equal(t, "ws://localhost/ws", sc.BrokerURL)
	assert.Equal(t, 10*time.Second, sc.HeartbeatIncoming)

	cc := c.ControllerConfig(slog.Default())
	assert.Equal(t, "/topic/", cc.DestinationPrefix)
	assert.Equal(t, []string{"SPLK", "CSCO"}, cc.InitialTopics)
}
