package controller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/quotestream/internal/transporttest"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	t    *testing.T
	fake *transporttest.Fake
	c    *Controller
	ctx  context.Context
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	fake := transporttest.NewFake()
	cfg := Config{
		Transport:           fake,
		DestinationPrefix:   "/topic/",
		CommandDestination:  "/app/iex",
		InitialTopics:       []string{"SPLK", "CSCO"},
		ReconnectDelay:      20 * time.Millisecond,
		ErrorReconnectDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{t: t, fake: fake, c: c, ctx: context.Background()}
}

func (h *harness) status() transport.Status {
	return h.c.Snapshot().Status
}

func (h *harness) waitStatus(want transport.Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.status() == want }, waitFor, tick, "status never became %s", want)
}

// sync waits until every callback queued so far has been processed.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.c.SubscribeAll(h.ctx, nil))
}

func (h *harness) connected() {
	h.t.Helper()
	require.NoError(h.t, h.c.Connect(h.ctx))
	h.fake.Connect()
	h.waitStatus(transport.Connected)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilTransport)

	_, err = New(Config{Transport: transporttest.NewFake(), ReconnectDelay: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = New(Config{Transport: transporttest.NewFake(), QueueSize: -1})
	assert.ErrorIs(t, err, ErrInvalidQueueSize)
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, DefaultErrorReconnectDelay, cfg.ErrorReconnectDelay)
	assert.Equal(t, DefaultQueueSize, cfg.QueueSize)
	assert.Equal(t, []string{"SPLK", "CSCO"}, cfg.InitialTopics)
	assert.NotNil(t, cfg.Logger)
}

func TestConnect(t *testing.T) {
	t.Run("initial_state", func(t *testing.T) {
		h := newHarness(t, nil)

		s := h.c.Snapshot()
		assert.Equal(t, transport.Disconnected, s.Status)
		assert.Empty(t, s.Log)
		assert.Equal(t, []string{"SPLK", "CSCO"}, h.c.Topics())
	})

	t.Run("subscribes_desired_topics_and_requests_load", func(t *testing.T) {
		h := newHarness(t, nil)

		require.NoError(t, h.c.Connect(h.ctx))
		assert.Equal(t, transport.Initializing, h.status())

		h.fake.Connect()
		h.waitStatus(transport.Connected)
		h.sync()

		assert.Equal(t, []string{"/topic/SPLK", "/topic/CSCO"}, h.fake.Subscribed())
		assert.Equal(t, []string{"CSCO", "SPLK"}, h.c.Snapshot().Subscriptions.Topics())

		published := h.fake.Published()
		require.Len(t, published, 1)
		assert.Equal(t, "/app/iex", published[0].Destination)
		assert.JSONEq(t, `{"action":"load","symbols":["SPLK","CSCO"]}`, string(published[0].Body))
	})

	t.Run("noop_unless_disconnected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()

		require.NoError(t, h.c.Connect(h.ctx))
		assert.Equal(t, 1, h.fake.Activations())
	})

	t.Run("activation_failure_schedules_reconnect", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fake.SetActivateErr(errors.New("dial refused"))

		err := h.c.Connect(h.ctx)
		assert.ErrorIs(t, err, ErrTransportConnect)
		assert.Equal(t, transport.Disconnected, h.status())

		h.fake.SetActivateErr(nil)
		require.Eventually(t, func() bool { return h.fake.Activations() >= 2 }, waitFor, tick)
		h.waitStatus(transport.Initializing)
	})

	t.Run("connect_without_command_destination_publishes_nothing", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.CommandDestination = "" })
		h.connected()
		h.sync()

		assert.Empty(t, h.fake.Published())
	})
}

func TestConnectionLoss(t *testing.T) {
	t.Run("releases_subscriptions_and_reconnects", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.ReconnectDelay = 100 * time.Millisecond })
		h.connected()
		h.sync()

		h.fake.Drop(errors.New("socket closed"))
		h.waitStatus(transport.Disconnected)
		assert.Zero(t, h.c.Snapshot().Subscriptions.Len())

		require.Eventually(t, func() bool { return h.fake.Activations() == 2 }, waitFor, tick)
		h.fake.Connect()
		h.waitStatus(transport.Connected)
		h.sync()

		assert.Equal(t, 2, h.c.Snapshot().Subscriptions.Len())
		assert.Len(t, h.fake.Subscribed(), 4)
	})

	t.Run("requested_close_does_not_reconnect", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()

		h.fake.Drop(nil)
		h.waitStatus(transport.Disconnected)

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, 1, h.fake.Activations())
	})

	t.Run("disconnect_cancels_pending_reconnect", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.ReconnectDelay = 100 * time.Millisecond })
		h.connected()

		h.fake.Drop(errors.New("socket closed"))
		require.NoError(t, h.c.Disconnect(h.ctx))
		assert.Equal(t, transport.Disconnected, h.status())

		time.Sleep(250 * time.Millisecond)
		assert.Equal(t, 1, h.fake.Activations())
	})

	t.Run("session_id_cleared", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.ReconnectDelay = time.Second })
		h.connected()
		h.fake.Deliver("/topic/SPLK", []byte(`{"data":{"subscriptionId":"abc"}}`))
		h.sync()
		require.Equal(t, "abc", h.c.Snapshot().SessionID)

		h.fake.Drop(errors.New("gone"))
		h.waitStatus(transport.Disconnected)

		assert.Empty(t, h.c.Snapshot().SessionID)
	})
}

func TestProtocolError(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ErrorReconnectDelay = 100 * time.Millisecond })
	h.connected()

	h.fake.Fail("bad frame")
	h.waitStatus(transport.Disconnected)

	assert.Equal(t, 1, h.fake.Deactivations())
	assert.Zero(t, h.c.Snapshot().Subscriptions.Len())
	require.Eventually(t, func() bool { return h.fake.Activations() == 2 }, waitFor, tick)
}

func TestDisconnect(t *testing.T) {
	t.Run("releases_and_deactivates", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()
		h.sync()

		require.NoError(t, h.c.Disconnect(h.ctx))

		assert.Equal(t, transport.Disconnected, h.status())
		assert.Equal(t, 1, h.fake.Deactivations())
		assert.Len(t, h.fake.Released(), 2)
		assert.Zero(t, h.c.Snapshot().Subscriptions.Len())
	})

	t.Run("noop_when_disconnected", func(t *testing.T) {
		h := newHarness(t, nil)

		require.NoError(t, h.c.Disconnect(h.ctx))
		assert.Zero(t, h.fake.Deactivations())
	})

	t.Run("callbacks_from_closed_session_are_dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()
		old := h.fake.Listener()

		require.NoError(t, h.c.Disconnect(h.ctx))
		old.OnMessage("/topic/SPLK", []byte(`{"messageType":"A","data":["Q","SPLK",1]}`))
		old.OnConnect()
		h.sync()

		s := h.c.Snapshot()
		assert.Empty(t, s.Log)
		assert.Equal(t, transport.Disconnected, s.Status)
	})
}

func TestMessages(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()

	h.fake.Deliver("/topic/SPLK", []byte(`{"messageType":"L","data":[{"x":1},{"x":2}]}`))
	h.fake.Deliver("/topic/SPLK", []byte(`{"messageType":"A","data":{"type":"T","x":1}}`))
	h.fake.Deliver("/topic/SPLK", []byte(`not json`))
	h.fake.Deliver("/topic/SPLK", []byte(`{"messageType":"A","data":{"type":"Q","x":1}}`))
	h.sync()

	s := h.c.Snapshot()
	require.Len(t, s.Log, 3)
	assert.Equal(t, `{"type":"Q", "x":1}`, s.Log[0].Canonical)
	assert.Equal(t, 0, s.Duplicates())

	t.Run("clear_keeps_status_and_subscriptions", func(t *testing.T) {
		require.NoError(t, h.c.Clear(h.ctx))

		s := h.c.Snapshot()
		assert.Empty(t, s.Log)
		assert.Equal(t, transport.Connected, s.Status)
		assert.Equal(t, 2, s.Subscriptions.Len())
	})
}

func TestSubscribeAll(t *testing.T) {
	t.Run("while_disconnected_only_updates_desired", func(t *testing.T) {
		h := newHarness(t, nil)

		require.NoError(t, h.c.SubscribeAll(h.ctx, []string{"AAPL", "SPLK"}))

		assert.Equal(t, []string{"SPLK", "CSCO", "AAPL"}, h.c.Topics())
		assert.Empty(t, h.fake.Subscribed())
	})

	t.Run("while_connected_subscribes_and_sends_request", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()
		h.fake.Deliver("/topic/SPLK", []byte(`{"data":{"subscriptionId":7}}`))

		require.NoError(t, h.c.SubscribeAll(h.ctx, []string{"AAPL"}))

		assert.Equal(t, "/topic/AAPL", h.fake.Subscribed()[2])
		published := h.fake.Published()
		require.Len(t, published, 2)
		assert.JSONEq(t, `{"action":"subscribe","symbols":["AAPL"],"subscriptionId":"7"}`, string(published[1].Body))
	})

	t.Run("request_names_only_new_topics", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()
		h.sync()
		require.Len(t, h.fake.Published(), 1)

		require.NoError(t, h.c.SubscribeAll(h.ctx, []string{"SPLK", "CSCO"}))
		assert.Len(t, h.fake.Published(), 1)

		require.NoError(t, h.c.SubscribeAll(h.ctx, []string{"SPLK", "AAPL"}))
		published := h.fake.Published()
		require.Len(t, published, 2)
		assert.JSONEq(t, `{"action":"subscribe","symbols":["AAPL"],"subscriptionId":null}`, string(published[1].Body))
		assert.Equal(t, 3, h.fake.Live())
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("unknown_topic", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.InitialTopics = []string{} })
		before := h.c.Snapshot()

		found, err := h.c.Unsubscribe(h.ctx, "ZZZ")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, before, h.c.Snapshot())
	})

	t.Run("live_topic", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connected()
		h.sync()

		found, err := h.c.Unsubscribe(h.ctx, "SPLK")
		require.NoError(t, err)
		assert.True(t, found)

		assert.Equal(t, []string{"CSCO"}, h.c.Topics())
		assert.Equal(t, []string{"CSCO"}, h.c.Snapshot().Subscriptions.Topics())
		assert.Len(t, h.fake.Released(), 1)
	})
}

func TestPublish(t *testing.T) {
	h := newHarness(t, nil)

	err := h.c.Publish(h.ctx, "/app/echo", []byte(`{}`))
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	h.connected()
	require.NoError(t, h.c.Publish(h.ctx, "/app/echo", []byte(`{"a":1}`)))

	published := h.fake.Published()
	last := published[len(published)-1]
	assert.Equal(t, "/app/echo", last.Destination)
	assert.Equal(t, `{"a":1}`, string(last.Body))
}

func TestChanges(t *testing.T) {
	h := newHarness(t, nil)
	changes, cancel := h.c.Changes()
	defer cancel()

	require.NoError(t, h.c.Connect(h.ctx))

	select {
	case <-changes:
	case <-time.After(waitFor):
		t.Fatal("no change notification")
	}
}

func TestRunLifecycle(t *testing.T) {
	c, err := New(Config{Transport: transporttest.NewFake()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Connect(context.Background()))
	assert.Eventually(t, func() bool { return c.running.Load() }, waitFor, tick)
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)

	assert.ErrorIs(t, c.Clear(context.Background()), ErrStopped)
	assert.Equal(t, transport.Disconnected, c.Snapshot().Status)
}

func TestCommandRequests(t *testing.T) {
	body, err := json.Marshal(subscribeRequest{Action: "subscribe", Symbols: []string{"SPLK"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"subscribe","symbols":["SPLK"],"subscriptionId":null}`, string(body))
}
