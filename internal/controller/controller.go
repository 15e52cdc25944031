// Package controller owns the stream state and drives the transport.
//
// Every command and every transport callback runs as a closure on the single
// goroutine started by Run, in arrival order. Transport callbacks are tagged
// with the session that produced them; callbacks from a session that has
// since been closed are dropped.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/metrics"
	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/internal/registry"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

var (
	// ErrTransportConnect is returned when the transport fails to activate
	ErrTransportConnect = errors.New("transport connect failed")
	// ErrProtocol marks a broker error frame
	ErrProtocol = errors.New("broker protocol error")
	// ErrStopped is returned by commands issued after Run has returned
	ErrStopped = errors.New("controller stopped")
	// ErrAlreadyRunning is returned by a second call to Run
	ErrAlreadyRunning = errors.New("controller already running")
)

// Reconnect reasons, used as metric labels.
const (
	reasonConnectFailed  = "connect_failed"
	reasonConnectionLost = "connection_lost"
	reasonProtocolError  = "protocol_error"
)

const shutdownTimeout = 5 * time.Second

// Controller serializes access to the stream state.
type Controller struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry

	queue   chan func()
	done    chan struct{}
	running atomic.Bool

	snapshot atomic.Pointer[reducer.State]
	topics   atomic.Pointer[[]string]

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int

	// Owned by the Run goroutine.
	runCtx   context.Context
	state    reducer.State
	desired  []string
	session  uint64
	timer    *time.Timer
	timerGen uint64
}

// New creates a Controller. Call Run to start processing.
func New(cfg Config) (*Controller, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "controller"),
		metrics:  cfg.Metrics,
		queue:    make(chan func(), cfg.QueueSize),
		done:     make(chan struct{}),
		watchers: make(map[int]chan struct{}),
		runCtx:   context.Background(),
		state:    reducer.New(),
		desired:  registry.Topics(cfg.InitialTopics),
	}

	reg, err := registry.New(registry.Config{
		Transport:         cfg.Transport,
		View:              func() subscription.Table { return c.state.Subscriptions },
		Dispatch:          c.dispatch,
		DestinationPrefix: cfg.DestinationPrefix,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.registry = reg

	c.publishState()
	c.publishTopics()
	return c, nil
}

// Run processes commands and callbacks until ctx is cancelled. On exit the
// transport is deactivated and any pending reconnect is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.runCtx = ctx
	c.logger.Info("controller started", "topics", c.desired)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.logger.Info("controller stopped")
			return nil
		case fn := <-c.queue:
			fn()
		}
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() reducer.State {
	return c.snapshot.Load().Clone()
}

// Topics returns the desired topic set in subscription order.
func (c *Controller) Topics() []string {
	return slices.Clone(*c.topics.Load())
}

// Changes returns a channel that receives a value after the state changes.
// Notifications coalesce: a slow reader sees at least one notification after
// the latest change, not one per change. Call cancel to stop watching.
func (c *Controller) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	cancel := func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
	}
	return ch, cancel
}

// Connect activates the transport. It does nothing unless the controller is
// disconnected.
func (c *Controller) Connect(ctx context.Context) error {
	return c.do(ctx, c.connect)
}

// Disconnect cancels any pending reconnect and closes the connection.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.cancelReconnect()
		if c.state.Status == transport.Disconnected {
			return nil
		}
		return c.close(ctx, nil)
	})
}

// Clear empties the message log.
func (c *Controller) Clear(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.dispatch(reducer.Clear{})
		return nil
	})
}

// SubscribeAll adds topics to the desired set. While connected the new
// topics are subscribed immediately; otherwise they are subscribed on the
// next connect.
func (c *Controller) SubscribeAll(ctx context.Context, topics []string) error {
	return c.do(ctx, func() error {
		topics = registry.Topics(topics)
		if len(topics) == 0 {
			return nil
		}
		for _, topic := range topics {
			if !slices.Contains(c.desired, topic) {
				c.desired = append(c.desired, topic)
			}
		}
		c.publishTopics()

		if c.state.Status != transport.Connected {
			return nil
		}
		var added []string
		var errs []error
		for _, topic := range topics {
			ok, err := c.registry.Subscribe(topic)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				added = append(added, topic)
			}
		}
		if len(added) > 0 {
			c.sendCommand(subscribeRequest{
				Action:         "subscribe",
				Symbols:        added,
				SubscriptionID: c.sessionID(),
			})
		}
		return errors.Join(errs...)
	})
}

// Unsubscribe removes topic from the desired set and releases its
// subscription. It reports false when the topic was neither desired nor
// subscribed.
func (c *Controller) Unsubscribe(ctx context.Context, topic string) (bool, error) {
	topic = strings.TrimSpace(topic)
	var found bool
	err := c.do(ctx, func() error {
		i := slices.Index(c.desired, topic)
		if i >= 0 {
			c.desired = slices.Delete(c.desired, i, i+1)
			c.publishTopics()
		}
		released := c.registry.Unsubscribe(topic)
		found = i >= 0 || released
		return nil
	})
	return found, err
}

// Publish sends body to destination over the live connection.
func (c *Controller) Publish(ctx context.Context, destination string, body []byte) error {
	return c.do(ctx, func() error {
		if c.state.Status != transport.Connected {
			return transport.ErrNotConnected
		}
		return c.cfg.Transport.Publish(destination, body)
	})
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.queue <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// enqueue schedules fn without waiting for it. It blocks while the queue is
// full and gives up once the loop has stopped.
func (c *Controller) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

func (c *Controller) connect() error {
	if c.state.Status != transport.Disconnected {
		return nil
	}
	c.cancelReconnect()
	c.dispatch(reducer.StatusChanged{Status: transport.Initializing})

	c.session++
	l := &sessionListener{c: c, session: c.session}
	if err := c.cfg.Transport.Activate(c.runCtx, l); err != nil {
		c.session++
		c.dispatch(reducer.StatusChanged{Status: transport.Disconnected})
		c.scheduleReconnect(c.cfg.ReconnectDelay, reasonConnectFailed)
		c.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("%w: %w", ErrTransportConnect, err)
	}
	c.logger.Info("connecting", "session", c.session)
	return nil
}

// close releases every subscription, deactivates the transport and moves to
// Disconnected. cause is nil for a requested close.
func (c *Controller) close(ctx context.Context, cause error) error {
	c.registry.ReleaseAll()
	c.session++
	err := c.cfg.Transport.Deactivate(ctx)
	c.dispatch(reducer.StatusChanged{Status: transport.Disconnected})
	if err != nil {
		c.logger.Warn("deactivate failed", "error", err)
		return fmt.Errorf("deactivate transport: %w", err)
	}
	if cause == nil {
		c.logger.Info("disconnected")
	}
	return nil
}

func (c *Controller) onConnect() {
	if c.state.Status != transport.Initializing {
		c.logger.Debug("ignoring connect", "status", c.state.Status)
		return
	}
	c.dispatch(reducer.StatusChanged{Status: transport.Connected})
	c.logger.Info("connected", "session", c.session, "topics", c.desired)

	if err := c.registry.SubscribeAll(c.desired); err != nil {
		c.logger.Warn("subscribe failed", "error", err)
	}
	c.sendCommand(loadRequest{Action: "load", Symbols: slices.Clone(c.desired)})
}

func (c *Controller) onDisconnect(err error) {
	if c.state.Status == transport.Disconnected {
		return
	}
	c.dispatch(reducer.StatusChanged{Status: transport.Disconnected})
	c.registry.ReleaseAll()

	if err == nil {
		c.logger.Info("connection closed")
		return
	}
	c.logger.Warn("connection lost", "error", err)
	c.scheduleReconnect(c.cfg.ReconnectDelay, reasonConnectionLost)
}

func (c *Controller) onError(detail string) {
	c.logger.Error("broker error", "error", fmt.Errorf("%w: %s", ErrProtocol, detail))
	if c.state.Status != transport.Disconnected {
		ctx, cancel := context.WithTimeout(c.runCtx, shutdownTimeout)
		_ = c.close(ctx, ErrProtocol)
		cancel()
	}
	c.scheduleReconnect(c.cfg.ErrorReconnectDelay, reasonProtocolError)
}

func (c *Controller) onMessage(destination string, body []byte) {
	events, err := reducer.Decode(body)
	if err != nil {
		c.metrics.RecordMessageDropped(metrics.DropMalformed)
		c.logger.Warn("dropping message", "destination", destination, "error", err)
		return
	}
	if len(events) == 0 {
		c.metrics.RecordMessageReceived("ignored")
		return
	}
	for _, e := range events {
		c.metrics.RecordMessageReceived(e.Name())
		c.dispatch(e)
	}
}

func (c *Controller) scheduleReconnect(delay time.Duration, reason string) {
	c.cancelReconnect()
	gen := c.timerGen
	c.metrics.RecordReconnectScheduled(reason)
	c.logger.Info("reconnect scheduled", "in", delay, "reason", reason)

	c.timer = time.AfterFunc(delay, func() {
		c.enqueue(func() {
			if gen != c.timerGen {
				return
			}
			c.timer = nil
			if c.state.Status != transport.Disconnected {
				return
			}
			_ = c.connect()
		})
	})
}

func (c *Controller) cancelReconnect() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) shutdown() {
	c.cancelReconnect()
	if c.state.Status == transport.Disconnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = c.close(ctx, nil)
}

func (c *Controller) dispatch(e reducer.Event) {
	start := time.Now()
	c.state = reducer.Apply(c.state, e)
	c.metrics.RecordApply(time.Since(start))
	c.publishState()
}

func (c *Controller) publishState() {
	snap := c.state.Clone()
	c.snapshot.Store(&snap)
	c.metrics.RecordState(snap)

	c.watchMu.Lock()
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.watchMu.Unlock()
}

func (c *Controller) publishTopics() {
	topics := slices.Clone(c.desired)
	if topics == nil {
		topics = []string{}
	}
	c.topics.Store(&topics)
}

func (c *Controller) sessionID() *string {
	if c.state.SessionID == "" {
		return nil
	}
	id := c.state.SessionID
	return &id
}

type loadRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type subscribeRequest struct {
	Action         string   `json:"action"`
	Symbols        []string `json:"symbols"`
	SubscriptionID *string  `json:"subscriptionId"`
}

func (c *Controller) sendCommand(req any) {
	if c.cfg.CommandDestination == "" {
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("encode command", "error", err)
		return
	}
	if err := c.cfg.Transport.Publish(c.cfg.CommandDestination, body); err != nil {
		c.logger.Warn("publish command failed", "destination", c.cfg.CommandDestination, "error", err)
	}
}
