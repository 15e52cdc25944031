package stomp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/quotestream/internal/auth"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// ErrConnectRejected is reported when the broker answers CONNECT with
// something other than CONNECTED.
var ErrConnectRejected = errors.New("broker rejected connect")

// Client is a STOMP over WebSocket transport.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	sess *session
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a Client. No connection is made until Activate.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stomp config: %w", err)
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "stomp"),
	}, nil
}

type session struct {
	listener transport.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	writeMu sync.Mutex
	conn    *websocket.Conn

	subsMu    sync.Mutex
	subs      map[transport.Handle]string
	connected bool

	closed atomic.Bool // Deactivate was called
	ended  atomic.Bool // terminal callback delivered or suppressed
}

// Activate starts a session in the background. It fails immediately when a
// session is already active or the access token has expired.
func (c *Client) Activate(ctx context.Context, l transport.Listener) error {
	if err := auth.CheckExpiry(c.cfg.AccessToken, c.cfg.Now()); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return transport.ErrAlreadyActive
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		listener: l,
		ctx:      sctx,
		cancel:   cancel,
		subs:     make(map[transport.Handle]string),
	}
	c.sess = s

	go c.run(s)
	return nil
}

// Deactivate closes the active session without reporting it to the listener.
func (c *Client) Deactivate(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	s.closed.Store(true)
	s.ended.Store(true)

	if s.isConnected() {
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := s.write(NewFrame(CmdDisconnect, nil), deadline); err != nil {
			c.logger.Debug("disconnect frame not sent", "error", err)
		}
	}
	s.shutdown()
	c.logger.Info("session closed")
	return nil
}

// Subscribe sends SUBSCRIBE for destination and returns the subscription id.
func (c *Client) Subscribe(destination string) (transport.Handle, error) {
	s := c.connectedSession()
	if s == nil {
		return "", transport.ErrNotConnected
	}

	id := uuid.NewString()
	f := NewFrame(CmdSubscribe, nil, "id", id, "destination", destination, "ack", "auto")
	if err := s.write(f, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return "", fmt.Errorf("send subscribe: %w", err)
	}

	h := transport.Handle(id)
	s.subsMu.Lock()
	s.subs[h] = destination
	s.subsMu.Unlock()
	return h, nil
}

// Unsubscribe sends UNSUBSCRIBE for h. Handles not live in the current
// session are ignored.
func (c *Client) Unsubscribe(h transport.Handle) error {
	s := c.connectedSession()
	if s == nil {
		return nil
	}

	s.subsMu.Lock()
	_, ok := s.subs[h]
	delete(s.subs, h)
	s.subsMu.Unlock()
	if !ok {
		return nil
	}

	f := NewFrame(CmdUnsubscribe, nil, "id", string(h))
	if err := s.write(f, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	return nil
}

// Publish sends body to destination as a JSON SEND frame.
func (c *Client) Publish(destination string, body []byte) error {
	s := c.connectedSession()
	if s == nil {
		return transport.ErrNotConnected
	}
	f := NewFrame(CmdSend, body, "destination", destination, "content-type", "application/json")
	if err := s.write(f, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *Client) connectedSession() *session {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || !s.isConnected() {
		return nil
	}
	return s
}

func (c *Client) run(s *session) {
	defer s.shutdown()

	conn, err := c.dial(s)
	if err != nil {
		c.end(s, func() { s.listener.OnDisconnect(fmt.Errorf("dial broker: %w", err)) })
		return
	}

	incoming, outgoing, err := c.handshake(s, conn)
	if err != nil {
		var brokerErr *BrokerError
		if errors.As(err, &brokerErr) {
			c.end(s, func() { s.listener.OnError(brokerErr.Error()) })
		} else {
			c.end(s, func() { s.listener.OnDisconnect(err) })
		}
		return
	}

	s.subsMu.Lock()
	s.connected = true
	s.subsMu.Unlock()

	c.logger.Info("connected", "heartbeat_in", incoming, "heartbeat_out", outgoing)
	if outgoing > 0 {
		go c.heartbeat(s, outgoing)
	}
	s.listener.OnConnect()

	c.readLoop(s, conn, incoming)
}

func (c *Client) dial(s *session) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.dialURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	// Deactivate may have run while dialing.
	if s.closed.Load() {
		conn.Close()
		return nil, context.Canceled
	}
	return conn, nil
}

// handshake sends CONNECT and waits for CONNECTED. It returns the negotiated
// heart-beat intervals.
func (c *Client) handshake(s *session, conn *websocket.Conn) (incoming, outgoing time.Duration, err error) {
	kv := []string{
		"accept-version", "1.2",
		"host", c.cfg.host(),
		"heart-beat", fmt.Sprintf("%d,%d", c.cfg.HeartbeatOutgoing.Milliseconds(), c.cfg.HeartbeatIncoming.Milliseconds()),
	}
	if token := auth.StripBearer(c.cfg.AccessToken); token != "" && !c.cfg.TokenInURL {
		kv = append(kv, "Authorization", "Bearer "+token)
	}
	if err := s.write(NewFrame(CmdConnect, nil, kv...), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return 0, 0, fmt.Errorf("send connect: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		return 0, 0, err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("await connected: %w", err)
		}
		frames, err := Decode(data)
		if err != nil {
			return 0, 0, err
		}
		if len(frames) == 0 {
			continue
		}

		f := frames[0]
		switch f.Command {
		case CmdConnected:
			sx, sy := parseHeartbeat(f.Header("heart-beat"))
			outgoing = negotiate(c.cfg.HeartbeatOutgoing, sy)
			incoming = negotiate(c.cfg.HeartbeatIncoming, sx)
			return incoming, outgoing, nil
		case CmdError:
			return 0, 0, brokerError(f)
		default:
			return 0, 0, fmt.Errorf("%w: got %s", ErrConnectRejected, f.Command)
		}
	}
}

func (c *Client) readLoop(s *session, conn *websocket.Conn, incoming time.Duration) {
	for {
		deadline := time.Time{}
		if incoming > 0 {
			deadline = time.Now().Add(2 * incoming)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			c.end(s, func() { s.listener.OnDisconnect(err) })
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.end(s, func() { s.listener.OnDisconnect(fmt.Errorf("read: %w", err)) })
			return
		}

		frames, err := Decode(data)
		if err != nil {
			c.logger.Warn("skipping unreadable frame", "error", err)
		}
		for _, f := range frames {
			switch f.Command {
			case CmdMessage:
				if s.closed.Load() {
					return
				}
				s.listener.OnMessage(f.Header("destination"), f.Body)
			case CmdError:
				c.end(s, func() { s.listener.OnError(brokerError(f).Error()) })
				return
			case CmdReceipt:
			default:
				c.logger.Debug("ignoring frame", "command", f.Command)
			}
		}
	}
}

func (c *Client) heartbeat(s *session, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeRaw([]byte{'\n'}, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("heart-beat failed", "error", err)
				return
			}
		}
	}
}

// end delivers the terminal callback of s once, unless Deactivate already
// closed it, and detaches s from the client.
func (c *Client) end(s *session, report func()) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.shutdown()
	report()
}

func (s *session) isConnected() bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.connected
}

func (s *session) write(f Frame, deadline time.Time) error {
	return s.writeRaw(f.Encode(), deadline)
}

func (s *session) writeRaw(data []byte, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return transport.ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) shutdown() {
	s.cancel()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// BrokerError is an ERROR frame received from the broker.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body == "" {
		return e.Message
	}
	return e.Message + ": " + e.Body
}

func brokerError(f Frame) *BrokerError {
	msg := f.Header("message")
	if msg == "" {
		msg = "broker error"
	}
	return &BrokerError{Message: msg, Body: strings.TrimSpace(string(f.Body))}
}

// parseHeartbeat reads a "cx,cy" heart-beat header in milliseconds.
func parseHeartbeat(v string) (x, y time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	xi, err1 := strconv.Atoi(strings.TrimSpace(a))
	yi, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || xi < 0 || yi < 0 {
		return 0, 0
	}
	return time.Duration(xi) * time.Millisecond, time.Duration(yi) * time.Millisecond
}

// negotiate applies the STOMP rule: zero on either side disables the
// heart-beat, otherwise the larger interval is used.
func negotiate(ours, theirs time.Duration) time.Duration {
	if ours == 0 || theirs == 0 {
		return 0
	}
	return max(ours, theirs)
}
