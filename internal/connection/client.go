package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// SessionHook runs right after a session is established and before any
// queued frame is written. Returning an error ends the session.
type SessionHook func(ctx context.Context, send func(data []byte) error) error

// Client is a supervised, reconnecting WebSocket client.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	clock   clockwork.Clock
	handler FrameHandler
	onOpen  SessionHook
	header  http.Header

	mu      sync.Mutex
	current *session

	attempts  atomic.Int64
	connected atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFrameHandler sets the callback for inbound text frames.
func WithFrameHandler(h FrameHandler) ClientOption {
	return func(c *Client) { c.handler = h }
}

// WithSessionHook sets a hook run at the start of every session.
func WithSessionHook(h SessionHook) ClientOption {
	return func(c *Client) { c.onOpen = h }
}

// WithClientClock sets the clock used for retry delays and keepalives.
func WithClientClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// session is the state of one connection attempt. Nothing in it outlives the attempt.
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// NewClient creates a new reconnecting client.
func NewClient(cfg ClientConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendQueueSize < 1 {
		cfg.SendQueueSize = 1
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Run connects and reconnects until ctx is cancelled. A failed or lost
// connection is retried after the fixed RetryDelay, indefinitely.
func (c *Client) Run(ctx context.Context) error {
	for {
		attempt := c.attempts.Add(1)

		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("connection lost, retrying",
			"url", c.cfg.URL,
			"attempt", attempt,
			"error", err,
			"retry_delay", c.cfg.RetryDelay,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.cfg.RetryDelay):
		}
	}
}

// Send enqueues a frame on the current session without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}

	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendJSON marshals v and enqueues it.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(data)
}

// IsConnected reports whether a session is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Attempts returns the number of connection attempts so far.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

// runSession dials once and serves the connection until it fails.
func (c *Client) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	s := &session{
		conn: conn,
		send: make(chan []byte, c.cfg.SendQueueSize),
		done: make(chan struct{}),
	}
	defer s.close()

	// Unblock the reader when the caller cancels
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	if c.onOpen != nil {
		if err := c.onOpen(ctx, func(data []byte) error { return c.write(conn, data) }); err != nil {
			return fmt.Errorf("session hook: %w", err)
		}
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.connected.Store(true)

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	c.logger.Info("connected", "url", c.cfg.URL)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(s)
	}()

	err = c.readLoop(s)
	s.close()
	<-writerDone

	return err
}

// readLoop reads until the session fails. Any frame, ping or pong extends
// the read deadline, so a half-open link fails after PongWait.
func (c *Client) readLoop(s *session) error {
	c.extendReadDeadline(s.conn)

	s.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline(s.conn)
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline(s.conn)
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		c.extendReadDeadline(s.conn)

		if msgType != websocket.TextMessage {
			continue
		}
		if c.handler != nil {
			c.handler(data)
		}
	}
}

func (c *Client) extendReadDeadline(conn *websocket.Conn) {
	if c.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

func (c *Client) writeLoop(s *session) {
	var pings <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := c.clock.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.Chan()
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := c.write(s.conn, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				s.close()
				return
			}
		case <-pings:
			if err := c.ping(s.conn); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				s.close()
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) ping(conn *websocket.Conn) error {
	if len(c.cfg.PingPayload) > 0 {
		return c.write(conn, c.cfg.PingPayload)
	}
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
}
