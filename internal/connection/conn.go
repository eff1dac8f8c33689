package connection

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/gem-relay/internal/protocol"
)

// Transport is the subset of *websocket.Conn used by Conn.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// closeGrace bounds how long the close frame may wait for the socket.
const closeGrace = time.Second

// FrameHandler receives each inbound text frame in arrival order.
type FrameHandler func(data []byte)

// Option configures a Conn.
type Option func(*Conn)

// WithClock sets the clock used for activity tracking and pings.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Conn) { c.clock = clock }
}

// WithLogger sets the base logger. Connection attributes are added to it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithID overrides the generated identifier.
func WithID(id uuid.UUID) Option {
	return func(c *Conn) { c.id = id }
}

// Conn is the relay's side of one client connection.
type Conn struct {
	id     uuid.UUID
	role   protocol.Role
	cfg    Config
	ws     Transport
	remote string
	clock  clockwork.Clock
	logger *slog.Logger

	// Outbound queue; never closed, done signals shutdown instead
	send      chan []byte
	done      chan struct{}
	released  chan struct{}
	closeOnce sync.Once

	// State
	mu           sync.RWMutex
	state        State
	reason       CloseReason
	connectedAt  time.Time
	lastActivity time.Time

	framesIn  atomic.Int64
	framesOut atomic.Int64
}

// New wraps an upgraded transport. The connection starts in StateConnecting
// with a fresh random identifier.
func New(ws Transport, role protocol.Role, cfg Config, opts ...Option) *Conn {
	c := &Conn{
		id:       uuid.New(),
		role:     role,
		cfg:      cfg,
		ws:       ws,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.cfg.SendQueueSize < 1 {
		c.cfg.SendQueueSize = 1
	}
	if addr := ws.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}

	c.send = make(chan []byte, c.cfg.SendQueueSize)
	c.logger = c.logger.With("conn_id", c.id, "role", role.String())

	now := c.clock.Now()
	c.connectedAt = now
	c.lastActivity = now

	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Role returns the role the connection was accepted with.
func (c *Conn) Role() protocol.Role { return c.role }

// RemoteAddr returns the peer address, if known.
func (c *Conn) RemoteAddr() string { return c.remote }

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// State returns the current liveness state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CloseReason returns why the connection is closing, or "" while open.
func (c *Conn) CloseReason() CloseReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// ConnectedAt returns when the connection was accepted.
func (c *Conn) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// LastActivity returns when the peer was last heard from.
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Stats returns a snapshot of counters and state.
func (c *Conn) Stats() Stats {
	c.mu.RLock()
	state, reason := c.state, c.reason
	c.mu.RUnlock()

	return Stats{
		FramesIn:    c.framesIn.Load(),
		FramesOut:   c.framesOut.Load(),
		QueueLen:    len(c.send),
		State:       state,
		CloseReason: reason,
	}
}

// Open moves a connecting connection to open.
func (c *Conn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return ErrInvalidState
	}
	c.state = StateOpen
	return nil
}

// Enqueue places a frame on the outbound queue without blocking.
// Returns ErrClosed once closing has begun and ErrQueueFull when the bound is hit.
func (c *Conn) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close begins closing: records the first reason and signals both loops.
// The close frame and transport release happen on their own goroutine, so
// Close never waits on a peer that has stopped reading. Safe to call
// repeatedly and from any goroutine.
func (c *Conn) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state < StateClosing {
			c.state = StateClosing
		}
		c.reason = reason
		c.mu.Unlock()

		close(c.done)
		go c.closeTransport(reason)
	})
}

// Released is closed once the close frame was attempted and the transport
// released.
func (c *Conn) Released() <-chan struct{} { return c.released }

// closeTransport may wait for the write lock held by a stalled writer;
// releasing the transport is what unblocks that writer.
func (c *Conn) closeTransport(reason CloseReason) {
	defer close(c.released)

	code := websocket.CloseNormalClosure
	if reason == ReasonOverflow || reason == ReasonIdle {
		code = websocket.ClosePolicyViolation
	} else if reason == ReasonShutdown {
		code = websocket.CloseGoingAway
	}
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, string(reason)),
		time.Now().Add(closeGrace),
	)
	c.ws.Close()
}

// Release marks a closing connection closed once it has been unregistered.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// Run drives the connection until the transport fails or Close is called.
// Inbound frames are passed to handle from the calling goroutine, one at a
// time, so a source's frames are handled in arrival order.
func (c *Conn) Run(handle FrameHandler) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop(handle)
	c.Close(classifyReadError(err))
	<-writerDone
	<-c.released

	return err
}

// readLoop reads frames until the transport fails.
func (c *Conn) readLoop(handle FrameHandler) error {
	if c.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()

	c.ws.SetPongHandler(func(string) error {
		c.touch()
		c.extendReadDeadline()
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		c.touch()
		c.extendReadDeadline()
		return c.ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(c.cfg.WriteTimeout),
		)
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		c.touch()
		c.extendReadDeadline()
		c.framesIn.Add(1)

		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "message_type", msgType)
			continue
		}
		if handle != nil {
			handle(data)
		}
	}
}

// writeLoop drains the outbound queue and sends keepalive pings.
func (c *Conn) writeLoop() {
	var pings <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := c.clock.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.Chan()
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close(ReasonWriteError)
				return
			}
			c.framesOut.Add(1)
		case <-pings:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close(ReasonWriteError)
				return
			}
		}
	}
}

func (c *Conn) touch() {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.PongWait > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

func (c *Conn) setWriteDeadline() {
	if c.cfg.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}

// classifyReadError maps the error that ended a read loop to a close reason.
func classifyReadError(err error) CloseReason {
	if err == nil {
		return ReasonUnspecified
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonPeerClosed
	}
	if errors.Is(err, net.ErrClosed) {
		return ReasonPeerClosed
	}
	return ReasonReadError
}
