package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrQueueFull     = errors.New("outbound queue full")
	ErrClosed        = errors.New("connection closed")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrAlreadyClosed = errors.New("already closed")
)

// State is the liveness state of a relay connection.
// Transitions only move forward: connecting → open → closing → closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// CloseReason records why a connection left the open state.
type CloseReason string

const (
	ReasonPeerClosed  CloseReason = "peer_closed"
	ReasonReadError   CloseReason = "read_error"
	ReasonWriteError  CloseReason = "write_error"
	ReasonOverflow    CloseReason = "queue_overflow"
	ReasonIdle        CloseReason = "idle_timeout"
	ReasonShutdown    CloseReason = "shutdown"
	ReasonRejected    CloseReason = "registry_rejected"
	ReasonUnspecified CloseReason = "unspecified"
)

// Config configures a relay-side connection.
type Config struct {
	SendQueueSize  int           // Bound of the per-connection outbound queue
	WriteTimeout   time.Duration // Write deadline per frame
	PingInterval   time.Duration // Interval between protocol pings; must be < PongWait
	PongWait       time.Duration // Read deadline, extended by any inbound frame, ping or pong
	MaxMessageSize int64         // Largest inbound frame accepted
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendQueueSize:  256,
		WriteTimeout:   5 * time.Second,
		PingInterval:   27 * time.Second,
		PongWait:       30 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Stats is a point-in-time view of one connection.
type Stats struct {
	FramesIn    int64
	FramesOut   int64
	QueueLen    int
	State       State
	CloseReason CloseReason
}

// ClientConfig configures a reconnecting Client.
type ClientConfig struct {
	URL              string        // ws:// or wss:// endpoint
	RetryDelay       time.Duration // Fixed delay between connection attempts
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	SendQueueSize    int           // Per-session outbound queue bound
	PingInterval     time.Duration // Keepalive interval (0 disables)
	PingPayload      []byte        // If set, keepalive is this text frame instead of a protocol ping
	PongWait         time.Duration // Session fails when nothing is read for this long (0 disables)
	MaxMessageSize   int64         // Largest inbound frame accepted (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryDelay:       5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendQueueSize:    1024,
		PingInterval:     25 * time.Second,
		PongWait:         60 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}
