// Package conntest provides an in-memory Transport for tests.
package conntest

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by a closed Transport.
var ErrClosed = errors.New("conntest: transport closed")

// Transport is an in-memory stand-in for *websocket.Conn. Frames pushed with
// Inject are returned by ReadMessage; text frames written are recorded.
type Transport struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  [][]byte
	controls []int
	writeErr error
	notify   chan struct{}
	block    chan struct{}
	ctlBlock chan struct{}
	blocked  int
}

// New creates an open Transport.
func New() *Transport {
	return &Transport{
		inbound: make(chan []byte, 1024),
		closed:  make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Inject queues a frame for ReadMessage.
func (t *Transport) Inject(data []byte) {
	select {
	case t.inbound <- data:
	case <-t.closed:
	}
}

// FailWrites makes every subsequent WriteMessage return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// BlockWrites makes WriteMessage hang until UnblockWrites or Close.
func (t *Transport) BlockWrites() {
	t.mu.Lock()
	t.block = make(chan struct{})
	t.mu.Unlock()
}

// UnblockWrites releases writers held by BlockWrites.
func (t *Transport) UnblockWrites() {
	t.mu.Lock()
	if t.block != nil {
		close(t.block)
		t.block = nil
	}
	t.mu.Unlock()
}

// BlockControls makes WriteControl hang until UnblockControls or Close,
// like a control frame waiting on a write lock held by a stalled writer.
func (t *Transport) BlockControls() {
	t.mu.Lock()
	t.ctlBlock = make(chan struct{})
	t.mu.Unlock()
}

// UnblockControls releases callers held by BlockControls.
func (t *Transport) UnblockControls() {
	t.mu.Lock()
	if t.ctlBlock != nil {
		close(t.ctlBlock)
		t.ctlBlock = nil
	}
	t.mu.Unlock()
}

// BlockedWriters returns how many WriteMessage calls are held by BlockWrites.
func (t *Transport) BlockedWriters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked
}

// Written returns a copy of every text frame written so far.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// Controls returns the control message types written so far.
func (t *Transport) Controls() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.controls))
	copy(out, t.controls)
	return out
}

// WaitForFrames blocks until at least n text frames were written or timeout elapses.
func (t *Transport) WaitForFrames(n int, timeout time.Duration) [][]byte {
	deadline := time.After(timeout)
	for {
		frames := t.Written()
		if len(frames) >= n {
			return frames
		}
		select {
		case <-t.notify:
		case <-deadline:
			return t.Written()
		}
	}
}

// IsClosed reports whether Close was called.
func (t *Transport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-t.inbound:
		return websocket.TextMessage, data, nil
	case <-t.closed:
		return 0, nil, ErrClosed
	}
}

func (t *Transport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	block := t.block
	if block != nil {
		t.blocked++
	}
	t.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-t.closed:
		}
		t.mu.Lock()
		t.blocked--
		t.mu.Unlock()
	}

	if t.IsClosed() {
		return ErrClosed
	}

	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	if messageType == websocket.TextMessage {
		frame := make([]byte, len(data))
		copy(frame, data)
		t.written = append(t.written, frame)
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	t.mu.Lock()
	block := t.ctlBlock
	t.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-t.closed:
		}
	}

	if t.IsClosed() {
		return ErrClosed
	}
	t.mu.Lock()
	t.controls = append(t.controls, messageType)
	t.mu.Unlock()
	return nil
}

func (t *Transport) SetReadDeadline(time.Time) error { return nil }
func (t *Transport) SetWriteDeadline(time.Time) error { return nil }
func (t *Transport) SetReadLimit(int64) {}
func (t *Transport) SetPingHandler(func(appData string) error) {}
func (t *Transport) SetPongHandler(func(appData string) error) {}

func (t *Transport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

// Close unblocks pending reads and writes.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
