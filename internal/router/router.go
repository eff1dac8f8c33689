package router

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/metrics"
	"github.com/rickgao/gem-relay/internal/protocol"
)

// Directory is the view of the connection registry the router needs.
type Directory interface {
	Panels() []*connection.Conn
	Unregister(id uuid.UUID) bool
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records routing outcomes on m.
func WithMetrics(m *metrics.Relay) Option {
	return func(r *Router) { r.metrics = m }
}

// Router fans agent messages out to every registered panel.
//
// Route is called synchronously from the source connection's read loop, and
// every panel queue is FIFO with a single writer, so messages from one source
// reach each panel in the order they were received.
type Router struct {
	cfg     Config
	dir     Directory
	logger  *slog.Logger
	metrics *metrics.Relay
	forward map[string]struct{}

	mu    sync.RWMutex
	stats Stats
}

// New creates a new Message Router.
func New(cfg Config, dir Directory, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = OverflowDisconnect
	}

	r := &Router{
		cfg:     cfg,
		dir:     dir,
		logger:  logger,
		forward: make(map[string]struct{}, len(cfg.ForwardTypes)),
	}
	for _, t := range cfg.ForwardTypes {
		r.forward[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route forwards msg unchanged to every panel if it came from an agent and
// its type is forwardable. It never blocks on a recipient and returns the
// number of panels the message was enqueued to.
func (r *Router) Route(msg protocol.Message, from protocol.Role) int {
	r.mu.Lock()
	r.stats.MessagesReceived++
	r.mu.Unlock()

	if from != protocol.RoleAgent {
		r.logger.Debug("dropping message from non-agent", "type", msg.Type, "role", from.String())
		r.count(func(s *Stats) { s.PanelMessages++ })
		r.metrics.Dropped(metrics.DropPanelSource)
		return 0
	}

	if _, ok := r.forward[msg.Type]; !ok {
		r.logger.Debug("skipping message type", "type", msg.Type)
		r.count(func(s *Stats) { s.UnknownMessages++ })
		r.metrics.Dropped(metrics.DropUnknownType)
		return 0
	}

	var delivered int
	for _, panel := range r.dir.Panels() {
		err := panel.Enqueue(msg.Raw)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, connection.ErrQueueFull):
			r.overflow(panel, msg.Type)
		case errors.Is(err, connection.ErrClosed):
			r.dir.Unregister(panel.ID())
			r.count(func(s *Stats) { s.ClosedRecipients++ })
			r.metrics.Dropped(metrics.DropClosed)
		default:
			panel.Logger().Warn("unexpected enqueue error", "error", err)
		}
	}

	r.count(func(s *Stats) { s.MessagesForwarded += int64(delivered) })
	r.metrics.Forwarded(msg.Type, delivered)
	return delivered
}

// overflow applies the overflow policy to a panel whose queue is full.
func (r *Router) overflow(panel *connection.Conn, msgType string) {
	r.count(func(s *Stats) { s.Overflows++ })
	r.metrics.Dropped(metrics.DropQueueFull)

	if r.cfg.OverflowPolicy == OverflowDrop {
		panel.Logger().Warn("panel queue full, dropping message", "type", msgType)
		return
	}

	panel.Logger().Warn("panel queue full, disconnecting")
	panel.Close(connection.ReasonOverflow)
	if r.dir.Unregister(panel.ID()) {
		r.count(func(s *Stats) { s.Disconnected++ })
	}
}

func (r *Router) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
