package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/journal"
	"github.com/rickgao/gem-relay/internal/metrics"
	"github.com/rickgao/gem-relay/internal/protocol"
	"github.com/rickgao/gem-relay/internal/registry"
	"github.com/rickgao/gem-relay/internal/router"
)

// Errors
var (
	ErrServerClosed = errors.New("server closed")
)

// Config holds broker settings.
type Config struct {
	ListenAddr      string
	AgentPath       string
	PanelPath       string
	ShutdownTimeout time.Duration
	Conn            connection.Config
	Limits          LimitsConfig
	Sweep           SweepConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8765",
		AgentPath:       "/ws/agent",
		PanelPath:       "/ws/panel",
		ShutdownTimeout: 10 * time.Second,
		Conn:            connection.DefaultConfig(),
		Limits:          DefaultLimitsConfig(),
		Sweep:           DefaultSweepConfig(),
	}
}

// Journal receives connection lifecycle events.
type Journal interface {
	Record(ev journal.Event) bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records connection and frame metrics on m.
func WithMetrics(m *metrics.Relay) Option {
	return func(s *Server) { s.metrics = m }
}

// WithJournal records connection lifecycle events in j.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithClock sets the clock used for activity tracking and idle sweeps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// Stats contains server-level counters.
type Stats struct {
	Accepted    int64 `json:"accepted"`
	Rejected    int64 `json:"rejected"`
	ParseErrors int64 `json:"parse_errors"`
}

// Server is the broker.
type Server struct {
	cfg      Config
	registry *registry.Registry
	router   *router.Router
	logger   *slog.Logger
	metrics  *metrics.Relay
	journal  Journal
	clock    clockwork.Clock

	upgrader websocket.Upgrader
	limiter  *AcceptLimiter
	sweeper  *Sweeper

	mu         sync.Mutex
	httpServer *http.Server
	closing    bool
	conns      sync.WaitGroup
	startedAt  time.Time

	accepted    atomic.Int64
	rejected    atomic.Int64
	parseErrors atomic.Int64
}

// New creates a Server wired to the given registry and router.
func New(cfg Config, reg *registry.Registry, rt *router.Router, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		router:   rt,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Agents and panels are not browsers bound to an origin
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.limiter = NewAcceptLimiter(cfg.Limits)
	s.sweeper = NewSweeper(cfg.Sweep, reg, s.clock, s.logger)
	s.startedAt = s.clock.Now()
	return s
}

// Handler returns the HTTP handler serving the agent and panel endpoints.
// Any other path gets 404 without an upgrade.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.AgentPath, s.handleUpgrade(protocol.RoleAgent))
	mux.HandleFunc(s.cfg.PanelPath, s.handleUpgrade(protocol.RolePanel))
	return mux
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.httpServer = hs
	s.mu.Unlock()

	if err := s.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	s.logger.Info("relay listening",
		"addr", ln.Addr().String(),
		"agent_path", s.cfg.AgentPath,
		"panel_path", s.cfg.PanelPath,
		"send_queue_size", s.cfg.Conn.SendQueueSize,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.stopSweeper()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting, closes every registered connection with a
// going-away frame and waits for connection goroutines to finish or ctx to
// expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	hs := s.httpServer
	s.mu.Unlock()

	s.logger.Info("shutting down relay", "connections", s.registry.Counts().Total())

	var err error
	if hs != nil {
		// Hijacked WebSocket connections are not tracked by http.Server
		err = hs.Shutdown(ctx)
	}
	s.stopSweeper()

	for _, c := range s.registry.All() {
		c.Close(connection.ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay stopped")
	case <-ctx.Done():
		s.logger.Warn("relay shutdown timed out")
		return ctx.Err()
	}
	return err
}

// Stats returns server-level counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		ParseErrors: s.parseErrors.Load(),
	}
}

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Router returns the message router.
func (s *Server) Router() *router.Router { return s.router }

// Uptime returns how long the server has existed.
func (s *Server) Uptime() time.Duration { return s.clock.Since(s.startedAt) }

func (s *Server) stopSweeper() {
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.sweeper.Stop(stopCtx)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// handleUpgrade admits, upgrades and serves one connection with a fixed role.
// The connection is served on the handler goroutine.
func (s *Server) handleUpgrade(role protocol.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ok, reason := s.limiter.Acquire(); !ok {
			s.reject(w, r, role, string(reason))
			return
		}
		defer s.limiter.Release()

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			s.reject(w, r, role, "shutting_down")
			return
		}
		s.conns.Add(1)
		s.mu.Unlock()
		defer s.conns.Done()

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an error response
			s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			s.rejected.Add(1)
			s.metrics.ConnectionRejected("upgrade_failed")
			return
		}

		s.serveConn(ws, role)
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, role protocol.Role, reason string) {
	s.rejected.Add(1)
	s.metrics.ConnectionRejected(reason)
	s.logger.Warn("connection rejected",
		"remote_addr", r.RemoteAddr,
		"role", role.String(),
		"reason", reason,
	)
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

// serveConn runs one connection through its whole lifecycle.
func (s *Server) serveConn(ws connection.Transport, role protocol.Role) {
	c := connection.New(ws, role, s.cfg.Conn,
		connection.WithLogger(s.logger),
		connection.WithClock(s.clock),
	)
	c.Open()

	if err := s.registry.Register(c); err != nil {
		c.Logger().Error("failed to register connection", "error", err)
		s.rejected.Add(1)
		s.metrics.ConnectionRejected("registry")
		c.Close(connection.ReasonRejected)
		c.Release()
		return
	}

	s.accepted.Add(1)
	s.metrics.ConnectionOpened(role.String())
	s.record(journal.Event{
		Kind:       journal.EventOpened,
		ConnID:     c.ID(),
		Role:       role.String(),
		RemoteAddr: c.RemoteAddr(),
		At:         c.ConnectedAt(),
	})
	c.Logger().Info("connection opened", "remote_addr", c.RemoteAddr())

	// Shutdown may have swept the registry before this connection was added
	if s.isClosing() {
		c.Close(connection.ReasonShutdown)
	}

	err := c.Run(s.frameHandler(c))

	s.registry.Unregister(c.ID())
	c.Release()

	stats := c.Stats()
	lifetime := s.clock.Since(c.ConnectedAt())
	s.metrics.ConnectionClosed(role.String(), string(stats.CloseReason), lifetime)
	s.record(journal.Event{
		Kind:       journal.EventClosed,
		ConnID:     c.ID(),
		Role:       role.String(),
		RemoteAddr: c.RemoteAddr(),
		At:         s.clock.Now(),
		Reason:     string(stats.CloseReason),
		Duration:   lifetime,
		FramesIn:   stats.FramesIn,
		FramesOut:  stats.FramesOut,
	})

	attrs := []any{
		"reason", stats.CloseReason,
		"duration", lifetime,
		"frames_in", stats.FramesIn,
		"frames_out", stats.FramesOut,
	}
	if stats.CloseReason == connection.ReasonReadError && err != nil {
		attrs = append(attrs, "error", err)
	}
	c.Logger().Info("connection closed", attrs...)
}

// frameHandler parses each inbound frame and routes it. Malformed frames are
// logged and dropped; the connection stays open.
func (s *Server) frameHandler(c *connection.Conn) connection.FrameHandler {
	role := c.Role()
	return func(data []byte) {
		msg, err := protocol.Parse(data)
		if err != nil {
			s.parseErrors.Add(1)
			s.metrics.ParseError(role.String())
			c.Logger().Warn("dropping malformed frame", "error", err)
			return
		}

		s.metrics.FrameReceived(role.String())
		s.router.Route(msg, role)
	}
}

func (s *Server) record(ev journal.Event) {
	if s.journal != nil {
		s.journal.Record(ev)
	}
}
