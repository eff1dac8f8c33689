package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/features"
	"github.com/rickgao/gem-relay/internal/protocol"
)

// Config configures an Oracle.
type Config struct {
	AgentID            string // Generated when empty
	CoreURL            string
	RetryDelay         time.Duration
	HeartbeatInterval  time.Duration
	ProcessingInterval time.Duration
	SendQueueSize      int
}

// DefaultConfig returns defaults for a local core.
func DefaultConfig() Config {
	return Config{
		CoreURL:            "ws://localhost:8765/ws/agent",
		RetryDelay:         5 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		ProcessingInterval: time.Second,
		SendQueueSize:      1024,
	}
}

// Sender publishes frames to the core.
type Sender interface {
	SendJSON(v any) error
	IsConnected() bool
}

// Runner is a long-lived component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Stats holds oracle counters.
type Stats struct {
	Heartbeats    int64 `json:"heartbeats"`
	Updates       int64 `json:"updates"`
	NotReady      int64 `json:"not_ready"`
	Dropped       int64 `json:"dropped"`
	MarketFrames  int64 `json:"market_frames"`
	MarketInvalid int64 `json:"market_invalid"`
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithClock sets the clock driving the heartbeat and processing loops.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Oracle) { o.clock = clock }
}

// WithSender replaces the core client, used in tests.
func WithSender(s Sender) Option {
	return func(o *Oracle) { o.sender = s }
}

// Oracle publishes features computed from a market feed.
type Oracle struct {
	cfg       Config
	id        string
	logger    *slog.Logger
	clock     clockwork.Clock
	extractor *features.Extractor
	predictor features.Predictor

	sender Sender
	core   Runner // nil when a custom sender is used

	heartbeats    atomic.Int64
	updates       atomic.Int64
	notReady      atomic.Int64
	dropped       atomic.Int64
	marketFrames  atomic.Int64
	marketInvalid atomic.Int64
}

// New creates an oracle around an extractor and predictor.
func New(cfg Config, extractor *features.Extractor, predictor features.Predictor, logger *slog.Logger, opts ...Option) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.AgentID
	if id == "" {
		id = uuid.NewString()
	}

	o := &Oracle{
		cfg:       cfg,
		id:        id,
		extractor: extractor,
		predictor: predictor,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	o.logger = logger.With("agent_id", id)

	if o.sender == nil {
		clientCfg := connection.DefaultClientConfig()
		clientCfg.URL = cfg.CoreURL
		clientCfg.RetryDelay = cfg.RetryDelay
		if cfg.SendQueueSize > 0 {
			clientCfg.SendQueueSize = cfg.SendQueueSize
		}
		client := connection.NewClient(clientCfg, o.logger.With("component", "core_link"),
			connection.WithClientClock(o.clock),
		)
		o.sender = client
		o.core = client
	}
	return o
}

// ID returns the agent identifier sent in heartbeats.
func (o *Oracle) ID() string { return o.id }

// Stats returns a snapshot of counters.
func (o *Oracle) Stats() Stats {
	return Stats{
		Heartbeats:    o.heartbeats.Load(),
		Updates:       o.updates.Load(),
		NotReady:      o.notReady.Load(),
		Dropped:       o.dropped.Load(),
		MarketFrames:  o.marketFrames.Load(),
		MarketInvalid: o.marketInvalid.Load(),
	}
}

// HandleMarketFrame feeds one exchange frame into the extractor. It is the
// frame handler for the market data connector.
func (o *Oracle) HandleMarketFrame(data []byte) {
	changed, err := o.extractor.Apply(data)
	if err != nil {
		o.marketInvalid.Add(1)
		o.logger.Warn("invalid market frame", "error", err)
		return
	}
	if changed {
		o.marketFrames.Add(1)
	}
}

// Run starts the core link, the given feeds and both publishing loops, and
// blocks until ctx is cancelled or one of them fails.
func (o *Oracle) Run(ctx context.Context, feeds ...Runner) error {
	o.logger.Info("starting oracle",
		"core_url", o.cfg.CoreURL,
		"heartbeat_interval", o.cfg.HeartbeatInterval,
		"processing_interval", o.cfg.ProcessingInterval,
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.core != nil {
		g.Go(func() error { return o.core.Run(ctx) })
	}
	for _, feed := range feeds {
		g.Go(func() error { return feed.Run(ctx) })
	}
	g.Go(func() error {
		o.every(ctx, o.cfg.HeartbeatInterval, o.SendHeartbeat)
		return nil
	})
	g.Go(func() error {
		o.every(ctx, o.cfg.ProcessingInterval, o.Process)
		return nil
	})

	err := g.Wait()
	o.logger.Info("oracle stopped", "stats", o.Stats())
	return err
}

func (o *Oracle) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn()
		}
	}
}

// SendHeartbeat publishes one heartbeat frame.
func (o *Oracle) SendHeartbeat() {
	hb := protocol.Heartbeat{
		Type:      protocol.TypeHeartbeat,
		AgentID:   o.id,
		Timestamp: unixSeconds(o.clock.Now()),
	}
	if o.send(hb) {
		o.heartbeats.Add(1)
	}
}

// Process computes features and, once the book has both sides, publishes a
// core_update frame.
func (o *Oracle) Process() {
	f, ok := o.extractor.Features(o.clock.Now())
	if !ok {
		o.notReady.Add(1)
		o.logger.Debug("not enough market data for features")
		return
	}

	update := protocol.CoreUpdate{
		Type:       protocol.TypeCoreUpdate,
		AgentID:    o.id,
		Features:   f,
		Prediction: string(o.predictor.Predict(f, ok)),
	}
	if o.send(update) {
		o.updates.Add(1)
	}
}

func (o *Oracle) send(v any) bool {
	var err error
	if o.sender.IsConnected() {
		err = o.sender.SendJSON(v)
	} else {
		err = connection.ErrNotConnected
	}
	switch {
	case err == nil:
		return true
	case errors.Is(err, connection.ErrNotConnected):
		o.dropped.Add(1)
		o.logger.Debug("core not connected, dropping frame")
	case errors.Is(err, connection.ErrQueueFull):
		o.dropped.Add(1)
		o.logger.Warn("core send queue full, dropping frame")
	default:
		o.dropped.Add(1)
		o.logger.Error("failed to send frame", "error", err)
	}
	return false
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
