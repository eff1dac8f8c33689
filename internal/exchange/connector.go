package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/gem-relay/internal/connection"
)

// InstTypeSpot is the instrument type for spot markets.
const InstTypeSpot = "SP"

var (
	pingFrame = []byte("ping")
	pongFrame = []byte("pong")
)

// Config configures a Connector.
type Config struct {
	URL          string
	Symbols      []string
	Channels     []string
	InstType     string
	PingInterval time.Duration
	RetryDelay   time.Duration
}

// DefaultConfig returns the public Bitget spot endpoint defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "wss://ws.bitget.com/spot/v1/stream",
		Symbols:      []string{"BTCUSDT"},
		Channels:     []string{"books", "trade"},
		InstType:     InstTypeSpot,
		PingInterval: 25 * time.Second,
		RetryDelay:   5 * time.Second,
	}
}

// SubscribeArg selects one channel for one instrument.
type SubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

// SubscribeRequest is the subscription frame.
type SubscribeRequest struct {
	Op   string         `json:"op"`
	Args []SubscribeArg `json:"args"`
}

// Subscription builds a request covering every symbol for every channel.
func Subscription(instType string, symbols, channels []string) SubscribeRequest {
	args := make([]SubscribeArg, 0, len(symbols)*len(channels))
	for _, sym := range symbols {
		for _, ch := range channels {
			args = append(args, SubscribeArg{InstType: instType, Channel: ch, InstID: sym})
		}
	}
	return SubscribeRequest{Op: "subscribe", Args: args}
}

// event is the shape of subscription acks and errors.
type event struct {
	Event string `json:"event"`
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
}

// Stats holds connector counters.
type Stats struct {
	Sessions  int64 `json:"sessions"`
	Frames    int64 `json:"frames"`
	Pongs     int64 `json:"pongs"`
	ErrEvents int64 `json:"error_events"`
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock sets the clock used for pings and retry delays.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connector) { c.clock = clock }
}

// WithOnSession registers a callback run each time a session subscribes.
// Consumers use it to drop state carried over from the previous session.
func WithOnSession(fn func()) Option {
	return func(c *Connector) { c.onSession = fn }
}

// Connector streams market data frames from the exchange.
type Connector struct {
	cfg       Config
	handler   connection.FrameHandler
	logger    *slog.Logger
	clock     clockwork.Clock
	onSession func()
	client    *connection.Client

	sessions  atomic.Int64
	frames    atomic.Int64
	pongs     atomic.Int64
	errEvents atomic.Int64
}

// New creates a connector delivering data frames to handler.
func New(cfg Config, handler connection.FrameHandler, logger *slog.Logger, opts ...Option) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InstType == "" {
		cfg.InstType = InstTypeSpot
	}

	c := &Connector{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "exchange"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = cfg.URL
	clientCfg.RetryDelay = cfg.RetryDelay
	clientCfg.PingInterval = cfg.PingInterval
	clientCfg.PingPayload = pingFrame
	if cfg.PingInterval > 0 {
		clientCfg.PongWait = 2 * cfg.PingInterval
	}

	c.client = connection.NewClient(clientCfg, c.logger,
		connection.WithFrameHandler(c.handleFrame),
		connection.WithSessionHook(c.subscribe),
		connection.WithClientClock(c.clock),
	)
	return c
}

// Run streams until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	c.logger.Info("starting exchange connector",
		"url", c.cfg.URL,
		"symbols", c.cfg.Symbols,
		"channels", c.cfg.Channels,
	)
	return c.client.Run(ctx)
}

// IsConnected reports whether a session is live.
func (c *Connector) IsConnected() bool {
	return c.client.IsConnected()
}

// Stats returns a snapshot of counters.
func (c *Connector) Stats() Stats {
	return Stats{
		Sessions:  c.sessions.Load(),
		Frames:    c.frames.Load(),
		Pongs:     c.pongs.Load(),
		ErrEvents: c.errEvents.Load(),
	}
}

func (c *Connector) subscribe(ctx context.Context, send func([]byte) error) error {
	req := Subscription(c.cfg.InstType, c.cfg.Symbols, c.cfg.Channels)
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	if err := send(data); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}

	c.sessions.Add(1)
	if c.onSession != nil {
		c.onSession()
	}
	c.logger.Info("subscribed", "args", len(req.Args))
	return nil
}

func (c *Connector) handleFrame(data []byte) {
	if bytes.Equal(bytes.TrimSpace(data), pongFrame) {
		c.pongs.Add(1)
		return
	}

	if bytes.Contains(data, []byte(`"event"`)) {
		var ev event
		if err := json.Unmarshal(data, &ev); err == nil && ev.Event != "" {
			if ev.Event == "error" {
				c.errEvents.Add(1)
				c.logger.Warn("exchange error event", "code", ev.Code, "msg", ev.Msg)
			} else {
				c.logger.Debug("exchange event", "event", ev.Event)
			}
			return
		}
	}

	c.frames.Add(1)
	if c.handler != nil {
		c.handler(data)
	}
}
