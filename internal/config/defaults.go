package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr         = ":8765"
	DefaultAgentPath          = "/ws/agent"
	DefaultPanelPath          = "/ws/panel"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultSendQueueSize      = 256
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 27 * time.Second
	DefaultPongWait           = 30 * time.Second
	DefaultMaxMessageSize     = 1 << 20
	DefaultIdleTimeout        = 90 * time.Second
	DefaultSweepInterval      = 15 * time.Second
	DefaultOverflowPolicy     = "disconnect"
	DefaultAcceptRate         = 50.0
	DefaultAcceptBurst        = 100
	DefaultMaxConnections     = 1000
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 5 * time.Second
	DefaultBufferSize         = 1000
	DefaultMaxBufferSize      = 50000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultCoreURL            = "ws://localhost:8765/ws/agent"
	DefaultRetryDelay         = 5 * time.Second
	DefaultHeartbeatInterval  = 5 * time.Second
	DefaultProcessingInterval = 1 * time.Second
	DefaultAgentQueueSize     = 1024
	DefaultTradeWindow        = 100
	DefaultSignalThreshold    = 0.2
	DefaultExchangeURL        = "wss://ws.bitget.com/spot/v1/stream"
	DefaultExchangePing       = 25 * time.Second
)

// Default forwarded message types.
var DefaultForwardTypes = []string{"heartbeat", "core_update"}

// Default exchange subscriptions.
var (
	DefaultSymbols  = []string{"BTCUSDT"}
	DefaultChannels = []string{"books", "trade"}
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.AgentPath == "" {
		c.Server.AgentPath = DefaultAgentPath
	}
	if c.Server.PanelPath == "" {
		c.Server.PanelPath = DefaultPanelPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Connections defaults
	if c.Connections.SendQueueSize == 0 {
		c.Connections.SendQueueSize = DefaultSendQueueSize
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PongWait == 0 {
		c.Connections.PongWait = DefaultPongWait
	}
	if c.Connections.MaxMessageSize == 0 {
		c.Connections.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Connections.IdleTimeout == 0 {
		c.Connections.IdleTimeout = DefaultIdleTimeout
	}
	if c.Connections.SweepInterval == 0 {
		c.Connections.SweepInterval = DefaultSweepInterval
	}

	// Router defaults
	if len(c.Router.ForwardTypes) == 0 {
		c.Router.ForwardTypes = append([]string(nil), DefaultForwardTypes...)
	}
	if c.Router.OverflowPolicy == "" {
		c.Router.OverflowPolicy = DefaultOverflowPolicy
	}

	// Limits defaults
	if c.Limits.AcceptRate == 0 {
		c.Limits.AcceptRate = DefaultAcceptRate
	}
	if c.Limits.AcceptBurst == 0 {
		c.Limits.AcceptBurst = DefaultAcceptBurst
	}
	if c.Limits.MaxConnections == 0 {
		c.Limits.MaxConnections = DefaultMaxConnections
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	if c.Journal.MaxBufferSize == 0 {
		c.Journal.MaxBufferSize = DefaultMaxBufferSize
	}

	applyDBDefaults(&c.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	applyLoggingDefaults(&c.Logging)
}

func (c *AgentConfig) applyDefaults() {
	if c.Agent.CoreURL == "" {
		c.Agent.CoreURL = DefaultCoreURL
	}
	if c.Agent.RetryDelay == 0 {
		c.Agent.RetryDelay = DefaultRetryDelay
	}
	if c.Agent.HeartbeatInterval == 0 {
		c.Agent.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Agent.ProcessingInterval == 0 {
		c.Agent.ProcessingInterval = DefaultProcessingInterval
	}
	if c.Agent.SendQueueSize == 0 {
		c.Agent.SendQueueSize = DefaultAgentQueueSize
	}
	if c.Agent.TradeWindow == 0 {
		c.Agent.TradeWindow = DefaultTradeWindow
	}
	if c.Agent.SignalThreshold == 0 {
		c.Agent.SignalThreshold = DefaultSignalThreshold
	}

	if c.Exchange.URL == "" {
		c.Exchange.URL = DefaultExchangeURL
	}
	if len(c.Exchange.Symbols) == 0 {
		c.Exchange.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if len(c.Exchange.Channels) == 0 {
		c.Exchange.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Exchange.PingInterval == 0 {
		c.Exchange.PingInterval = DefaultExchangePing
	}
	if c.Exchange.RetryDelay == 0 {
		c.Exchange.RetryDelay = DefaultRetryDelay
	}

	applyLoggingDefaults(&c.Logging)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
}
