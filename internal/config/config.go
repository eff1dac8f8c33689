package config

import "time"

// RelayConfig is the root configuration for a relay (core) instance.
type RelayConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Connections ConnectionsConfig `yaml:"connections"`
	Router      RouterConfig      `yaml:"router"`
	Limits      LimitsConfig      `yaml:"limits"`
	Journal     JournalConfig     `yaml:"journal"`
	Database    DBConfig          `yaml:"database"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AgentConfig is the root configuration for an oracle agent.
type AgentConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Agent    AgentSettings  `yaml:"agent"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	AgentPath       string        `yaml:"agent_path"`
	PanelPath       string        `yaml:"panel_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ConnectionsConfig holds per-connection settings.
type ConnectionsConfig struct {
	SendQueueSize  int           `yaml:"send_queue_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// RouterConfig holds fan-out settings.
type RouterConfig struct {
	ForwardTypes   []string `yaml:"forward_types"`
	OverflowPolicy string   `yaml:"overflow_policy"` // "disconnect" or "drop"
}

// LimitsConfig bounds connection acceptance.
type LimitsConfig struct {
	AcceptRate     float64 `yaml:"accept_rate"` // Upgrades per second
	AcceptBurst    int     `yaml:"accept_burst"`
	MaxConnections int     `yaml:"max_connections"`
}

// JournalConfig holds connection journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	MaxBufferSize int           `yaml:"max_buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the health and metrics listener settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig selects the log level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// AgentSettings configures the agent's link to the core.
type AgentSettings struct {
	ID                 string        `yaml:"id"` // Sent as agent_id; generated when empty
	CoreURL            string        `yaml:"core_url"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	SendQueueSize      int           `yaml:"send_queue_size"`
	TradeWindow        int           `yaml:"trade_window"`
	SignalThreshold    float64       `yaml:"signal_threshold"`
}

// ExchangeConfig configures the market data feed.
type ExchangeConfig struct {
	URL          string        `yaml:"url"`
	Symbols      []string      `yaml:"symbols"`
	Channels     []string      `yaml:"channels"`
	PingInterval time.Duration `yaml:"ping_interval"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}
