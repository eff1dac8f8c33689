package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.AgentPath, "/") {
		return fmt.Errorf("server.agent_path must start with /, got %q", c.Server.AgentPath)
	}
	if !strings.HasPrefix(c.Server.PanelPath, "/") {
		return fmt.Errorf("server.panel_path must start with /, got %q", c.Server.PanelPath)
	}
	if c.Server.AgentPath == c.Server.PanelPath {
		return errors.New("server.agent_path and server.panel_path must differ")
	}

	if c.Connections.SendQueueSize < 1 {
		return errors.New("connections.send_queue_size must be >= 1")
	}
	if c.Connections.PingInterval >= c.Connections.PongWait {
		return fmt.Errorf("connections.ping_interval (%s) must be less than connections.pong_wait (%s)",
			c.Connections.PingInterval, c.Connections.PongWait)
	}
	if c.Connections.MaxMessageSize < 1 {
		return errors.New("connections.max_message_size must be >= 1")
	}
	if c.Connections.IdleTimeout < 0 {
		return errors.New("connections.idle_timeout must be >= 0")
	}

	switch c.Router.OverflowPolicy {
	case "disconnect", "drop":
	default:
		return fmt.Errorf("router.overflow_policy must be disconnect or drop, got %q", c.Router.OverflowPolicy)
	}
	for i, t := range c.Router.ForwardTypes {
		if t == "" {
			return fmt.Errorf("router.forward_types[%d] must not be empty", i)
		}
	}

	if c.Limits.AcceptRate < 0 {
		return errors.New("limits.accept_rate must be >= 0")
	}
	if c.Limits.AcceptBurst < 1 {
		return errors.New("limits.accept_burst must be >= 1")
	}
	if c.Limits.MaxConnections < 1 {
		return errors.New("limits.max_connections must be >= 1")
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.MaxBufferSize < c.Journal.BufferSize {
			return fmt.Errorf("journal.max_buffer_size (%d) cannot be less than buffer_size (%d)",
				c.Journal.MaxBufferSize, c.Journal.BufferSize)
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return c.Logging.validate()
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if !strings.HasPrefix(c.Agent.CoreURL, "ws://") && !strings.HasPrefix(c.Agent.CoreURL, "wss://") {
		return fmt.Errorf("agent.core_url must be a ws:// or wss:// URL, got %q", c.Agent.CoreURL)
	}
	if c.Agent.HeartbeatInterval <= 0 {
		return errors.New("agent.heartbeat_interval must be > 0")
	}
	if c.Agent.ProcessingInterval <= 0 {
		return errors.New("agent.processing_interval must be > 0")
	}
	if c.Agent.TradeWindow < 1 {
		return errors.New("agent.trade_window must be >= 1")
	}
	if c.Agent.SignalThreshold < 0 || c.Agent.SignalThreshold > 1 {
		return fmt.Errorf("agent.signal_threshold must be between 0 and 1, got %g", c.Agent.SignalThreshold)
	}
	if len(c.Exchange.Symbols) == 0 {
		return errors.New("exchange.symbols must not be empty")
	}
	return c.Logging.validate()
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}
