package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/gem-relay/internal/connection"
)

// SweepConfig holds liveness sweeper configuration.
type SweepConfig struct {
	IdleTimeout time.Duration // Close connections silent for longer than this; 0 disables
	Interval    time.Duration // How often to check
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		IdleTimeout: 90 * time.Second,
		Interval:    15 * time.Second,
	}
}

// ConnectionSource lists the connections to sweep.
type ConnectionSource interface {
	All() []*connection.Conn
}

// Sweeper periodically closes connections whose last activity is older than
// the idle timeout. Pings and pongs count as activity.
type Sweeper struct {
	cfg    SweepConfig
	conns  ConnectionSource
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a new Sweeper.
func NewSweeper(cfg SweepConfig, conns ConnectionSource, clock clockwork.Clock, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		cfg:    cfg,
		conns:  conns,
		clock:  clock,
		logger: logger,
	}
}

// Start begins the sweep loop. It is a no-op when sweeping is disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cfg.IdleTimeout <= 0 || s.cfg.Interval <= 0 {
		s.logger.Info("idle sweeper disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(ctx)

	// Created here so a fake clock sees the ticker as soon as Start returns
	ticker := s.clock.NewTicker(s.cfg.Interval)

	s.wg.Add(1)
	go s.run(runCtx, ticker)

	s.logger.Info("idle sweeper started",
		"idle_timeout", s.cfg.IdleTimeout,
		"interval", s.cfg.Interval,
	)
	return nil
}

// Stop shuts the sweep loop down.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context, ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// Sweep closes every idle connection and returns how many it closed.
func (s *Sweeper) Sweep() int {
	cutoff := s.clock.Now().Add(-s.cfg.IdleTimeout)

	var closed int
	for _, c := range s.conns.All() {
		last := c.LastActivity()
		if !last.Before(cutoff) {
			continue
		}
		c.Logger().Info("closing idle connection", "idle", s.clock.Since(last))
		c.Close(connection.ReasonIdle)
		closed++
	}

	if closed > 0 {
		s.logger.Debug("idle sweep complete", "closed", closed)
	}
	return closed
}
