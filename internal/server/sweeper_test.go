package server

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/connection/conntest"
	"github.com/rickgao/gem-relay/internal/protocol"
	"github.com/rickgao/gem-relay/internal/registry"
)

func registerConn(t *testing.T, reg *registry.Registry, clock clockwork.Clock, role protocol.Role) *connection.Conn {
	t.Helper()
	c := connection.New(conntest.New(), role, connection.DefaultConfig(), connection.WithClock(clock))
	require.NoError(t, c.Open())
	require.NoError(t, reg.Register(c))
	return c
}

func TestSweeper_ClosesOnlyIdleConnections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(nil)
	cfg := SweepConfig{IdleTimeout: 90 * time.Second, Interval: 15 * time.Second}

	stale := registerConn(t, reg, clock, protocol.RoleAgent)
	clock.Advance(60 * time.Second)
	fresh := registerConn(t, reg, clock, protocol.RolePanel)
	clock.Advance(40 * time.Second)

	s := NewSweeper(cfg, reg, clock, nil)
	assert.Equal(t, 1, s.Sweep())

	assert.Equal(t, connection.ReasonIdle, stale.CloseReason())
	assert.Equal(t, connection.StateOpen, fresh.State())
}

func TestSweeper_RunsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(nil)
	cfg := SweepConfig{IdleTimeout: 30 * time.Second, Interval: 10 * time.Second}

	c := registerConn(t, reg, clock, protocol.RolePanel)

	s := NewSweeper(cfg, reg, clock, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	clock.Advance(20 * time.Second)
	assert.Equal(t, connection.StateOpen, c.State())

	clock.Advance(20 * time.Second)
	assert.Eventually(t, func() bool {
		return c.CloseReason() == connection.ReasonIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSweeper_Disabled(t *testing.T) {
	s := NewSweeper(SweepConfig{}, registry.New(nil), clockwork.NewFakeClock(), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
