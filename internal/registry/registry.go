package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/protocol"
)

// Errors
var (
	ErrDuplicateID = errors.New("duplicate connection identifier")
	ErrUnknownRole = errors.New("connection role not resolved")
)

// Counts is the number of registered connections per role.
type Counts struct {
	Agents int `json:"agents"`
	Panels int `json:"panels"`
}

// Total returns the number of registered connections.
func (c Counts) Total() int {
	return c.Agents + c.Panels
}

// Registry is the set of open connections, indexed by identifier and role.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[uuid.UUID]*connection.Conn
	panels map[uuid.UUID]*connection.Conn
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		agents: make(map[uuid.UUID]*connection.Conn),
		panels: make(map[uuid.UUID]*connection.Conn),
	}
}

// Register adds a connection under its identifier.
// Fails with ErrDuplicateID if the identifier is already present in any role,
// and with ErrUnknownRole if the connection has no resolved role.
func (r *Registry) Register(c *connection.Conn) error {
	var target map[uuid.UUID]*connection.Conn

	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Role() {
	case protocol.RoleAgent:
		target = r.agents
	case protocol.RolePanel:
		target = r.panels
	default:
		return ErrUnknownRole
	}

	if _, ok := r.agents[c.ID()]; ok {
		return ErrDuplicateID
	}
	if _, ok := r.panels[c.ID()]; ok {
		return ErrDuplicateID
	}

	target[c.ID()] = c
	r.logger.Debug("connection registered",
		"conn_id", c.ID(),
		"role", c.Role().String(),
		"agents", len(r.agents),
		"panels", len(r.panels),
	)
	return nil
}

// Unregister removes a connection. It is a no-op if the identifier is absent.
// Returns true if a connection was removed by this call.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.panels[id]; ok {
		delete(r.panels, id)
		r.logger.Debug("connection unregistered", "conn_id", id, "role", "panel")
		return true
	}
	if _, ok := r.agents[id]; ok {
		delete(r.agents, id)
		r.logger.Debug("connection unregistered", "conn_id", id, "role", "agent")
		return true
	}
	return false
}

// Get returns a registered connection by identifier.
func (r *Registry) Get(id uuid.UUID) (*connection.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.panels[id]; ok {
		return c, true
	}
	c, ok := r.agents[id]
	return c, ok
}

// Panels returns a copy of all registered panel connections.
func (r *Registry) Panels() []*connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.panels)
}

// Agents returns a copy of all registered agent connections.
func (r *Registry) Agents() []*connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.agents)
}

// All returns a copy of every registered connection.
func (r *Registry) All() []*connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*connection.Conn, 0, len(r.agents)+len(r.panels))
	for _, c := range r.agents {
		result = append(result, c)
	}
	for _, c := range r.panels {
		result = append(result, c)
	}
	return result
}

// Counts returns the number of registered connections per role.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{
		Agents: len(r.agents),
		Panels: len(r.panels),
	}
}

// snapshot copies map values (caller holds the read lock).
func snapshot(m map[uuid.UUID]*connection.Conn) []*connection.Conn {
	result := make([]*connection.Conn, 0, len(m))
	for _, c := range m {
		result = append(result, c)
	}
	return result
}
