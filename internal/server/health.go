package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/gem-relay/internal/journal"
	"github.com/rickgao/gem-relay/internal/registry"
	"github.com/rickgao/gem-relay/internal/router"
	"github.com/rickgao/gem-relay/internal/version"
)

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JournalStats reports journal writer statistics.
type JournalStats interface {
	Stats() journal.Stats
}

// HealthConfig configures the health and diagnostics handler.
type HealthConfig struct {
	Instance    string
	MetricsPath string       // Served only when Metrics is set
	Metrics     http.Handler // Prometheus handler
	Database    Pinger       // Optional
	Journal     JournalStats // Optional
}

type healthResponse struct {
	Status        string                 `json:"status"`
	Instance      string                 `json:"instance"`
	Version       version.Info           `json:"version"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Connections   registry.Counts        `json:"connections"`
	Server        Stats                  `json:"server"`
	Router        router.Stats           `json:"router"`
	Components    map[string]interface{} `json:"components"`
}

type connectionInfo struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	State        string    `json:"state"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	FramesIn     int64     `json:"frames_in"`
	FramesOut    int64     `json:"frames_out"`
	QueueLen     int       `json:"queue_len"`
}

// HealthHandler returns the handler for /health, /debug/connections and,
// when configured, the metrics path.
func (s *Server) HealthHandler(cfg HealthConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:        "healthy",
			Instance:      cfg.Instance,
			Version:       version.Get(),
			UptimeSeconds: s.Uptime().Seconds(),
			Connections:   s.registry.Counts(),
			Server:        s.Stats(),
			Router:        s.router.Stats(),
			Components:    make(map[string]interface{}),
		}

		if cfg.Database != nil {
			if err := cfg.Database.Ping(ctx); err != nil {
				// The journal is optional; relaying still works
				health.Status = "degraded"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}
		if cfg.Journal != nil {
			health.Components["journal"] = cfg.Journal.Stats()
		}

		if s.isClosing() {
			health.Status = "shutting_down"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "shutting_down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/connections", func(w http.ResponseWriter, r *http.Request) {
		conns := s.registry.All()

		infos := make([]connectionInfo, 0, len(conns))
		for _, c := range conns {
			stats := c.Stats()
			infos = append(infos, connectionInfo{
				ID:           c.ID().String(),
				Role:         c.Role().String(),
				State:        stats.State.String(),
				RemoteAddr:   c.RemoteAddr(),
				ConnectedAt:  c.ConnectedAt(),
				LastActivity: c.LastActivity(),
				FramesIn:     stats.FramesIn,
				FramesOut:    stats.FramesOut,
				QueueLen:     stats.QueueLen,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":       len(infos),
			"counts":      s.registry.Counts(),
			"connections": infos,
		})
	})

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, cfg.Metrics)
	}

	return mux
}
