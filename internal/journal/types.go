package journal

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the lifecycle transition an Event records.
type EventKind string

const (
	EventOpened EventKind = "opened"
	EventClosed EventKind = "closed"
)

// Event is one connection lifecycle transition.
type Event struct {
	Kind       EventKind
	ConnID     uuid.UUID
	Role       string
	RemoteAddr string
	At         time.Time

	// Set on EventClosed only
	Reason    string
	Duration  time.Duration
	FramesIn  int64
	FramesOut int64
}

// Config holds configuration for the journal writer.
type Config struct {
	Instance      string        // Relay instance name stored with each row
	BatchSize     int           // Default: 500
	FlushInterval time.Duration // Default: 5s
	BufferSize    int           // Initial buffer capacity. Default: 1000
	MaxBufferSize int           // Events beyond this are dropped. Default: 50000
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    1000,
		MaxBufferSize: 50000,
	}
}

// Stats contains writer statistics.
type Stats struct {
	Recorded int64       `json:"recorded"`
	Dropped  int64       `json:"dropped"`
	Inserts  int64       `json:"inserts"`
	Errors   int64       `json:"errors"`
	Flushes  int64       `json:"flushes"`
	Buffer   BufferStats `json:"buffer"`
}

// CreateTableSQL creates the connection_events table.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS connection_events (
	id          BIGSERIAL PRIMARY KEY,
	instance    TEXT        NOT NULL,
	event       TEXT        NOT NULL,
	conn_id     UUID        NOT NULL,
	role        TEXT        NOT NULL,
	remote_addr TEXT        NOT NULL,
	reason      TEXT,
	duration_ms BIGINT,
	frames_in   BIGINT,
	frames_out  BIGINT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS connection_events_conn_id_idx ON connection_events (conn_id);
CREATE INDEX IF NOT EXISTS connection_events_occurred_at_idx ON connection_events (occurred_at);
`

const insertEventSQL = `
	INSERT INTO connection_events
		(instance, event, conn_id, role, remote_addr, reason, duration_ms, frames_in, frames_out, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
