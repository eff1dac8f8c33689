package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformed   = errors.New("malformed frame")
	ErrMissingType = errors.New("frame has no type")
)

// Message types.
const (
	TypeHeartbeat  = "heartbeat"
	TypeCoreUpdate = "core_update"
)

// Role identifies which side of the relay a connection is on.
type Role string

const (
	RoleUnknown Role = ""
	RoleAgent   Role = "agent"
	RolePanel   Role = "panel"
)

// ParseRole maps a declared role name to a Role. Unrecognized names map to RoleUnknown.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAgent:
		return RoleAgent
	case RolePanel:
		return RolePanel
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// Message is a parsed inbound frame. Raw holds the exact bytes received and is
// what gets forwarded; Fields is a read-only view used for logging.
type Message struct {
	Type   string
	Raw    []byte
	Fields map[string]json.RawMessage
}

// StringField returns a top-level string field, or "" if absent or not a string.
func (m Message) StringField(key string) string {
	raw, ok := m.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ParseError describes a frame that could not be parsed.
type ParseError struct {
	Err    error
	Prefix string // First bytes of the offending frame
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Prefix)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Heartbeat is the liveness frame emitted by agents.
type Heartbeat struct {
	Type      string  `json:"type"`
	AgentID   string  `json:"agent_id"`
	Timestamp float64 `json:"ts"` // Unix seconds
}

// CoreUpdate carries computed market features and the resulting signal.
type CoreUpdate struct {
	Type       string   `json:"type"`
	AgentID    string   `json:"agent_id,omitempty"`
	Features   Features `json:"features"`
	Prediction string   `json:"prediction"`
}

// Features is the wire form of a market microstructure snapshot.
type Features struct {
	Timestamp            float64 `json:"timestamp"` // Unix seconds
	BestBid              float64 `json:"best_bid"`
	BestAsk              float64 `json:"best_ask"`
	Spread               float64 `json:"spread"`
	MidPrice             float64 `json:"mid_price"`
	WAP                  float64 `json:"wap"`
	BookImbalance5Levels float64 `json:"book_imbalance_5_levels"`
	TradeImbalance       float64 `json:"trade_imbalance"`
	LastBookUpdateTs     *int64  `json:"last_book_update_ts"` // Exchange milliseconds
	LastTradeTs          *int64  `json:"last_trade_ts"`       // Exchange milliseconds
}
