package router

import (
	"fmt"

	"github.com/rickgao/gem-relay/internal/protocol"
)

// OverflowPolicy decides what happens when a panel's outbound queue is full.
type OverflowPolicy string

const (
	// OverflowDisconnect force-closes the slow panel.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDrop drops the message for that panel only and keeps it connected.
	OverflowDrop OverflowPolicy = "drop"
)

// ParseOverflowPolicy converts a config value into an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowDisconnect, OverflowDrop:
		return OverflowPolicy(s), nil
	case "":
		return OverflowDisconnect, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Config holds configuration for the Message Router.
type Config struct {
	ForwardTypes   []string       // Message types forwarded from agents to panels
	OverflowPolicy OverflowPolicy // Default: disconnect
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ForwardTypes:   []string{protocol.TypeHeartbeat, protocol.TypeCoreUpdate},
		OverflowPolicy: OverflowDisconnect,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived  int64 `json:"messages_received"`
	MessagesForwarded int64 `json:"messages_forwarded"` // One per recipient
	UnknownMessages   int64 `json:"unknown_messages"`
	PanelMessages     int64 `json:"panel_messages"`
	Overflows         int64 `json:"overflows"`
	ClosedRecipients  int64 `json:"closed_recipients"`
	Disconnected      int64 `json:"disconnected"`
}
