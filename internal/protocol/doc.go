// Package protocol defines the wire protocol spoken between agents, panels and the relay.
//
// Frames are WebSocket text messages, each a JSON object with a string "type":
//   - heartbeat:   agent → relay → panel, minimal liveness message
//   - core_update: agent → relay → panel, carries "features" and "prediction"
//
// Roles are declared by the connection path (/ws/agent, /ws/panel), never by
// frame content. The relay only checks that a frame is a JSON object with a
// non-empty type; every other field is passed through untouched.
package protocol
