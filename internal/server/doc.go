// Package server implements the broker: it accepts WebSocket connections on
// the agent and panel paths, registers them, runs one read loop and one
// write loop per connection and hands every parsed frame to the router.
//
// Connection lifecycle:
//
//	upgrade → connecting → open (registered) → closing → closed (unregistered)
//
// A connection's failure is contained in its own goroutines. The accept
// loop only stops on listener failure or shutdown.
package server
