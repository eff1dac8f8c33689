// Package connection implements both ends of a relay WebSocket.
//
//   - Conn is the relay's side of one accepted connection: identity, role,
//     liveness state, a bounded private outbound queue drained by a single
//     writer goroutine, and a read loop that hands each frame to a callback.
//   - Client is the dialing side used by agents, panels and the exchange
//     connector: a supervised loop that reconnects after a fixed delay,
//     forever, with a fresh session (and queue) on every attempt.
package connection
