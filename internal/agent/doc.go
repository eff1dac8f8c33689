// Package agent implements the oracle agent: it consumes a market data feed,
// computes features and a signal on a fixed cadence and publishes heartbeat
// and core_update frames to the relay's agent endpoint.
//
// The core link is a reconnecting client with a bounded send queue, so feed
// processing never waits on the relay. Frames produced while the link is down
// are dropped and counted.
package agent
