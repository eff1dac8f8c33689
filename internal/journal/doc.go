// Package journal records connection lifecycle events in PostgreSQL.
//
// Events (opened, closed) are buffered in memory and written in batches to
// the connection_events table. The journal never blocks the relay: when its
// buffer reaches the maximum capacity new events are dropped and counted.
//
// Only connection metadata is stored. Relayed messages are never persisted.
package journal
