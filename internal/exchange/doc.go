// Package exchange connects to the Bitget spot public WebSocket feed.
//
// A Connector subscribes to every symbol × channel pair on each session,
// keeps the link alive with text pings and hands every data frame to a
// handler. Lost sessions are retried forever after a fixed delay.
package exchange
