// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active connections and connection churn by role
//   - Frames received, parse errors
//   - Messages forwarded to panels and messages dropped, by reason
//   - Forced disconnects (slow panels, idle peers) and rejected upgrades
//   - Journal buffer drops and flush failures
package metrics
