// Package registry implements the Connection Registry component.
//
// The Connection Registry:
//   - Tracks every open relay connection by its identifier
//   - Partitions connections by role (agents, panels)
//   - Hands out snapshot copies so callers iterate without holding the lock
//   - Treats removal as idempotent so explicit closes and detected
//     disconnects can both clean up without coordination
package registry
