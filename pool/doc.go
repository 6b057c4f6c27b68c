// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-ev.
// Slab is the default api.Allocator of a loop: power-of-two size classes,
// each backed by a sync.Pool, with allocation counters published to a
// control.MetricsRegistry.
package pool
