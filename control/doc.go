// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for loops and thread pools.
//
// Provides concurrent-safe primitives:
//   - Counters and gauges published by the loop and the pool
//   - Named probe functions evaluated on demand
//   - Platform probes describing the backend in use
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
