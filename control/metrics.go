// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for loops and thread pools.
// Counters are lock-free once registered; gauges live in a guarded map.

package control

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// MetricsRegistry holds counters and arbitrary gauge values.
type MetricsRegistry struct {
	mu       sync.RWMutex
	metrics  map[string]any
	counters map[string]*atomic.Int64
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:  make(map[string]any),
		counters: make(map[string]*atomic.Int64),
	}
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Counter returns the counter registered under key, creating it on first use.
// Callers on hot paths keep the returned pointer.
func (mr *MetricsRegistry) Counter(key string) *atomic.Int64 {
	if mr == nil {
		return atomic.NewInt64(0)
	}
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = atomic.NewInt64(0)
		mr.counters[key] = c
	}
	return c
}

// Add increments the counter under key by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil {
		return
	}
	mr.Counter(key).Add(delta)
	mr.mu.Lock()
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get returns the value under key: a counter's current value or a gauge.
func (mr *MetricsRegistry) Get(key string) (any, bool) {
	if mr == nil {
		return nil, false
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load(), true
	}
	v, ok := mr.metrics[key]
	return v, ok
}

// Updated returns the time of the last Set or Add.
func (mr *MetricsRegistry) Updated() time.Time {
	if mr == nil {
		return time.Time{}
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics. Counters appear as int64.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	if mr == nil {
		return nil
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics)+len(mr.counters))
	for k, v := range mr.metrics {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}
