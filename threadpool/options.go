// File: threadpool/options.go
// Package threadpool defines configuration and functional options for Pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadpool

import (
	"github.com/momentics/hioload-ev/control"
	"github.com/momentics/hioload-ev/internal/logging"
)

// Config configures a Pool.
type Config struct {
	// Threads is the number of worker threads.
	Threads int
	// StackSize is a per-thread stack hint.
	StackSize int
	// CPUAffinity pins worker i to logical CPU i mod NumCPU. A pinning
	// failure fails New.
	CPUAffinity bool
	Logger      *logging.Logger
	Metrics     *control.MetricsRegistry
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{Threads: 4}
}

// Option customizes pool initialization.
type Option func(*Config)

// WithThreads sets the worker count.
func WithThreads(n int) Option {
	return func(c *Config) {
		c.Threads = n
	}
}

// WithStackSize records a stack size hint for worker threads.
func WithStackSize(n int) Option {
	return func(c *Config) {
		c.StackSize = n
	}
}

// WithCPUAffinity enables worker pinning.
func WithCPUAffinity(enabled bool) Option {
	return func(c *Config) {
		c.CPUAffinity = enabled
	}
}

// WithLogger sets the pool logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithMetrics publishes pool counters into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
