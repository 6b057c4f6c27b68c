// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral backend contract for the event loop.

package reactor

import (
	"time"

	"github.com/momentics/hioload-ev/internal/logging"
)

// Backend is the loop-facing contract shared by every platform backend. All
// methods except Wakeup must be called from the loop thread.
type Backend interface {
	// Poll waits for OS events for at most timeout and dispatches them to
	// their registered callbacks. A negative timeout waits indefinitely, zero
	// never blocks. Wait failures other than interruption panic.
	Poll(timeout time.Duration) error

	// Wakeup forces a concurrent or subsequent Poll to return. It is safe to
	// call from any goroutine.
	Wakeup() error

	// SetWakeupHandler installs the function Poll runs on the loop thread
	// after observing a Wakeup.
	SetWakeupHandler(fn func())

	// MaxTimeout is the longest single wait the OS primitive honors
	// reliably. Longer waits are split by Poll.
	MaxTimeout() time.Duration

	// Name identifies the backend ("epoll", "iocp").
	Name() string

	// Close releases the backend's OS resources.
	Close() error
}

// Events is a readiness bitmask.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback receives readiness for a registered descriptor.
type IOCallback func(io *IO, events Events)

// IO is a descriptor registration for the readiness backend. Interest is
// reference counted per direction, so independent readers and writers of the
// same descriptor can add and remove interest without clobbering each other.
type IO struct {
	Fd       int
	Callback IOCallback

	readRefs   int
	writeRefs  int
	registered Events
}

// NewIO returns an unregistered IO for fd.
func NewIO(fd int, cb IOCallback) *IO {
	return &IO{Fd: fd, Callback: cb}
}

// Interest returns the directions with a non-zero reference count.
func (io *IO) Interest() Events {
	var ev Events
	if io.readRefs > 0 {
		ev |= EventRead
	}
	if io.writeRefs > 0 {
		ev |= EventWrite
	}
	return ev
}

// Registered reports whether the descriptor is currently known to the kernel.
func (io *IO) Registered() bool { return io.registered != 0 }

// Readiness is implemented by readiness-model backends.
type Readiness interface {
	Backend
	// Add takes one reference on each direction in events.
	Add(io *IO, events Events) error
	// Del drops one reference on each direction in events.
	Del(io *IO, events Events) error
}

// Config tunes a backend.
type Config struct {
	// MaxEvents bounds one batch wait.
	MaxEvents int
	// MaxRounds bounds the zero-timeout re-polls issued while batches come
	// back full.
	MaxRounds int
	Logger    *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents: 128,
		MaxRounds: 8,
	}
}

func (c *Config) normalize() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 1
	}
}

// waitMillis converts a remaining duration into a wait argument in whole
// milliseconds, rounding up so a wait never ends before the deadline, and
// clamps it to max. clamped reports whether the cap applied.
func waitMillis(remaining, max time.Duration) (ms int64, clamped bool) {
	if remaining <= 0 {
		return 0, false
	}
	if remaining > max {
		return int64(max / time.Millisecond), true
	}
	ms = int64(remaining / time.Millisecond)
	if remaining%time.Millisecond != 0 {
		ms++
	}
	return ms, false
}
