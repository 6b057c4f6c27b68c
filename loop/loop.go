// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop core: construction, the run algorithm, stop, exit and walk.

package loop

import (
	"time"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/control"
	"github.com/momentics/hioload-ev/internal/list"
	"github.com/momentics/hioload-ev/internal/logging"
	"github.com/momentics/hioload-ev/pool"
	"github.com/momentics/hioload-ev/reactor"
)

// RunMode selects how long Run drives the loop.
type RunMode int

const (
	// RunDefault runs until nothing is alive, Stop is called or the overall
	// timeout elapses.
	RunDefault RunMode = iota
	// RunOnce runs one iteration whose poll may block, then one more timer
	// pass.
	RunOnce
	// RunNoWait runs one iteration with a non-blocking poll.
	RunNoWait
)

// Pool is the thread-pool side of a loop link.
type Pool interface {
	Unlink(l *Loop)
}

// Config configures a Loop.
type Config struct {
	Logger    *logging.Logger
	// Allocator defaults to a pool.Slab sharing Metrics.
	Allocator api.Allocator
	Metrics   *control.MetricsRegistry
	// MaxPollEvents is the backend batch size.
	MaxPollEvents int
	// MaxPollRounds bounds the zero-timeout re-polls after full batches.
	MaxPollRounds int
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	bc := reactor.DefaultConfig()
	return Config{
		MaxPollEvents: bc.MaxEvents,
		MaxPollRounds: bc.MaxRounds,
	}
}

// Option customizes a Config.
type Option func(*Config)

// WithLogger sets the loop logger. The backend shares it.
func WithLogger(log *logging.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithAllocator fixes the allocator used for loop-owned scratch buffers.
func WithAllocator(a api.Allocator) Option {
	return func(c *Config) { c.Allocator = a }
}

// WithMetrics publishes loop counters into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithPollBatch sets the backend batch size and re-poll bound.
func WithPollBatch(events, rounds int) Option {
	return func(c *Config) {
		c.MaxPollEvents = events
		c.MaxPollRounds = rounds
	}
}

type loopStats struct {
	iterations *atomic.Int64
	timers     *atomic.Int64
	todos      *atomic.Int64
	inbound    *atomic.Int64
}

// Loop is a single-threaded event loop. Except for Post and Async.Wakeup,
// its methods and the methods of its handles must be called from the
// goroutine running it.
type Loop struct {
	cfg     Config
	log     *logging.Logger
	alloc   api.Allocator
	backend reactor.Backend

	base time.Time
	now  time.Duration

	idle     list.List[*Handle]
	active   list.List[*Handle]
	internal list.List[*Handle]
	asyncs   list.List[*Async]
	todo     list.List[*Todo]

	timers   timerHeap
	timerSeq uint64

	inbound inbound
	pool    Pool

	stop    bool
	running bool
	exited  bool

	stats loopStats
}

// New creates a loop and its platform backend. On error nothing is left
// allocated.
func New(opts ...Option) (*Loop, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Allocator == nil {
		cfg.Allocator = pool.NewSlab(cfg.Metrics)
	}

	backend, err := reactor.New(reactor.Config{
		MaxEvents: cfg.MaxPollEvents,
		MaxRounds: cfg.MaxPollRounds,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	l := &Loop{
		cfg:     cfg,
		log:     cfg.Logger,
		alloc:   cfg.Allocator,
		backend: backend,
		base:    time.Now(),
		stats: loopStats{
			iterations: cfg.Metrics.Counter("loop.iterations"),
			timers:     cfg.Metrics.Counter("loop.timers_fired"),
			todos:      cfg.Metrics.Counter("loop.todos_run"),
			inbound:    cfg.Metrics.Counter("loop.inbound_run"),
		},
	}
	l.inbound.q = queue.New()
	l.inbound.async.initAsync(l, l.flushInbound, flagInternal)
	backend.SetWakeupHandler(l.runAsyncs)
	l.UpdateTime()

	l.log.Debug().Str("backend", backend.Name()).Log("loop created")
	return l, nil
}

// Backend returns the platform backend. Protocol layers type-assert it to
// reactor.Readiness or the completion backend.
func (l *Loop) Backend() reactor.Backend { return l.backend }

// Allocator returns the allocator fixed at construction.
func (l *Loop) Allocator() api.Allocator { return l.alloc }

// Logger returns the loop logger, possibly nil.
func (l *Loop) Logger() *logging.Logger { return l.log }

// Now returns the cached loop time: milliseconds elapsed since New, refreshed
// at the start of every iteration and by UpdateTime.
func (l *Loop) Now() time.Duration { return l.now }

// UpdateTime refreshes the cached loop time.
func (l *Loop) UpdateTime() {
	l.now = time.Since(l.base).Truncate(time.Millisecond)
}

// Alive reports whether the loop has active handles, queued tasks or posted
// functions that have not run.
func (l *Loop) Alive() bool {
	return !l.active.Empty() || !l.todo.Empty() || l.inbound.pending.Load() != 0
}

// Stop makes Run return after the current iteration. It must be called on
// the loop goroutine; from elsewhere, use an Async handle or Post.
func (l *Loop) Stop() { l.stop = true }

// ComputeTimeout returns how long the next poll may block: zero when a stop
// is requested or tasks are queued, the time to the earliest timer when one is
// armed, and -1 (forever) otherwise.
func (l *Loop) ComputeTimeout() time.Duration {
	if l.stop || !l.todo.Empty() {
		return 0
	}
	return l.nextTimeout()
}

// Run drives the loop in the given mode. timeout bounds RunDefault; a
// negative value means no bound. It reports whether work remains.
func (l *Loop) Run(mode RunMode, timeout time.Duration) bool {
	if l.exited {
		api.Violate("loop: run after exit")
	}
	if l.running {
		api.Violate("loop: run called re-entrantly")
	}
	l.running = true
	defer func() { l.running = false }()

	l.UpdateTime()
	bounded := mode == RunDefault && timeout >= 0
	deadline := l.now + roundUp(timeout)

	for !l.stop {
		l.stats.iterations.Inc()
		l.UpdateTime()
		l.runTimers()
		l.runTodo()
		if !l.Alive() {
			break
		}

		wait := l.ComputeTimeout()
		if mode == RunNoWait {
			wait = 0
		}
		if bounded {
			left := deadline - l.now
			if left <= 0 {
				break
			}
			if wait < 0 || wait > left {
				wait = left
			}
		}
		if err := l.backend.Poll(wait); err != nil {
			l.log.Err().Err(err).Log("backend poll failed")
		}

		if mode == RunOnce {
			l.UpdateTime()
			l.runTimers()
		}
		l.runTodo()

		if mode != RunDefault {
			break
		}
	}

	l.stop = false
	return l.Alive()
}

// Walk visits every open non-internal handle once, idle handles first.
// The visit stops early when fn returns true. Handles closed by fn before
// they are reached are skipped.
func (l *Loop) Walk(fn func(h *Handle) bool) {
	handles := make([]*Handle, 0, l.idle.Len()+l.active.Len())
	collect := func(n *list.Node[*Handle]) bool {
		handles = append(handles, n.Value)
		return false
	}
	l.idle.Each(collect)
	l.active.Each(collect)
	for _, h := range handles {
		if h.IsClosed() {
			continue
		}
		if fn(h) {
			return
		}
	}
}

// Link attaches a thread pool. It is called by the pool.
func (l *Loop) Link(p Pool) { l.pool = p }

// LinkedPool returns the linked thread pool, or nil.
func (l *Loop) LinkedPool() Pool { return l.pool }

// UnlinkPool detaches the linked pool, if any. It is called by the pool.
func (l *Loop) UnlinkPool() { l.pool = nil }

// Exit tears the loop down. It fails with api.ErrBusy while any handle is
// open, closing included, or posted functions are waiting, and panics when
// tasks are still queued. On success the thread pool is unlinked and the backend closed.
func (l *Loop) Exit() error {
	if l.running {
		api.Violate("loop: exit from inside run")
	}
	if l.exited {
		return api.ErrInvalid.WithOp("loop exit")
	}
	if n := l.idle.Len() + l.active.Len(); n != 0 {
		l.log.Debug().Int("handles", n).Log("loop exit refused")
		return api.ErrBusy.WithOp("loop exit")
	}
	if !l.todo.Empty() {
		api.Violate("loop: exit with %d queued tasks", l.todo.Len())
	}
	if n := l.inbound.pending.Load(); n != 0 {
		l.log.Debug().Int64("posts", n).Log("loop exit refused")
		return api.ErrBusy.WithOp("loop exit")
	}
	if l.pool != nil {
		l.pool.Unlink(l)
		l.pool = nil
	}
	if err := l.closeInbound(); err != nil {
		return err
	}
	l.exited = true
	err := l.backend.Close()
	l.log.Debug().Int64("iterations", l.stats.iterations.Load()).Log("loop exited")
	return err
}

func (l *Loop) setFor(h *Handle, active bool) *list.List[*Handle] {
	switch {
	case h.flags&flagInternal != 0:
		return &l.internal
	case active:
		return &l.active
	default:
		return &l.idle
	}
}
