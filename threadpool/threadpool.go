// File: threadpool/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size thread pool with priority-classed FIFO queues. Completions are
// handed back to the owning loop through its inbound queue and never run on
// a worker.

package threadpool

import (
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/control"
	"github.com/momentics/hioload-ev/internal/concurrency"
	"github.com/momentics/hioload-ev/internal/list"
	"github.com/momentics/hioload-ev/internal/logging"
	"github.com/momentics/hioload-ev/loop"
)

type poolStats struct {
	submitted *atomic.Int64
	completed *atomic.Int64
	canceled  *atomic.Int64
}

// Pool runs work items on dedicated OS threads.
type Pool struct {
	cfg  Config
	log  *logging.Logger
	warn *logging.Limiter

	_       cpu.CacheLinePad
	mu      sync.Mutex
	queues  [numClasses]list.List[*Work]
	loops   map[*loop.Loop]struct{}
	running atomic.Bool
	_       cpu.CacheLinePad

	sem     *concurrency.Semaphore
	threads []*concurrency.Thread
	stats   poolStats
}

var _ loop.Pool = (*Pool)(nil)

// New starts the worker threads. If any worker fails to start, the ones
// already running are stopped and joined before the error is returned.
func New(opts ...Option) (*Pool, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Threads <= 0 {
		return nil, api.ErrInvalid.WithOp("threadpool init")
	}

	p := &Pool{
		cfg:   cfg,
		log:   cfg.Logger,
		warn:  logging.DefaultLimiter(),
		loops: make(map[*loop.Loop]struct{}),
		sem:   concurrency.NewSemaphore(0),
		stats: poolStats{
			submitted: cfg.Metrics.Counter("threadpool.submitted"),
			completed: cfg.Metrics.Counter("threadpool.completed"),
			canceled:  cfg.Metrics.Counter("threadpool.canceled"),
		},
	}
	p.running.Store(true)

	for i := 0; i < cfg.Threads; i++ {
		opts := concurrency.ThreadOptions{StackSize: cfg.StackSize, CPU: -1}
		if cfg.CPUAffinity {
			opts.CPU = i
		}
		t := concurrency.StartThread(opts, p.worker)
		p.threads = append(p.threads, t)
		if t.PinErr != nil {
			p.stopWorkers()
			p.log.Err().Int("worker", i).Err(t.PinErr).Log("threadpool worker failed to start")
			return nil, api.TranslateOp("threadpool init", t.PinErr)
		}
	}

	p.log.Debug().Int("threads", cfg.Threads).Log("threadpool started")
	return p, nil
}

// Running reports whether the pool accepts work.
func (p *Pool) Running() bool { return p.running.Load() }

// Threads returns the number of workers.
func (p *Pool) Threads() int { return len(p.threads) }

// Submit queues w on behalf of l. The body runs on a worker; done runs later
// on l's thread exactly once. Submit fails with api.ErrNotAvailable once Exit
// has begun. It must be called on l's thread.
func (p *Pool) Submit(l *loop.Loop, w *Work, class Class, work WorkFunc, done DoneFunc) error {
	if l == nil || w == nil || work == nil || done == nil || class < 0 || class >= numClasses {
		return api.ErrInvalid.WithOp("threadpool submit")
	}
	if !p.running.Load() {
		return api.ErrNotAvailable.WithOp("threadpool submit")
	}

	w.Handle.Init(l, loop.RoleWork)
	w.pool = p
	w.class = class
	w.workCb = work
	w.doneCb = done
	w.err = nil
	w.node.Value = w

	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		w.Handle.Exit(nil)
		return api.ErrNotAvailable.WithOp("threadpool submit")
	}
	w.status = StatusQueued
	w.Active()
	p.queues[class].PushBack(&w.node)
	p.mu.Unlock()

	p.stats.submitted.Inc()
	p.sem.Post()
	return nil
}

// Cancel removes w from its queue if no worker has picked it up yet; its
// completion then reports api.ErrCanceled. Once the body is running, or the
// item has finished, Cancel fails with api.ErrBusy and the completion reports
// the natural outcome.
func (p *Pool) Cancel(w *Work) error {
	p.mu.Lock()
	if w.pool != p || w.status != StatusQueued || !p.queues[w.class].Remove(&w.node) {
		p.mu.Unlock()
		return api.ErrBusy.WithOp("threadpool cancel")
	}
	w.status = StatusCanceled
	p.mu.Unlock()

	p.complete(w)
	return nil
}

// Link routes QueueWork calls made with l to p. It must be called on l's
// thread.
func (p *Pool) Link(l *loop.Loop) error {
	if !p.running.Load() {
		return api.ErrNotAvailable.WithOp("threadpool link")
	}
	if cur := l.LinkedPool(); cur != nil && cur != loop.Pool(p) {
		return api.ErrAlreadyExists.WithOp("threadpool link")
	}
	p.mu.Lock()
	p.loops[l] = struct{}{}
	p.mu.Unlock()
	l.Link(p)
	return nil
}

// Unlink detaches l and cancels every item queued for l that has not
// started. It must be called on l's thread; Loop.Exit calls it.
func (p *Pool) Unlink(l *loop.Loop) {
	var canceled []*Work
	p.mu.Lock()
	delete(p.loops, l)
	for c := range p.queues {
		p.queues[c].Each(func(n *list.Node[*Work]) bool {
			if w := n.Value; w.Loop() == l {
				p.queues[c].Remove(n)
				w.status = StatusCanceled
				canceled = append(canceled, w)
			}
			return false
		})
	}
	p.mu.Unlock()

	if l.LinkedPool() == loop.Pool(p) {
		l.UnlinkPool()
	}
	for _, w := range canceled {
		p.complete(w)
	}
	if len(canceled) != 0 {
		p.log.Debug().Int("canceled", len(canceled)).Log("threadpool unlinked loop with queued work")
	}
}

// Exit stops accepting work, wakes and joins every worker, then completes
// every item still queued as canceled. Items already running finish and
// complete normally. Loops must keep running until those completions arrive.
func (p *Pool) Exit() {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.stopWorkers()

	var canceled []*Work
	p.mu.Lock()
	for c := range p.queues {
		for n := p.queues[c].PopFront(); n != nil; n = p.queues[c].PopFront() {
			n.Value.status = StatusCanceled
			canceled = append(canceled, n.Value)
		}
	}
	p.mu.Unlock()

	for _, w := range canceled {
		p.complete(w)
	}
	p.log.Debug().Int("canceled", len(canceled)).Log("threadpool stopped")
}

// stopWorkers flips the running flag, posts one wakeup per worker and joins
// them all.
func (p *Pool) stopWorkers() {
	p.mu.Lock()
	p.running.Store(false)
	p.mu.Unlock()
	for range p.threads {
		p.sem.Post()
	}
	for _, t := range p.threads {
		t.Join()
	}
}

func (p *Pool) worker() {
	for {
		p.sem.Wait()

		p.mu.Lock()
		if !p.running.Load() {
			p.mu.Unlock()
			return
		}
		w := p.pop()
		if w == nil {
			// The item this post was for has been canceled.
			p.mu.Unlock()
			continue
		}
		w.status = StatusRunning
		p.mu.Unlock()

		w.run(p)

		p.mu.Lock()
		w.status = StatusDone
		p.mu.Unlock()
		p.complete(w)
	}
}

// pop takes the head of the highest-priority non-empty queue. p.mu is held.
func (p *Pool) pop() *Work {
	for _, c := range pickOrder {
		if n := p.queues[c].PopFront(); n != nil {
			return n.Value
		}
	}
	return nil
}

// complete hands w to its loop. It may run on any goroutine.
func (p *Pool) complete(w *Work) {
	if err := w.Loop().Post(w.finish); err != nil {
		p.log.Crit().Err(err).Str("class", w.class.String()).Log("work completion lost: loop is gone")
	}
}

// Stats returns queue depths and counters.
func (p *Pool) Stats() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]int64{
		"threads":   int64(len(p.threads)),
		"loops":     int64(len(p.loops)),
		"submitted": p.stats.submitted.Load(),
		"completed": p.stats.completed.Load(),
		"canceled":  p.stats.canceled.Load(),
	}
	for c := range p.queues {
		out["queued."+Class(c).String()] = int64(p.queues[c].Len())
	}
	return out
}

// RegisterProbes exposes Stats through dp under prefix.
func (p *Pool) RegisterProbes(dp *control.DebugProbes, prefix string) {
	dp.RegisterProbe(prefix+".stats", func() any { return p.Stats() })
}

// QueueWork submits w to the pool linked to l. It fails with
// api.ErrNoThreadPool when l has no linked pool.
func QueueWork(l *loop.Loop, w *Work, class Class, work WorkFunc, done DoneFunc) error {
	p, ok := l.LinkedPool().(*Pool)
	if !ok || p == nil {
		return api.ErrNoThreadPool.WithOp("queue work")
	}
	return p.Submit(l, w, class, work, done)
}
