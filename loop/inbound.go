// File: loop/inbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop-inbound queue: the one path by which other goroutines hand work to a
// loop. Thread-pool completions and process exit notifications use it.

package loop

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-ev/api"
)

type inbound struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool

	// pending counts posted functions that have not run yet. It keeps the
	// loop alive between Post and the flush.
	pending atomic.Int64
	async   Async
}

// Post runs fn on the loop thread during a later iteration. It is safe to
// call from any goroutine. Posting to a loop that has exited reports
// api.ErrNotAvailable.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return api.ErrInvalid.WithOp("loop post")
	}
	in := &l.inbound
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return api.ErrNotAvailable.WithOp("loop post")
	}
	defer in.mu.Unlock()
	in.q.Add(fn)
	in.pending.Inc()
	// Sent under the lock so closeInbound cannot close the backend first.
	return in.async.Wakeup()
}

// flushInbound runs every function posted before the queue lock was taken.
// The lock is released before any of them runs.
func (l *Loop) flushInbound(*Async) {
	in := &l.inbound
	in.mu.Lock()
	n := in.q.Length()
	batch := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, in.q.Remove().(func()))
	}
	in.mu.Unlock()

	for _, fn := range batch {
		fn()
		in.pending.Dec()
		l.stats.inbound.Inc()
	}
}

// closeInbound refuses further posts. It fails with api.ErrBusy while posted
// functions are still waiting to run.
func (l *Loop) closeInbound() error {
	in := &l.inbound
	in.mu.Lock()
	if in.pending.Load() != 0 {
		in.mu.Unlock()
		return api.ErrBusy.WithOp("loop exit")
	}
	in.closed = true
	in.mu.Unlock()
	in.async.Exit(nil)
	return nil
}
