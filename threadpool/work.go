// File: threadpool/work.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Work items: a body run on a worker thread and a completion run on the
// owning loop.

package threadpool

import (
	"fmt"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/list"
	"github.com/momentics/hioload-ev/loop"
)

// Class selects the queue a work item waits in. Workers drain FastIO first,
// then CPU, then SlowIO. Each class is FIFO.
type Class int

const (
	ClassCPU Class = iota
	ClassFastIO
	ClassSlowIO

	numClasses = 3
)

// pickOrder lists the classes in the order workers drain them.
var pickOrder = [numClasses]Class{ClassFastIO, ClassCPU, ClassSlowIO}

func (c Class) String() string {
	switch c {
	case ClassCPU:
		return "cpu"
	case ClassFastIO:
		return "fast_io"
	case ClassSlowIO:
		return "slow_io"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Status is the lifecycle state of a work item.
type Status int32

const (
	StatusIdle Status = iota
	StatusQueued
	StatusRunning
	StatusCanceled
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCanceled:
		return "canceled"
	case StatusDone:
		return "done"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// WorkFunc is the body of a work item. It runs on a worker thread and must
// not touch loop-owned state.
type WorkFunc func(w *Work)

// DoneFunc completes a work item on the owning loop's thread. err is nil
// when the body ran, api.ErrCanceled when it never started, and an Unknown
// error when the body panicked.
type DoneFunc func(w *Work, err error)

// Work is a thread-pool task. It is a loop handle (RoleWork) that stays
// active from Submit until its completion runs, so pending work keeps the
// loop alive. A Work may be submitted again once its completion has run.
type Work struct {
	loop.Handle

	node   list.Node[*Work]
	pool   *Pool
	class  Class
	status Status
	workCb WorkFunc
	doneCb DoneFunc
	err    error
}

// Status returns the item's state. On the loop thread, it is exact once the
// completion has started.
func (w *Work) Status() Status {
	if w.pool == nil {
		return w.status
	}
	w.pool.mu.Lock()
	defer w.pool.mu.Unlock()
	return w.status
}

// Class returns the queue class given at submission.
func (w *Work) Class() Class { return w.class }

// run executes the body on a worker thread, converting a panic into an error.
func (w *Work) run(p *Pool) {
	defer func() {
		if r := recover(); r != nil {
			w.err = api.Wrap(api.Unknown, "work", fmt.Errorf("panic: %v", r))
			p.warn.Warning(p.log, "work panic").
				Str("class", w.class.String()).
				Err(w.err).
				Log("work body panicked")
		}
	}()
	w.workCb(w)
}

// finish runs on the loop thread.
func (w *Work) finish() {
	p := w.pool
	p.mu.Lock()
	status := w.status
	p.mu.Unlock()

	var err error
	switch status {
	case StatusCanceled:
		err = api.ErrCanceled.WithOp("work")
		p.stats.canceled.Inc()
	default:
		err = w.err
		p.stats.completed.Inc()
	}

	w.Deactive()
	if !w.IsClosing() {
		w.Handle.Exit(nil)
	}
	done := w.doneCb
	w.workCb, w.doneCb, w.err = nil, nil, nil
	done(w, err)
}
