// File: loop/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Async handles: the cross-thread wakeup primitive.

package loop

import (
	"go.uber.org/atomic"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/list"
)

// Async runs its callback on the loop thread after Wakeup is called from any
// goroutine. Wakeups issued before the callback runs collapse into one call.
// An async handle is active, and keeps the loop alive, until it is closed.
type Async struct {
	Handle

	cb      func(*Async)
	pending atomic.Bool
	anode   list.Node[*Async]
}

// InitAsync binds a to l and activates it.
func (l *Loop) InitAsync(a *Async, cb func(*Async)) error {
	if cb == nil {
		return api.ErrInvalid.WithOp("async init")
	}
	a.initAsync(l, cb, 0)
	return nil
}

func (a *Async) initAsync(l *Loop, cb func(*Async), extra handleFlags) {
	a.Handle.init(l, RoleAsync, extra)
	a.cb = cb
	a.pending.Store(false)
	a.anode.Value = a
	l.asyncs.PushBack(&a.anode)
	a.OnClose(func() { l.asyncs.Remove(&a.anode) })
	a.Active()
}

// Wakeup schedules the callback. It is safe to call from any goroutine while
// the handle is open.
func (a *Async) Wakeup() error {
	if !a.pending.CompareAndSwap(false, true) {
		return nil
	}
	return a.loop.backend.Wakeup()
}

// Exit closes a. A wakeup that has not been delivered yet is dropped.
func (a *Async) Exit(cb func(*Async)) {
	if cb == nil {
		a.Handle.Exit(nil)
		return
	}
	a.Handle.Exit(func(*Handle) { cb(a) })
}

// runAsyncs is the backend wakeup handler. It fires every async handle with a
// pending wakeup.
func (l *Loop) runAsyncs() {
	l.asyncs.Each(func(n *list.Node[*Async]) bool {
		a := n.Value
		// Closed by an earlier callback in this pass.
		if !n.Linked() {
			return false
		}
		if a.pending.CompareAndSwap(true, false) {
			a.cb(a)
		}
		return false
	})
}
