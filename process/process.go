// Package process
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Child process exit notification. A helper goroutine blocks in the
// platform wait primitive and hands the exit status to the owning loop
// through its inbound queue, so the callback always runs on the loop thread.
package process

import (
	"fmt"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/loop"
)

// Status describes how a process ended.
type Status struct {
	Pid int
	// ExitCode is the code passed to exit, or -1 when a signal ended the
	// process.
	ExitCode int
	// Signal is the terminating signal, or 0.
	Signal int
}

func (s Status) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("pid %d killed by signal %d", s.Pid, s.Signal)
	}
	return fmt.Sprintf("pid %d exited with code %d", s.Pid, s.ExitCode)
}

// ExitFunc receives the exit status on the loop thread. err is set when the
// wait itself failed, for example because pid is not a child.
type ExitFunc func(w *Watcher, status Status, err error)

// Watcher is a loop handle (RoleProcess) that stays active until the process
// exits or the watcher is closed.
type Watcher struct {
	loop.Handle

	pid     int
	gen     uint64
	cb      ExitFunc
	exited  bool
	status  Status
	cancel  loop.Todo
	closeCb func(*Watcher)
}

// Watch starts waiting for pid. It must be called on l's thread. The process
// is reaped by the wait; callers must not wait for it themselves.
func Watch(l *loop.Loop, w *Watcher, pid int, cb ExitFunc) error {
	if l == nil || w == nil || cb == nil || pid <= 0 {
		return api.ErrInvalid.WithOp("process watch")
	}
	w.Handle.Init(l, loop.RoleProcess)
	w.pid = pid
	w.cb = cb
	w.exited = false
	w.status = Status{}
	w.gen++
	w.OnClose(w.abandon)
	w.Active()

	log := l.Logger()
	gen := w.gen
	go func() {
		st, err := wait(pid)
		st.Pid = pid
		if perr := l.Post(func() { w.deliver(gen, st, err) }); perr != nil {
			log.Warning().Int("pid", pid).Err(perr).Log("process exit not delivered: loop is gone")
		}
	}()
	log.Debug().Int("pid", pid).Log("watching process")
	return nil
}

// Pid returns the watched process id.
func (w *Watcher) Pid() int { return w.pid }

// Exited reports whether the exit status has been delivered, and returns it.
func (w *Watcher) Exited() (Status, bool) { return w.status, w.exited }

// Kill sends sig to the process. On Windows any signal terminates it.
func (w *Watcher) Kill(sig int) error {
	if w.exited {
		return api.ErrNotFound.WithOp("process kill")
	}
	return api.TranslateOp("process kill", kill(w.pid, sig))
}

// Exit closes the watcher. If the process has not exited yet, the exit
// callback runs once with api.ErrCanceled before cb, and the status arriving
// later is discarded.
func (w *Watcher) Exit(cb func(*Watcher)) {
	if cb == nil {
		w.Handle.Exit(nil)
		return
	}
	w.closeCb = cb
	w.Handle.Exit(func(*loop.Handle) {
		fn := w.closeCb
		w.closeCb = nil
		fn(w)
	})
}

func (w *Watcher) abandon() {
	if w.exited {
		return
	}
	cb, st := w.cb, Status{Pid: w.pid}
	w.Loop().SubmitTodo(&w.cancel, func(*loop.Todo) {
		cb(w, st, api.ErrCanceled.WithOp("process wait"))
	})
}

// deliver drops statuses for a closed watcher or for an earlier Watch of a
// reused one.
func (w *Watcher) deliver(gen uint64, st Status, err error) {
	if gen != w.gen || w.IsClosing() {
		return
	}
	w.exited = true
	w.status = st
	w.Deactive()
	w.cb(w, st, api.TranslateOp("process wait", err))
}
