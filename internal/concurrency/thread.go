// File: internal/concurrency/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread runs a function on a dedicated OS thread and supports join.

package concurrency

import (
	"runtime"

	"github.com/momentics/hioload-ev/affinity"
)

// ThreadOptions tunes a worker thread.
type ThreadOptions struct {
	// StackSize is a hint only. Goroutine stacks grow on demand, so it is
	// recorded for diagnostics and otherwise ignored.
	StackSize int
	// CPU pins the thread to the given logical CPU when >= 0.
	CPU int
}

// Thread is a goroutine locked to its OS thread for its whole lifetime.
type Thread struct {
	opts ThreadOptions
	done chan struct{}
	// PinErr holds the affinity error, if pinning was requested and failed.
	PinErr error
}

// StartThread launches fn on a new locked OS thread.
func StartThread(opts ThreadOptions, fn func()) *Thread {
	t := &Thread{opts: opts, done: make(chan struct{})}
	ready := make(chan struct{})
	go func() {
		defer close(t.done)
		runtime.LockOSThread()
		// Exiting while locked terminates the OS thread, affinity mask included.
		if opts.CPU >= 0 {
			t.PinErr = affinity.SetAffinity(opts.CPU)
		}
		close(ready)
		fn()
	}()
	<-ready
	return t
}

// Join blocks until the thread function returns.
func (t *Thread) Join() {
	<-t.done
}

// Done is closed once the thread function has returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}
