// File: loop/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer engine. Pending timers sit in a min-heap ordered by (expiry, start
// sequence), so timers with equal expiry fire in the order they were started.

package loop

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-ev/api"
)

// Timer fires a callback after a timeout and optionally at a fixed repeat
// interval afterwards.
type Timer struct {
	Handle

	cb      func(*Timer)
	timeout time.Duration
	repeat  time.Duration
	expiry  time.Duration
	seq     uint64
	index   int
}

// InitTimer binds t to l. The timer is idle until Start.
func (l *Loop) InitTimer(t *Timer) {
	t.Handle.Init(l, RoleTimer)
	t.index = -1
	t.cb = nil
	t.OnClose(t.Stop)
}

// Start arms t to fire timeout from the loop's cached time, then every repeat
// if repeat is non-zero. A zero timeout fires on the next timer pass, never
// inside Start. Starting an armed timer re-arms it.
func (t *Timer) Start(cb func(*Timer), timeout, repeat time.Duration) error {
	if t.loop == nil || cb == nil || timeout < 0 || repeat < 0 {
		return api.ErrInvalid.WithOp("timer start")
	}
	if t.IsClosing() {
		return api.ErrCanceled.WithOp("timer start")
	}
	t.Stop()
	t.cb = cb
	t.timeout = roundUp(timeout)
	t.repeat = roundUp(repeat)
	t.arm(t.loop.now + t.timeout)
	return nil
}

// Stop disarms t. Stopping an idle timer is a no-op.
func (t *Timer) Stop() {
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	t.Deactive()
}

// Again restarts a repeating timer using its repeat interval as the timeout.
// A timer that was never started reports api.ErrInvalid.
func (t *Timer) Again() error {
	if t.cb == nil {
		return api.ErrInvalid.WithOp("timer again")
	}
	if t.repeat == 0 {
		return nil
	}
	t.Stop()
	t.arm(t.loop.now + t.repeat)
	return nil
}

// SetRepeat changes the repeat interval used the next time t fires.
func (t *Timer) SetRepeat(repeat time.Duration) { t.repeat = roundUp(repeat) }

// Repeat returns the repeat interval.
func (t *Timer) Repeat() time.Duration { return t.repeat }

// Due returns the time left until t fires, or zero when it is overdue or not
// armed.
func (t *Timer) Due() time.Duration {
	if t.index < 0 || t.expiry <= t.loop.now {
		return 0
	}
	return t.expiry - t.loop.now
}

// Exit stops t and closes it.
func (t *Timer) Exit(cb func(*Timer)) {
	if cb == nil {
		t.Handle.Exit(nil)
		return
	}
	t.Handle.Exit(func(*Handle) { cb(t) })
}

func (t *Timer) arm(expiry time.Duration) {
	l := t.loop
	l.timerSeq++
	t.seq = l.timerSeq
	t.expiry = expiry
	heap.Push(&l.timers, t)
	t.Active()
}

// runTimers fires every timer due at the cached time. A repeating timer is
// re-armed from the cached time before its callback runs, so stopping it from
// the callback cancels the new instance and overload shows up as drift.
// Timers armed during the pass, re-arms included, wait for the next one.
func (l *Loop) runTimers() {
	last := l.timerSeq
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.expiry > l.now || t.seq > last {
			return
		}
		heap.Pop(&l.timers)
		if t.repeat != 0 {
			t.arm(l.now + t.repeat)
		} else {
			t.Deactive()
		}
		l.stats.timers.Inc()
		t.cb(t)
	}
}

// nextTimeout returns the time until the earliest timer, or -1 with no timers.
func (l *Loop) nextTimeout() time.Duration {
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].expiry - l.now
	if d < 0 {
		return 0
	}
	return d
}

func roundUp(d time.Duration) time.Duration {
	if r := d % time.Millisecond; r != 0 {
		d += time.Millisecond - r
	}
	return d
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiry != h[j].expiry {
		return h[i].expiry < h[j].expiry
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
