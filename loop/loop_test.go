//go:build linux || windows

package loop_test

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/control"
	"github.com/momentics/hioload-ev/loop"
)

func newLoop(t *testing.T, opts ...loop.Option) *loop.Loop {
	t.Helper()
	l, err := loop.New(opts...)
	require.NoError(t, err)
	return l
}

func TestZeroTimeoutTimerFiresOnNextIteration(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)

	calls := 0
	require.NoError(t, tm.Start(func(*loop.Timer) { calls++ }, 0, 0))
	assert.Equal(t, 0, calls, "start must not fire synchronously")

	more := l.Run(loop.RunDefault, -1)
	assert.False(t, more)
	assert.Equal(t, 1, calls)

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestRunWithoutWorkIsIdempotent(t *testing.T) {
	l := newLoop(t)
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.False(t, l.Run(loop.RunOnce, -1))
	assert.False(t, l.Run(loop.RunNoWait, -1))
	require.NoError(t, l.Exit())
}

func TestCloseCallbackIsDeferred(t *testing.T) {
	l := newLoop(t)
	var trigger, victim loop.Timer
	l.InitTimer(&trigger)
	l.InitTimer(&victim)

	var events []string
	require.NoError(t, trigger.Start(func(tm *loop.Timer) {
		victim.Exit(func(*loop.Timer) { events = append(events, "victim closed") })
		assert.True(t, victim.IsClosing())
		events = append(events, "trigger returned")
		tm.Exit(nil)
	}, 0, 0))

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, []string{"trigger returned", "victim closed"}, events)
	assert.True(t, victim.IsClosed())
	require.NoError(t, l.Exit())
}

func TestTimersFireInExpiryThenStartOrder(t *testing.T) {
	l := newLoop(t)
	var timers [5]loop.Timer
	var order []int
	start := func(i int, timeout time.Duration) {
		l.InitTimer(&timers[i])
		require.NoError(t, timers[i].Start(func(*loop.Timer) { order = append(order, i) }, timeout, 0))
	}
	start(0, 20*time.Millisecond)
	start(1, 5*time.Millisecond)
	start(2, 5*time.Millisecond)
	start(3, 0)
	start(4, 5*time.Millisecond)

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, []int{3, 1, 2, 4, 0}, order)

	for i := range timers {
		timers[i].Exit(nil)
	}
	require.NoError(t, l.Exit())
}

func TestRepeatingTimerStoppedFromCallback(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)

	calls := 0
	require.NoError(t, tm.Start(func(tm *loop.Timer) {
		calls++
		assert.True(t, tm.IsActive(), "repeating timer is re-armed before its callback")
		tm.Stop()
	}, time.Millisecond, time.Millisecond))

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, 1, calls)
	assert.False(t, tm.IsActive())

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestRepeatingTimerAndStop(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)

	calls := 0
	require.NoError(t, tm.Start(func(*loop.Timer) {
		calls++
		if calls == 3 {
			l.Stop()
		}
	}, time.Millisecond, time.Millisecond))

	assert.True(t, l.Run(loop.RunDefault, -1), "stopped loop still has an armed timer")
	assert.Equal(t, 3, calls)

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestComputeTimeout(t *testing.T) {
	l := newLoop(t)
	assert.Equal(t, time.Duration(-1), l.ComputeTimeout())

	var tm loop.Timer
	l.InitTimer(&tm)
	require.NoError(t, tm.Start(func(*loop.Timer) {}, 50*time.Millisecond, 0))
	assert.Equal(t, 50*time.Millisecond, l.ComputeTimeout())
	assert.Equal(t, 50*time.Millisecond, tm.Due())

	var todo loop.Todo
	l.SubmitTodo(&todo, func(*loop.Todo) {})
	assert.Equal(t, time.Duration(0), l.ComputeTimeout())
	require.True(t, l.CancelTodo(&todo))
	assert.Equal(t, 50*time.Millisecond, l.ComputeTimeout())

	l.Stop()
	assert.Equal(t, time.Duration(0), l.ComputeTimeout())

	// Run consumes the stop request without iterating.
	assert.True(t, l.Run(loop.RunDefault, -1))
	assert.LessOrEqual(t, l.ComputeTimeout(), 50*time.Millisecond)
	assert.GreaterOrEqual(t, l.ComputeTimeout(), time.Duration(0))

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestRunTimeoutBoundsDefaultMode(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)
	require.NoError(t, tm.Start(func(*loop.Timer) {}, time.Hour, 0))

	begin := time.Now()
	assert.True(t, l.Run(loop.RunDefault, 20*time.Millisecond))
	assert.Less(t, time.Since(begin), 10*time.Second)

	assert.True(t, l.Run(loop.RunNoWait, -1))

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestRunOnceFiresDueTimer(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)
	fired := false
	require.NoError(t, tm.Start(func(*loop.Timer) { fired = true }, 5*time.Millisecond, 0))

	assert.False(t, l.Run(loop.RunOnce, -1))
	assert.True(t, fired)

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestTodoDrainOrder(t *testing.T) {
	l := newLoop(t)
	var a, b, c, chained loop.Todo
	var order []string

	l.SubmitTodo(&a, func(*loop.Todo) {
		order = append(order, "a")
		l.SubmitTodo(&chained, func(*loop.Todo) { order = append(order, "chained") })
	})
	l.SubmitTodo(&b, func(*loop.Todo) { order = append(order, "b") })
	l.SubmitTodo(&c, func(*loop.Todo) { order = append(order, "c") })
	assert.True(t, b.Pending())
	assert.True(t, l.CancelTodo(&b))
	assert.False(t, l.CancelTodo(&b))

	assert.False(t, l.Run(loop.RunNoWait, -1))
	assert.Equal(t, []string{"a", "c", "chained"}, order)
	require.NoError(t, l.Exit())
}

func TestTodoSubmittedTwicePanics(t *testing.T) {
	l := newLoop(t)
	var td loop.Todo
	l.SubmitTodo(&td, func(*loop.Todo) {})
	assert.Panics(t, func() { l.SubmitTodo(&td, func(*loop.Todo) {}) })
	l.Run(loop.RunNoWait, -1)
	require.NoError(t, l.Exit())
}

func TestHandleClosedTwicePanics(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)
	tm.Exit(nil)
	assert.True(t, tm.IsClosing())
	assert.Panics(t, func() { tm.Exit(nil) })
	require.NoError(t, l.Exit())
}

func TestStartOnClosingTimerFails(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)
	closed := 0
	tm.Exit(func(*loop.Timer) { closed++ })

	err := tm.Start(func(*loop.Timer) {}, 0, 0)
	assert.ErrorIs(t, err, api.ErrCanceled)

	require.ErrorIs(t, l.Exit(), api.ErrBusy, "close callback still queued")
	l.Run(loop.RunDefault, -1)
	assert.Equal(t, 1, closed)
	require.NoError(t, l.Exit())
}

func TestExitBusyWhileHandlesOpen(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)
	assert.ErrorIs(t, l.Exit(), api.ErrBusy)
	tm.Exit(nil)
	require.NoError(t, l.Exit())
	assert.ErrorIs(t, l.Post(func() {}), api.ErrNotAvailable)
}

func TestWalkVisitsEachHandleOnce(t *testing.T) {
	l := newLoop(t)
	var timers [4]loop.Timer
	for i := range timers {
		l.InitTimer(&timers[i])
	}
	require.NoError(t, timers[1].Start(func(*loop.Timer) {}, time.Hour, 0))

	seen := map[*loop.Handle]int{}
	l.Walk(func(h *loop.Handle) bool {
		seen[h]++
		assert.Equal(t, loop.RoleTimer, h.Role())
		// Moving a handle between sets mid-walk must not revisit it.
		if h == &timers[0].Handle {
			h.Active()
		}
		return false
	})
	assert.Len(t, seen, 4)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}

	visited := 0
	l.Walk(func(*loop.Handle) bool {
		visited++
		return true
	})
	assert.Equal(t, 1, visited)

	timers[0].Deactive()
	for i := range timers {
		timers[i].Exit(nil)
	}
	require.NoError(t, l.Exit())
}

func TestPostFromOtherGoroutines(t *testing.T) {
	metrics := control.NewMetricsRegistry()
	l := newLoop(t, loop.WithMetrics(metrics))

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Post(func() {
				mu.Lock()
				ran++
				mu.Unlock()
			}))
		}()
	}
	wg.Wait()

	assert.True(t, l.Alive(), "posted functions keep the loop alive")
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, n, ran)

	v, ok := metrics.Get("loop.inbound_run")
	require.True(t, ok)
	assert.Equal(t, int64(n), v)
	require.NoError(t, l.Exit())
}

func TestAsyncWakeupsCoalesce(t *testing.T) {
	l := newLoop(t)
	var a loop.Async
	calls := 0
	require.NoError(t, l.InitAsync(&a, func(a *loop.Async) {
		calls++
		a.Exit(nil)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Wakeup())
		}()
	}
	wg.Wait()

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, 1, calls)
	require.NoError(t, l.Exit())
}

func TestAsyncWakesBlockedPoll(t *testing.T) {
	l := newLoop(t)
	var a loop.Async
	woken := 0
	require.NoError(t, l.InitAsync(&a, func(a *loop.Async) {
		woken++
		a.Exit(nil)
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = a.Wakeup()
	}()
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, 1, woken)
	require.NoError(t, l.Exit())
}

func TestProbes(t *testing.T) {
	l := newLoop(t)
	dp := control.NewDebugProbes()
	l.RegisterProbes(dp, "loop0")

	var td loop.Todo
	l.SubmitTodo(&td, func(*loop.Todo) {})
	l.Run(loop.RunNoWait, -1)

	state := dp.DumpState()
	assert.NotEmpty(t, state["loop0.backend"])
	assert.GreaterOrEqual(t, state["loop0.todos_run"], int64(1))
	assert.Equal(t, runtime.NumCPU(), state["platform.cpus"])
	require.NoError(t, l.Exit())
}

func TestAllocatorIsFixedAtConstruction(t *testing.T) {
	heap := api.HeapAllocator{}
	l := newLoop(t, loop.WithAllocator(heap))
	assert.Equal(t, api.Allocator(heap), l.Allocator())
	require.NoError(t, l.Exit())

	m := control.NewMetricsRegistry()
	l = newLoop(t, loop.WithMetrics(m))
	b := l.Allocator().Alloc(1000)
	assert.Len(t, b, 1000)
	l.Allocator().Free(b)
	assert.Equal(t, int64(1), m.GetSnapshot()["pool.frees"])
	require.NoError(t, l.Exit())
}

func TestTimerRestartedFromCallbackWaitsForNextIteration(t *testing.T) {
	l := newLoop(t)
	var tm loop.Timer
	l.InitTimer(&tm)

	fires := 0
	var restart func(*loop.Timer)
	restart = func(tm *loop.Timer) {
		fires++
		if fires < 1000 {
			require.NoError(t, tm.Start(restart, 0, 0))
		}
	}
	require.NoError(t, tm.Start(restart, 0, 0))

	assert.True(t, l.Run(loop.RunNoWait, -1))
	assert.Equal(t, 1, fires)
	assert.True(t, l.Run(loop.RunNoWait, -1))
	assert.Equal(t, 2, fires)

	tm.Exit(nil)
	require.NoError(t, l.Exit())
}

func TestClosingThroughHandleReleasesTimerAndAsync(t *testing.T) {
	l := newLoop(t)
	var once, repeating loop.Timer
	var a loop.Async
	l.InitTimer(&once)
	l.InitTimer(&repeating)
	fired := 0
	require.NoError(t, once.Start(func(*loop.Timer) { fired++ }, 10*time.Millisecond, 0))
	require.NoError(t, repeating.Start(func(*loop.Timer) { fired++ }, time.Millisecond, time.Millisecond))
	asyncCalls := 0
	require.NoError(t, l.InitAsync(&a, func(*loop.Async) { asyncCalls++ }))
	require.NoError(t, a.Wakeup())

	closed := 0
	l.Walk(func(h *loop.Handle) bool {
		h.Exit(func(*loop.Handle) { closed++ })
		return false
	})
	assert.True(t, once.IsClosing())
	assert.False(t, a.IsActive())
	assert.Zero(t, once.Due())
	assert.Zero(t, repeating.Due())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, 3, closed)
	assert.Zero(t, fired)
	assert.Zero(t, asyncCalls)
	require.NoError(t, l.Exit())
}

type recordingPool struct{ unlinked int }

func (p *recordingPool) Unlink(l *loop.Loop) {
	p.unlinked++
	l.UnlinkPool()
}

func TestRefusedExitKeepsPoolLink(t *testing.T) {
	l := newLoop(t)
	p := &recordingPool{}
	l.Link(p)

	ran := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, l.Post(func() { ran = true }))
	}()
	<-done

	assert.ErrorIs(t, l.Exit(), api.ErrBusy)
	assert.Zero(t, p.unlinked)
	assert.Same(t, p, l.LinkedPool())

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.True(t, ran)
	require.NoError(t, l.Exit())
	assert.Equal(t, 1, p.unlinked)
	assert.Nil(t, l.LinkedPool())
}
