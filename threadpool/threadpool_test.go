//go:build linux || windows

package threadpool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/control"
	"github.com/momentics/hioload-ev/loop"
	"github.com/momentics/hioload-ev/threadpool"
)

func setup(t *testing.T, threads int) (*loop.Loop, *threadpool.Pool) {
	t.Helper()
	l, err := loop.New()
	require.NoError(t, err)
	p, err := threadpool.New(threadpool.WithThreads(threads))
	require.NoError(t, err)
	require.NoError(t, p.Link(l))
	t.Cleanup(p.Exit)
	return l, p
}

// blocker occupies one worker until release is closed.
func blocker(t *testing.T, l *loop.Loop, p *threadpool.Pool) (w *threadpool.Work, started <-chan struct{}, release chan struct{}) {
	t.Helper()
	w = new(threadpool.Work)
	s := make(chan struct{})
	release = make(chan struct{})
	require.NoError(t, p.Submit(l, w, threadpool.ClassCPU, func(*threadpool.Work) {
		close(s)
		<-release
	}, func(*threadpool.Work, error) {}))
	<-s
	return w, s, release
}

func TestSubmitCompletesOnLoop(t *testing.T) {
	l, p := setup(t, 2)

	const n = 16
	works := make([]threadpool.Work, n)
	var ran atomic.Int32
	done := 0
	for i := range works {
		require.NoError(t, p.Submit(l, &works[i], threadpool.ClassCPU,
			func(*threadpool.Work) { ran.Inc() },
			func(w *threadpool.Work, err error) {
				assert.NoError(t, err)
				assert.Equal(t, threadpool.StatusDone, w.Status())
				assert.False(t, w.IsActive())
				done++
			}))
		assert.True(t, works[i].IsActive())
	}

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, int32(n), ran.Load())
	assert.Equal(t, n, done)

	// A completed item can be submitted again.
	require.NoError(t, p.Submit(l, &works[0], threadpool.ClassFastIO,
		func(*threadpool.Work) {}, func(*threadpool.Work, error) { done++ }))
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, n+1, done)

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestCancelQueuedWork(t *testing.T) {
	l, p := setup(t, 1)
	_, _, release := blocker(t, l, p)

	var w threadpool.Work
	ran := false
	var got error
	calls := 0
	require.NoError(t, p.Submit(l, &w, threadpool.ClassSlowIO,
		func(*threadpool.Work) { ran = true },
		func(_ *threadpool.Work, err error) { got = err; calls++ }))

	require.NoError(t, p.Cancel(&w))
	assert.ErrorIs(t, p.Cancel(&w), api.ErrBusy)
	close(release)

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, got, api.ErrCanceled)
	assert.Equal(t, threadpool.StatusCanceled, w.Status())

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestCancelRunningWorkFails(t *testing.T) {
	l, p := setup(t, 1)
	w, _, release := blocker(t, l, p)

	assert.ErrorIs(t, p.Cancel(w), api.ErrBusy)
	close(release)
	assert.False(t, l.Run(loop.RunDefault, -1))

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestCancelRaceHasExactlyOneOutcome(t *testing.T) {
	l, p := setup(t, 4)

	const n = 200
	works := make([]threadpool.Work, n)
	ran := make([]atomic.Bool, n)
	canceled := make([]bool, n)
	outcomes := make([]error, n)
	calls := make([]int, n)

	for i := range works {
		i := i
		require.NoError(t, p.Submit(l, &works[i], threadpool.ClassCPU,
			func(*threadpool.Work) { ran[i].Store(true) },
			func(_ *threadpool.Work, err error) {
				outcomes[i] = err
				calls[i]++
			}))
		err := p.Cancel(&works[i])
		if err == nil {
			canceled[i] = true
		} else {
			assert.ErrorIs(t, err, api.ErrBusy)
		}
	}

	assert.False(t, l.Run(loop.RunDefault, -1))
	for i := range works {
		require.Equal(t, 1, calls[i], "item %d", i)
		if canceled[i] {
			assert.False(t, ran[i].Load(), "item %d", i)
			assert.ErrorIs(t, outcomes[i], api.ErrCanceled, "item %d", i)
		} else {
			assert.True(t, ran[i].Load(), "item %d", i)
			assert.NoError(t, outcomes[i], "item %d", i)
		}
	}

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestClassPriority(t *testing.T) {
	l, p := setup(t, 1)
	_, _, release := blocker(t, l, p)

	var mu sync.Mutex
	var order []string
	submit := func(name string, class threadpool.Class) {
		w := new(threadpool.Work)
		require.NoError(t, p.Submit(l, w, class, func(*threadpool.Work) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}, func(*threadpool.Work, error) {}))
	}
	submit("slow", threadpool.ClassSlowIO)
	submit("cpu1", threadpool.ClassCPU)
	submit("fast", threadpool.ClassFastIO)
	submit("cpu2", threadpool.ClassCPU)

	close(release)
	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, []string{"fast", "cpu1", "cpu2", "slow"}, order)

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestExitCancelsQueuedWork(t *testing.T) {
	l, p := setup(t, 1)
	_, _, release := blocker(t, l, p)

	results := map[int]error{}
	for i := 0; i < 3; i++ {
		i := i
		w := new(threadpool.Work)
		require.NoError(t, p.Submit(l, w, threadpool.ClassCPU,
			func(*threadpool.Work) { t.Error("canceled body ran") },
			func(_ *threadpool.Work, err error) { results[i] = err }))
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		p.Exit()
	}()
	require.Eventually(t, func() bool { return !p.Running() }, 5*time.Second, time.Millisecond)
	close(release)
	<-exited

	assert.False(t, l.Run(loop.RunDefault, -1))
	require.Len(t, results, 3)
	for _, err := range results {
		assert.ErrorIs(t, err, api.ErrCanceled)
	}

	var late threadpool.Work
	err := p.Submit(l, &late, threadpool.ClassCPU, func(*threadpool.Work) {}, func(*threadpool.Work, error) {})
	assert.ErrorIs(t, err, api.ErrNotAvailable)
	assert.False(t, late.IsActive())
	require.NoError(t, l.Exit())
}

func TestUnlinkCancelsQueuedWorkForThatLoop(t *testing.T) {
	l, p := setup(t, 1)
	_, _, release := blocker(t, l, p)

	const n = 5
	calls := 0
	for i := 0; i < n; i++ {
		w := new(threadpool.Work)
		require.NoError(t, threadpool.QueueWork(l, w, threadpool.ClassSlowIO,
			func(*threadpool.Work) {},
			func(_ *threadpool.Work, err error) {
				assert.ErrorIs(t, err, api.ErrCanceled)
				calls++
			}))
	}

	p.Unlink(l)
	assert.Nil(t, l.LinkedPool())
	close(release)

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, n, calls)

	var w threadpool.Work
	err := threadpool.QueueWork(l, &w, threadpool.ClassCPU, func(*threadpool.Work) {}, func(*threadpool.Work, error) {})
	assert.ErrorIs(t, err, api.ErrNoThreadPool)

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestWorkPanicIsReported(t *testing.T) {
	l, p := setup(t, 1)
	var w threadpool.Work
	var got error
	require.NoError(t, p.Submit(l, &w, threadpool.ClassCPU,
		func(*threadpool.Work) { panic("boom") },
		func(_ *threadpool.Work, err error) { got = err }))

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, api.Unknown, api.CodeOf(got))

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestMetricsAndStats(t *testing.T) {
	m := control.NewMetricsRegistry()
	l, err := loop.New()
	require.NoError(t, err)
	p, err := threadpool.New(threadpool.WithThreads(2), threadpool.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, p.Link(l))

	for i := 0; i < 4; i++ {
		w := new(threadpool.Work)
		require.NoError(t, p.Submit(l, w, threadpool.ClassFastIO, func(*threadpool.Work) {}, func(*threadpool.Work, error) {}))
	}
	l.Run(loop.RunDefault, -1)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(4), snap["threadpool.submitted"])
	assert.Equal(t, int64(4), snap["threadpool.completed"])

	dp := control.NewDebugProbes()
	p.RegisterProbes(dp, "pool")
	stats := dp.DumpState()["pool.stats"].(map[string]int64)
	assert.Equal(t, int64(2), stats["threads"])
	assert.Equal(t, int64(0), stats["queued.fast_io"])

	p.Exit()
	require.NoError(t, l.Exit())
}

func TestInvalidConfig(t *testing.T) {
	_, err := threadpool.New(threadpool.WithThreads(0))
	assert.ErrorIs(t, err, api.ErrInvalid)
}
