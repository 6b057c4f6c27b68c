//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/logging"
)

// epollMaxTimeout is the largest wait, in milliseconds, that every supported
// kernel honors. Older kernels convert the timeout to jiffies and silently
// truncate larger values, so longer waits are split.
const epollMaxTimeout = 1789569 * time.Millisecond

// Epoll is the readiness backend. It is owned by one loop and all methods
// except Wakeup run on that loop's thread.
type Epoll struct {
	cfg      Config
	log      *logging.Logger
	warn     *logging.Limiter
	epfd     int
	wakefd   int
	events   []unix.EpollEvent
	ios      map[int]*IO
	onWakeup func()
	closed   bool
}

var _ Readiness = (*Epoll)(nil)

// NewEpoll creates the epoll instance and its eventfd wakeup channel.
func NewEpoll(cfg Config) (*Epoll, error) {
	cfg.normalize()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.TranslateOp("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, api.TranslateOp("eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, api.TranslateOp("epoll_ctl", err)
	}

	return &Epoll{
		cfg:    cfg,
		log:    cfg.Logger,
		warn:   logging.DefaultLimiter(),
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, cfg.MaxEvents),
		ios:    make(map[int]*IO),
	}, nil
}

func (e *Epoll) Name() string { return "epoll" }

func (e *Epoll) MaxTimeout() time.Duration { return epollMaxTimeout }

func (e *Epoll) SetWakeupHandler(fn func()) { e.onWakeup = fn }

// Add takes one reference on each direction in events and updates the kernel
// registration when the effective interest changes.
func (e *Epoll) Add(io *IO, events Events) error {
	if e.closed || io == nil || io.Fd < 0 || io.Callback == nil {
		return api.ErrInvalid.WithOp("epoll add")
	}
	if cur, ok := e.ios[io.Fd]; ok && cur != io {
		return api.ErrAlreadyExists.WithOp("epoll add")
	}
	if events&EventRead != 0 {
		io.readRefs++
	}
	if events&EventWrite != 0 {
		io.writeRefs++
	}
	if err := e.sync(io); err != nil {
		if events&EventRead != 0 {
			io.readRefs--
		}
		if events&EventWrite != 0 {
			io.writeRefs--
		}
		return err
	}
	return nil
}

// Del drops one reference on each direction in events. Dropping a direction
// with no references is a no-op.
func (e *Epoll) Del(io *IO, events Events) error {
	if e.closed || io == nil {
		return api.ErrInvalid.WithOp("epoll del")
	}
	if events&EventRead != 0 && io.readRefs > 0 {
		io.readRefs--
	}
	if events&EventWrite != 0 && io.writeRefs > 0 {
		io.writeRefs--
	}
	return e.sync(io)
}

// sync brings the kernel registration of io in line with its reference counts.
func (e *Epoll) sync(io *IO) error {
	want := io.Interest()
	if want == io.registered {
		return nil
	}

	if want == 0 {
		err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, io.Fd, nil)
		io.registered = 0
		delete(e.ios, io.Fd)
		// The descriptor may already be closed, which removed it from the set.
		if err != nil && err != unix.ENOENT && err != unix.EBADF {
			return api.TranslateOp("epoll_ctl del", err)
		}
		return nil
	}

	ev := unix.EpollEvent{Events: epollMask(want), Fd: int32(io.Fd)}
	op := unix.EPOLL_CTL_MOD
	if io.registered == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(e.epfd, op, io.Fd, &ev); err != nil {
		return api.TranslateOp("epoll_ctl", err)
	}
	io.registered = want
	e.ios[io.Fd] = io
	return nil
}

// Wakeup makes a blocked or upcoming Poll return. Safe from any goroutine.
func (e *Epoll) Wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(e.wakefd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated, so a wakeup is pending.
			return nil
		case unix.EINTR:
			continue
		default:
			return api.TranslateOp("eventfd write", err)
		}
	}
}

// Poll waits up to timeout for readiness and dispatches callbacks. A full batch
// is followed by zero-timeout re-polls, at most MaxRounds in total.
func (e *Epoll) Poll(timeout time.Duration) error {
	if e.closed {
		return api.ErrInvalid.WithOp("epoll poll")
	}

	infinite := timeout < 0
	deadline := time.Now().Add(timeout)

	for round := 0; ; {
		wait := -1
		clamped := false
		if !infinite {
			ms, c := waitMillis(time.Until(deadline), epollMaxTimeout)
			wait, clamped = int(ms), c
		}

		n, err := unix.EpollWait(e.epfd, e.events, wait)
		if err != nil {
			if err == unix.EINTR {
				e.warn.Warning(e.log, "epoll_wait eintr").Log("epoll wait interrupted, retrying")
				if !infinite && !time.Now().Before(deadline) {
					return nil
				}
				continue
			}
			panic(fmt.Sprintf("reactor: epoll_wait: %v", err))
		}

		if n == 0 {
			if clamped && time.Now().Before(deadline) {
				continue
			}
			return nil
		}

		e.dispatch(n)

		round++
		if n < len(e.events) || round >= e.cfg.MaxRounds {
			return nil
		}
		infinite = false
		deadline = time.Now()
	}
}

func (e *Epoll) dispatch(n int) {
	woke := false
	for i := 0; i < n; i++ {
		ev := &e.events[i]
		fd := int(ev.Fd)
		if fd == e.wakefd {
			e.drainWakeup()
			woke = true
			continue
		}
		// A callback earlier in the batch may have removed this descriptor.
		io, ok := e.ios[fd]
		if !ok {
			continue
		}
		io.Callback(io, readyEvents(ev.Events))
	}
	if woke && e.onWakeup != nil {
		e.onWakeup()
	}
}

func (e *Epoll) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(e.wakefd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

// Close releases the epoll instance and the eventfd. Descriptors still
// registered are not closed; their owners are.
func (e *Epoll) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if len(e.ios) != 0 {
		e.log.Debug().Int("registered", len(e.ios)).Log("epoll closed with registered descriptors")
	}
	e.ios = nil
	err1 := unix.Close(e.wakefd)
	err2 := unix.Close(e.epfd)
	if err1 != nil {
		return api.TranslateOp("close", err1)
	}
	if err2 != nil {
		return api.TranslateOp("close", err2)
	}
	return nil
}

func epollMask(ev Events) uint32 {
	var m uint32
	if ev&EventRead != 0 {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func readyEvents(m uint32) Events {
	var ev Events
	if m&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		ev |= EventRead
	}
	if m&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if m&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if m&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}
