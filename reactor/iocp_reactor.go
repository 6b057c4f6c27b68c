//go:build windows

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Windows IOCP implementation.
package reactor

import (
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/logging"
)

// iocpMaxTimeout stays below INFINITE (0xFFFFFFFF ms).
const iocpMaxTimeout = 0xFFFFFFFE * time.Millisecond

// wakeupKey is the completion key reserved for Wakeup posts.
const wakeupKey = ^uintptr(0)

// CompletionFunc receives the outcome of one overlapped operation.
type CompletionFunc func(op *Operation, transferred uint32, err error)

// Operation is the per-operation completion token. The embedded Overlapped
// must stay first so the pointer the kernel hands back converts to *Operation.
type Operation struct {
	windows.Overlapped
	Callback CompletionFunc
	// Data is free for the issuing protocol layer.
	Data any
}

// IOCP is the completion backend. Completions are demultiplexed by their
// Operation token only; completion keys other than the wakeup key are opaque.
type IOCP struct {
	cfg      Config
	log      *logging.Logger
	warn     *logging.Limiter
	port     windows.Handle
	pending  map[*Operation]struct{}
	woken    atomic.Bool
	onWakeup func()
	closed   bool
}

// NewIOCP creates a completion port.
func NewIOCP(cfg Config) (*IOCP, error) {
	cfg.normalize()
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return nil, api.TranslateOp("CreateIoCompletionPort", err)
	}
	return &IOCP{
		cfg:     cfg,
		log:     cfg.Logger,
		warn:    logging.DefaultLimiter(),
		port:    port,
		pending: make(map[*Operation]struct{}),
	}, nil
}

func (p *IOCP) Name() string { return "iocp" }

func (p *IOCP) MaxTimeout() time.Duration { return iocpMaxTimeout }

func (p *IOCP) SetWakeupHandler(fn func()) { p.onWakeup = fn }

// Associate binds h to the port. Completions for overlapped operations on h
// are delivered by the next Poll.
func (p *IOCP) Associate(h windows.Handle, key uintptr) error {
	if key == wakeupKey {
		return api.ErrInvalid.WithOp("iocp associate")
	}
	if _, err := windows.CreateIoCompletionPort(h, p.port, key, 0); err != nil {
		return api.TranslateOp("CreateIoCompletionPort", err)
	}
	return nil
}

// Track records op as in flight. Call it before issuing the overlapped call;
// the op stays reachable until its completion is dequeued.
func (p *IOCP) Track(op *Operation) {
	if _, ok := p.pending[op]; ok {
		api.Violate("iocp: operation tracked twice")
	}
	p.pending[op] = struct{}{}
}

// Untrack forgets op after the issuing call failed synchronously and no
// completion packet will be queued.
func (p *IOCP) Untrack(op *Operation) {
	delete(p.pending, op)
}

// Pending returns the number of operations awaiting completion.
func (p *IOCP) Pending() int { return len(p.pending) }

// PostCompletion queues a synthetic completion for op. The op is tracked.
func (p *IOCP) PostCompletion(op *Operation, transferred uint32) error {
	p.Track(op)
	if err := windows.PostQueuedCompletionStatus(p.port, transferred, 0, &op.Overlapped); err != nil {
		p.Untrack(op)
		return api.TranslateOp("PostQueuedCompletionStatus", err)
	}
	return nil
}

// Wakeup posts a completion with the reserved key. Concurrent wakeups before
// the next Poll collapse into one packet.
func (p *IOCP) Wakeup() error {
	if !p.woken.CompareAndSwap(false, true) {
		return nil
	}
	if err := windows.PostQueuedCompletionStatus(p.port, 0, wakeupKey, nil); err != nil {
		p.woken.Store(false)
		return api.TranslateOp("PostQueuedCompletionStatus", err)
	}
	return nil
}

// Poll dequeues up to MaxEvents*MaxRounds completions. Only the first wait
// blocks; the rest use a zero timeout and stop at the first empty dequeue.
func (p *IOCP) Poll(timeout time.Duration) error {
	if p.closed {
		return api.ErrInvalid.WithOp("iocp poll")
	}

	infinite := timeout < 0
	deadline := time.Now().Add(timeout)
	budget := p.cfg.MaxEvents * p.cfg.MaxRounds

	for got := 0; got < budget; {
		wait := uint32(windows.INFINITE)
		if got > 0 {
			wait = 0
		} else if !infinite {
			ms, _ := waitMillis(time.Until(deadline), iocpMaxTimeout)
			wait = uint32(ms)
		}

		var (
			qty uint32
			key uintptr
			ov  *windows.Overlapped
		)
		err := windows.GetQueuedCompletionStatus(p.port, &qty, &key, &ov, wait)
		if ov == nil {
			if err == nil {
				if key == wakeupKey {
					p.woken.Store(false)
					if p.onWakeup != nil {
						p.onWakeup()
					}
				}
				got++
				continue
			}
			if err == windows.Errno(windows.WAIT_TIMEOUT) {
				// The wait may end early at timer granularity.
				if got == 0 && !infinite && time.Now().Before(deadline) {
					p.warn.Warning(p.log, "iocp early return").Log("completion wait returned before deadline, re-waiting")
					continue
				}
				return nil
			}
			panic(fmt.Sprintf("reactor: GetQueuedCompletionStatus: %v", err))
		}

		op := (*Operation)(unsafe.Pointer(ov))
		delete(p.pending, op)
		got++
		if op.Callback != nil {
			op.Callback(op, qty, api.Translate(err))
		}
	}
	return nil
}

// Close releases the port. Operations still in flight are abandoned.
func (p *IOCP) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if n := len(p.pending); n != 0 {
		p.log.Debug().Int("pending", n).Log("iocp closed with operations in flight")
	}
	p.pending = nil
	if err := windows.CloseHandle(p.port); err != nil {
		return api.TranslateOp("CloseHandle", err)
	}
	return nil
}
