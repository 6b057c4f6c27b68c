//go:build !linux && !windows

// File: ipc/pipe_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import (
	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/loop"
)

// Pipe is not available on this platform; the framing codec is.
type Pipe struct {
	loop.Handle
}

// NewPair fails with api.ErrNotSupported.
func NewPair(*loop.Loop) (*Pipe, *Pipe, error) {
	return nil, nil, api.ErrNotSupported.WithOp("ipc socketpair")
}

// Open fails with api.ErrNotSupported.
func Open(*loop.Loop, int) (*Pipe, error) {
	return nil, api.ErrNotSupported.WithOp("ipc open")
}

func (p *Pipe) Fd() int { return -1 }

func (p *Pipe) PeerPid() (int, bool) { return 0, false }

func (p *Pipe) Write(*WriteRequest, [][]byte, int, WriteFunc) error {
	return api.ErrNotSupported.WithOp("ipc write")
}

func (p *Pipe) Read(*ReadRequest, [][]byte, ReadFunc) error {
	return api.ErrNotSupported.WithOp("ipc read")
}

func (p *Pipe) Exit(cb func(*Pipe)) {
	if cb == nil {
		p.Handle.Exit(nil)
		return
	}
	p.Handle.Exit(func(*loop.Handle) { cb(p) })
}
