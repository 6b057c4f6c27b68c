// File: ipc/encoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame encoding: one header per logical frame, payload in any number of
// writes.

package ipc

import (
	"io"

	"github.com/momentics/hioload-ev/api"
)

// FramePrefix returns the header and extension block for a frame whose
// payload is the concatenation of payload.
func FramePrefix(dst []byte, ext *Extension, payload ...[]byte) ([]byte, error) {
	total := 0
	for _, p := range payload {
		total += len(p)
	}
	extra := 0
	if ext != nil {
		extra = ext.Size()
	}
	h, err := InitFrameHeader(extra, total)
	if err != nil {
		return dst, err
	}
	dst = h.AppendTo(dst)
	if ext != nil {
		dst = ext.AppendTo(dst)
	}
	return dst, nil
}

// AppendFrame appends a complete frame to dst.
func AppendFrame(dst []byte, ext *Extension, payload ...[]byte) ([]byte, error) {
	dst, err := FramePrefix(dst, ext, payload...)
	if err != nil {
		return dst, err
	}
	for _, p := range payload {
		dst = append(dst, p...)
	}
	return dst, nil
}

// Encoder streams frames to a writer. Begin writes the header and extension,
// Write streams payload and End checks the declared size was honored.
//
// A failed write leaves a partial frame on the stream, which the peer cannot
// resynchronize past. The encoder is then broken: the open frame is dropped
// and every later call returns the write error.
type Encoder struct {
	w       io.Writer
	scratch []byte
	left    uint32
	open    bool
	err     error
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, scratch: make([]byte, 0, HeaderSize+64)}
}

// Begin starts a frame with dataSize bytes of payload.
func (e *Encoder) Begin(ext *Extension, dataSize int) error {
	if e.err != nil {
		return e.err
	}
	if e.open {
		return api.ErrInProgress.WithOp("ipc encoder begin")
	}
	extra := 0
	if ext != nil {
		extra = ext.Size()
	}
	h, err := InitFrameHeader(extra, dataSize)
	if err != nil {
		return err
	}
	b := h.AppendTo(e.scratch[:0])
	if ext != nil {
		b = ext.AppendTo(b)
	}
	e.scratch = b[:0]
	if _, err := e.w.Write(b); err != nil {
		return e.fail(err)
	}
	e.left = h.DataSize
	e.open = true
	return nil
}

// Write streams payload bytes of the open frame. Writing past the declared
// size is api.ErrMsgTooBig and writes nothing.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.open {
		return 0, api.ErrInvalid.WithOp("ipc encoder write")
	}
	if uint64(len(p)) > uint64(e.left) {
		return 0, api.ErrMsgTooBig.WithOp("ipc encoder write")
	}
	n, err := e.w.Write(p)
	e.left -= uint32(n)
	if err != nil {
		return n, e.fail(err)
	}
	return n, nil
}

// End closes the frame. It fails with api.ErrProtocol when payload bytes are
// still owed.
func (e *Encoder) End() error {
	if e.err != nil {
		return e.err
	}
	if !e.open {
		return api.ErrInvalid.WithOp("ipc encoder end")
	}
	if e.left != 0 {
		return api.ErrProtocol.WithOp("ipc encoder end")
	}
	e.open = false
	return nil
}

// Err returns the write error that broke the encoder, or nil.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(err error) error {
	e.err = err
	e.open = false
	e.left = 0
	return err
}

// WriteFrame writes a whole frame.
func (e *Encoder) WriteFrame(ext *Extension, payload ...[]byte) error {
	total := 0
	for _, p := range payload {
		total += len(p)
	}
	if err := e.Begin(ext, total); err != nil {
		return err
	}
	for _, p := range payload {
		if _, err := e.Write(p); err != nil {
			return err
		}
	}
	return e.End()
}
