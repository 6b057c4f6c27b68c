// File: ipc/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

// WriteFunc completes a write request.
type WriteFunc func(req *WriteRequest, err error)

// WriteRequest is one outgoing frame. The payload slices must stay untouched
// until the callback runs.
type WriteRequest struct {
	Callback WriteFunc

	prefix [HeaderSize + extTagSize]byte
	bufs   [][]byte
	sendFd int
	fdSent bool
	queued bool
}

// SendFd returns the descriptor attached to the request, or -1. On Windows
// it is a SOCKET.
func (w *WriteRequest) SendFd() int { return w.sendFd }

// remaining reports whether unsent bytes are left.
func (w *WriteRequest) remaining() bool {
	for _, b := range w.bufs {
		if len(b) != 0 {
			return true
		}
	}
	return false
}

// advance drops n sent bytes from the front of bufs.
func (w *WriteRequest) advance(n int) {
	for n > 0 && len(w.bufs) > 0 {
		if n < len(w.bufs[0]) {
			w.bufs[0] = w.bufs[0][n:]
			return
		}
		n -= len(w.bufs[0])
		w.bufs = w.bufs[1:]
	}
}
