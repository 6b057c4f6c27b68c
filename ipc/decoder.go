// File: ipc/decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Resumable frame decoder. Input arrives in arbitrary chunks; the decoder
// keeps its position inside the header, the extension block and the payload
// across calls, along with the destination cursor of the current read.

package ipc

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-ev/api"
)

// ReadFunc completes a read request. n is the number of payload bytes
// stored in the request's buffers.
type ReadFunc func(req *ReadRequest, n int, err error)

// ReadRequest receives payload bytes. It completes when its buffers are full
// or when the frame feeding it ends, whichever happens first, so a request
// never mixes bytes of two frames.
type ReadRequest struct {
	Bufs     [][]byte
	Callback ReadFunc

	n         int
	bi, off   int
	handle    int
	hasHandle bool
	queued    bool
}

// N returns the bytes received so far.
func (r *ReadRequest) N() int { return r.n }

// Handle returns the descriptor that arrived with the request's frame. The
// receiver owns it.
func (r *ReadRequest) Handle() (fd int, ok bool) { return r.handle, r.hasHandle }

func (r *ReadRequest) reset() {
	r.n, r.bi, r.off = 0, 0, 0
	r.handle, r.hasHandle = -1, false
}

func (r *ReadRequest) capacity() int {
	c := 0
	for _, b := range r.Bufs {
		c += len(b)
	}
	return c
}

func (r *ReadRequest) full() bool {
	for r.bi < len(r.Bufs) && r.off == len(r.Bufs[r.bi]) {
		r.bi++
		r.off = 0
	}
	return r.bi >= len(r.Bufs)
}

// fill copies from p into the remaining buffer space and returns the count.
func (r *ReadRequest) fill(p []byte) int {
	total := 0
	for len(p) > 0 && !r.full() {
		c := copy(r.Bufs[r.bi][r.off:], p)
		r.off += c
		p = p[c:]
		total += c
	}
	r.n += total
	return total
}

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateExt
	stateData
)

// Decoder turns a byte stream into completed read requests.
type Decoder struct {
	state decodeState
	hbuf  [HeaderSize]byte
	hn    int
	hdr   Header
	ebuf  []byte
	en    int
	left  uint32

	frameHandle    int
	frameHasHandle bool

	reqs *queue.Queue
	fds  *queue.Queue
	// importHandle rebuilds a descriptor carried inside a handle extension.
	// Without it, handle frames claim descriptors pushed by PushHandle.
	importHandle func(descriptor []byte) (int, error)

	peerPid uint32
	havePid bool
	frames  uint64
	err     error
}

// NewDecoder returns a decoder positioned at a frame boundary.
func NewDecoder() *Decoder {
	return &Decoder{
		reqs:        queue.New(),
		fds:         queue.New(),
		frameHandle: -1,
	}
}

// Submit queues req behind earlier requests. A request without buffer
// space is api.ErrInvalid; submitting a queued request is a contract
// violation.
func (d *Decoder) Submit(req *ReadRequest) error {
	if req.queued {
		api.Violate("ipc: read request submitted twice")
	}
	if req.capacity() == 0 {
		return api.ErrInvalid.WithOp("ipc read")
	}
	req.reset()
	req.queued = true
	d.reqs.Add(req)
	return nil
}

// Pending returns the number of queued requests.
func (d *Decoder) Pending() int { return d.reqs.Length() }

// PushHandle hands the decoder a descriptor received out of band. The next
// handle extension claims it.
func (d *Decoder) PushHandle(fd int) { d.fds.Add(fd) }

// PeerPid returns the process id announced by the peer.
func (d *Decoder) PeerPid() (pid int, ok bool) { return int(d.peerPid), d.havePid }

// Frames returns the number of frames fully decoded.
func (d *Decoder) Frames() uint64 { return d.frames }

// Err returns the sticky protocol error, if any.
func (d *Decoder) Err() error { return d.err }

// Stalled reports whether the decoder needs a read request before it can
// consume more input.
func (d *Decoder) Stalled() bool {
	return d.err == nil && d.state == stateData && d.reqs.Length() == 0
}

// Feed consumes bytes from p and returns how many it used together with the
// requests completed, in order. Feed stops early when payload is available
// but no request is queued; the caller keeps the rest of p for later. A
// protocol error is sticky and ends decoding.
func (d *Decoder) Feed(p []byte) (n int, done []*ReadRequest, err error) {
	if d.err != nil {
		return 0, nil, d.err
	}
	for {
		switch d.state {
		case stateHeader:
			if n == len(p) {
				return n, done, nil
			}
			c := copy(d.hbuf[d.hn:], p[n:])
			d.hn += c
			n += c
			if d.hn < HeaderSize {
				return n, done, nil
			}
			d.hn = 0
			h, err := ParseHeader(d.hbuf[:])
			if err != nil {
				d.err = err
				return n, done, err
			}
			d.hdr = h
			d.left = h.DataSize
			if h.HasExtension() {
				if cap(d.ebuf) < int(h.ExtraSize) {
					d.ebuf = make([]byte, h.ExtraSize)
				}
				d.ebuf = d.ebuf[:h.ExtraSize]
				d.en = 0
				d.state = stateExt
			} else {
				d.state = stateData
			}

		case stateExt:
			if n == len(p) {
				return n, done, nil
			}
			c := copy(d.ebuf[d.en:], p[n:])
			d.en += c
			n += c
			if d.en < len(d.ebuf) {
				return n, done, nil
			}
			ext, err := ParseExtension(d.ebuf)
			if err != nil {
				d.err = err
				return n, done, err
			}
			d.state = stateData
			switch ext.Type {
			case ExtStatus:
				d.peerPid, d.havePid = ext.Pid, true
				if d.left == 0 {
					d.endFrame()
				}
			case ExtHandle:
				if len(ext.Descriptor) != 0 && d.importHandle != nil {
					fd, err := d.importHandle(ext.Descriptor)
					if err != nil {
						d.err = api.Wrap(api.Protocol, "ipc handle import", err)
						return n, done, d.err
					}
					d.frameHandle, d.frameHasHandle = fd, true
					break
				}
				fd, ok := d.popHandle()
				if !ok {
					d.err = api.ErrProtocol.WithOp("ipc handle frame without descriptor")
					return n, done, d.err
				}
				d.frameHandle, d.frameHasHandle = fd, true
			}

		case stateData:
			if d.reqs.Length() == 0 {
				return n, done, nil
			}
			req := d.reqs.Peek().(*ReadRequest)
			if d.frameHasHandle {
				req.handle, req.hasHandle = d.frameHandle, true
				d.frameHandle, d.frameHasHandle = -1, false
			}
			if d.left == 0 {
				done = append(done, d.complete())
				d.endFrame()
				continue
			}
			if n == len(p) {
				return n, done, nil
			}
			chunk := p[n:]
			if uint64(len(chunk)) > uint64(d.left) {
				chunk = chunk[:d.left]
			}
			c := req.fill(chunk)
			n += c
			d.left -= uint32(c)
			switch {
			case d.left == 0:
				done = append(done, d.complete())
				d.endFrame()
			case req.full():
				done = append(done, d.complete())
			}
		}
	}
}

func (d *Decoder) complete() *ReadRequest {
	req := d.reqs.Remove().(*ReadRequest)
	req.queued = false
	return req
}

func (d *Decoder) endFrame() {
	d.state = stateHeader
	d.frames++
}

func (d *Decoder) popHandle() (int, bool) {
	if d.fds.Length() == 0 {
		return -1, false
	}
	return d.fds.Remove().(int), true
}

// Drain removes every queued request, in order, for cancellation.
func (d *Decoder) Drain() []*ReadRequest {
	out := make([]*ReadRequest, 0, d.reqs.Length())
	for d.reqs.Length() > 0 {
		out = append(out, d.complete())
	}
	return out
}

// DrainHandles returns every descriptor not yet delivered to a request.
func (d *Decoder) DrainHandles() []int {
	var out []int
	if d.frameHasHandle {
		out = append(out, d.frameHandle)
		d.frameHandle, d.frameHasHandle = -1, false
	}
	for d.fds.Length() > 0 {
		out = append(out, d.fds.Remove().(int))
	}
	return out
}
