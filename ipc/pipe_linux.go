//go:build linux

// File: ipc/pipe_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Framed duplex pipe over an AF_UNIX stream socket. Descriptors travel as
// SCM_RIGHTS ancillary data attached to the first byte of their frame.

package ipc

import (
	"os"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/logging"
	"github.com/momentics/hioload-ev/loop"
	"github.com/momentics/hioload-ev/reactor"
)

const (
	readBufferSize = 64 << 10
	maxRecvFds     = 16
)

// Pipe is a loop handle (RolePipe) owning one end of a socket pair. It is
// active while reads or writes are outstanding. All methods must be called
// on the loop thread.
type Pipe struct {
	loop.Handle

	fd  int
	io  *reactor.IO
	rx  reactor.Readiness
	log *logging.Logger

	dec      *Decoder
	rbuf     []byte
	oob      []byte
	leftover []byte
	readErr  error
	writeErr error

	writes *queue.Queue
	status WriteRequest

	done  *queue.Queue
	flush loop.Todo

	wantRead, wantWrite bool
	closeCb             func(*Pipe)
}

// NewPair creates a connected socket pair and opens both ends on l.
func NewPair(l *loop.Loop) (*Pipe, *Pipe, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, api.TranslateOp("ipc socketpair", err)
	}
	a, err := Open(l, fds[0])
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := Open(l, fds[1])
	if err != nil {
		a.Exit(nil)
		return nil, nil, err
	}
	return a, b, nil
}

// Open wraps a connected AF_UNIX stream socket and announces the current
// process id to the peer. The pipe takes ownership of fd; it is closed when
// Open fails.
func Open(l *loop.Loop, fd int) (*Pipe, error) {
	rx, ok := l.Backend().(reactor.Readiness)
	if !ok {
		unix.Close(fd)
		return nil, api.ErrNotSupported.WithOp("ipc open")
	}
	if typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE); err != nil || typ != unix.SOCK_STREAM {
		unix.Close(fd)
		if err == nil || err == unix.ENOTSOCK {
			return nil, api.ErrInvalid.WithOp("ipc open")
		}
		return nil, api.TranslateOp("ipc open", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, api.TranslateOp("ipc open", err)
	}

	p := &Pipe{
		fd:     fd,
		rx:     rx,
		log:    l.Logger(),
		dec:    NewDecoder(),
		rbuf:   l.Allocator().Alloc(readBufferSize),
		oob:    make([]byte, unix.CmsgSpace(maxRecvFds*4)),
		writes: queue.New(),
		done:   queue.New(),
	}
	p.io = reactor.NewIO(fd, p.onIO)
	p.Handle.Init(l, loop.RolePipe)
	p.Handle.Data = p
	p.OnClose(p.release)

	if err := p.queueWrite(&p.status, StatusExtension(os.Getpid()), nil, -1); err != nil {
		p.Exit(nil)
		return nil, err
	}
	p.log.Debug().Int("fd", fd).Log("ipc pipe opened")
	return p, nil
}

// Fd returns the socket descriptor, or -1 once closed.
func (p *Pipe) Fd() int { return p.fd }

// PeerPid returns the process id the peer announced, once received.
func (p *Pipe) PeerPid() (pid int, ok bool) { return p.dec.PeerPid() }

// Write queues one frame carrying the concatenation of bufs. When sendFd is
// not negative the descriptor is transferred with the frame; the caller keeps
// its own copy. cb runs from the task queue once the frame is fully handed to
// the kernel or has failed.
func (p *Pipe) Write(req *WriteRequest, bufs [][]byte, sendFd int, cb WriteFunc) error {
	if cb == nil {
		return api.ErrInvalid.WithOp("ipc write")
	}
	if p.IsClosing() {
		return api.ErrCanceled.WithOp("ipc write")
	}
	if p.writeErr != nil {
		return p.writeErr
	}
	req.Callback = cb
	var ext *Extension
	if sendFd >= 0 {
		ext = HandleExtension(nil)
	}
	return p.queueWrite(req, ext, bufs, sendFd)
}

func (p *Pipe) queueWrite(req *WriteRequest, ext *Extension, bufs [][]byte, sendFd int) error {
	if req.queued {
		api.Violate("ipc: write request submitted twice")
	}
	prefix, err := FramePrefix(req.prefix[:0], ext, bufs...)
	if err != nil {
		return err
	}
	req.bufs = append(req.bufs[:0], prefix)
	for _, b := range bufs {
		if len(b) != 0 {
			req.bufs = append(req.bufs, b)
		}
	}
	req.sendFd = sendFd
	req.fdSent = false
	req.queued = true
	p.writes.Add(req)
	if p.writes.Length() == 1 {
		p.writable()
	}
	p.update()
	return nil
}

// Read queues req to receive the payload of upcoming frames into bufs. The
// request completes when its buffers are full or its frame ends. A read
// after end of stream or a protocol error fails with that error.
func (p *Pipe) Read(req *ReadRequest, bufs [][]byte, cb ReadFunc) error {
	if cb == nil {
		return api.ErrInvalid.WithOp("ipc read")
	}
	if p.IsClosing() {
		return api.ErrCanceled.WithOp("ipc read")
	}
	if p.readErr != nil {
		return p.readErr
	}
	req.Bufs = bufs
	req.Callback = cb
	if err := p.dec.Submit(req); err != nil {
		return err
	}
	if len(p.leftover) != 0 {
		p.kick()
	}
	p.update()
	return nil
}

// Exit closes the pipe. Outstanding reads and writes complete with
// api.ErrCanceled before cb runs. Descriptors received but never claimed by
// a read are closed. Closing through the embedded Handle does the same.
func (p *Pipe) Exit(cb func(*Pipe)) {
	if cb == nil {
		p.Handle.Exit(nil)
		return
	}
	p.closeCb = cb
	p.Handle.Exit(func(*loop.Handle) {
		fn := p.closeCb
		p.closeCb = nil
		fn(p)
	})
}

func (p *Pipe) release() {
	p.wantRead, p.wantWrite = p.setInterest(false, false)

	for _, req := range p.dec.Drain() {
		p.completeRead(req, api.ErrCanceled.WithOp("ipc read"))
	}
	p.failWrites(api.ErrCanceled.WithOp("ipc write"))
	for _, fd := range p.dec.DrainHandles() {
		unix.Close(fd)
	}
	if p.fd >= 0 {
		if err := unix.Close(p.fd); err != nil {
			p.log.Warning().Int("fd", p.fd).Err(err).Log("ipc close failed")
		}
		p.fd = -1
	}
	p.Loop().Allocator().Free(p.rbuf)
	p.rbuf, p.leftover = nil, nil
}

func (p *Pipe) onIO(_ *reactor.IO, ev reactor.Events) {
	if ev&(reactor.EventRead|reactor.EventError|reactor.EventHangup) != 0 && p.dec.Pending() != 0 {
		p.readable()
	}
	if ev&(reactor.EventWrite|reactor.EventError|reactor.EventHangup) != 0 && p.writes.Length() != 0 {
		p.writable()
	}
	p.update()
}

// readable runs one receive while reads are pending. Buffered bytes the
// decoder could not take yet are fed first.
func (p *Pipe) readable() {
	if p.fd < 0 || !p.feedLeftover() {
		return
	}
	for p.dec.Pending() != 0 {
		n, oobn, flags, _, err := unix.Recvmsg(p.fd, p.rbuf, p.oob, unix.MSG_CMSG_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			p.failReads(api.TranslateOp("ipc recv", err))
			return
		}
		if oobn > 0 {
			p.takeRights(p.oob[:oobn])
		}
		if flags&unix.MSG_CTRUNC != 0 {
			p.failReads(api.ErrProtocol.WithOp("ipc ancillary data truncated"))
			return
		}
		if n == 0 {
			p.failReads(api.ErrEOF.WithOp("ipc recv"))
			return
		}
		used := p.feed(p.rbuf[:n])
		if used < n {
			p.leftover = append(p.leftover[:0], p.rbuf[used:n]...)
		}
		return
	}
}

// feedLeftover hands buffered bytes to the decoder and reports whether all
// were consumed.
func (p *Pipe) feedLeftover() bool {
	if len(p.leftover) == 0 {
		return true
	}
	used := p.feed(p.leftover)
	p.leftover = p.leftover[used:]
	if len(p.leftover) == 0 {
		p.leftover = nil
		return true
	}
	return false
}

func (p *Pipe) feed(b []byte) int {
	used, done, err := p.dec.Feed(b)
	for _, req := range done {
		p.completeRead(req, nil)
	}
	if err != nil {
		p.log.Err().Int("fd", p.fd).Err(err).Log("ipc stream corrupted")
		p.failReads(err)
		return len(b)
	}
	return used
}

func (p *Pipe) takeRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		p.log.Warning().Err(err).Log("ipc ancillary data unreadable")
		return
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			p.dec.PushHandle(fd)
		}
	}
}

// writable sends queued frames until the socket would block.
func (p *Pipe) writable() {
	for p.fd >= 0 && p.writes.Length() != 0 {
		req := p.writes.Peek().(*WriteRequest)
		var oob []byte
		if req.sendFd >= 0 && !req.fdSent {
			oob = unix.UnixRights(req.sendFd)
		}
		n, err := unix.SendmsgBuffers(p.fd, req.bufs, oob, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			p.writeErr = api.TranslateOp("ipc send", err)
			p.failWrites(p.writeErr)
			return
		}
		req.fdSent = true
		req.advance(n)
		if req.remaining() {
			continue
		}
		p.writes.Remove()
		req.queued = false
		req.bufs = req.bufs[:0]
		if req.Callback != nil {
			cb := req.Callback
			p.later(func() { cb(req, nil) })
		}
	}
}

func (p *Pipe) failWrites(err error) {
	for p.writes.Length() != 0 {
		req := p.writes.Remove().(*WriteRequest)
		req.queued = false
		req.bufs = req.bufs[:0]
		if req.Callback != nil {
			cb := req.Callback
			p.later(func() { cb(req, err) })
		}
	}
}

func (p *Pipe) failReads(err error) {
	if p.readErr == nil {
		p.readErr = err
	}
	for _, req := range p.dec.Drain() {
		p.completeRead(req, err)
	}
	p.leftover = nil
}

func (p *Pipe) completeRead(req *ReadRequest, err error) {
	cb := req.Callback
	p.later(func() { cb(req, req.n, err) })
}

// later queues a completion behind earlier ones. Completions never run
// inside the call that produced them.
func (p *Pipe) later(fn func()) {
	p.done.Add(fn)
	if !p.flush.Pending() {
		p.Loop().SubmitTodo(&p.flush, p.runDone)
	}
}

// kick schedules a decode pass over buffered bytes.
func (p *Pipe) kick() {
	if !p.flush.Pending() {
		p.Loop().SubmitTodo(&p.flush, p.runDone)
	}
}

func (p *Pipe) runDone(*loop.Todo) {
	if p.fd >= 0 && p.dec.Pending() != 0 && len(p.leftover) != 0 {
		p.feedLeftover()
	}
	for p.done.Length() != 0 {
		p.done.Remove().(func())()
	}
	p.update()
}

// update aligns kernel interest and the handle's active state with the
// outstanding operations.
func (p *Pipe) update() {
	if p.IsClosing() {
		return
	}
	read := p.dec.Pending() != 0 && len(p.leftover) == 0 && p.readErr == nil
	write := p.writes.Length() != 0
	p.wantRead, p.wantWrite = p.setInterest(read, write)
	if p.dec.Pending() != 0 || write {
		p.Active()
	} else {
		p.Deactive()
	}
}

func (p *Pipe) setInterest(read, write bool) (bool, bool) {
	if p.fd < 0 {
		return false, false
	}
	if read != p.wantRead {
		p.toggle(reactor.EventRead, read)
	}
	if write != p.wantWrite {
		p.toggle(reactor.EventWrite, write)
	}
	return read, write
}

func (p *Pipe) toggle(ev reactor.Events, on bool) {
	var err error
	if on {
		err = p.rx.Add(p.io, ev)
	} else {
		err = p.rx.Del(p.io, ev)
	}
	if err != nil {
		p.log.Err().Int("fd", p.fd).Err(err).Log("ipc interest update failed")
	}
}
