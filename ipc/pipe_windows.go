//go:build windows

// File: ipc/pipe_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Framed duplex pipe over an overlapped byte-mode named pipe driven by the
// IOCP backend. Sockets travel as WSAPROTOCOL_INFO duplicated for the peer
// process and carried in the handle extension; the receiver rebuilds them.

package ipc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/logging"
	"github.com/momentics/hioload-ev/loop"
	"github.com/momentics/hioload-ev/reactor"
)

const (
	readBufferSize = 64 << 10
	// fromProtocolInfo is FROM_PROTOCOL_INFO for WSASocket.
	fromProtocolInfo = -1
)

var (
	pipeSeq atomic.Uint64

	wsaOnce sync.Once
	wsaErr  error
)

func wsaStartup() error {
	wsaOnce.Do(func() {
		var d windows.WSAData
		wsaErr = api.TranslateOp("WSAStartup", windows.WSAStartup(uint32(0x202), &d))
	})
	return wsaErr
}

// Pipe is a loop handle (RolePipe) owning one end of a named pipe. It is
// active while reads or writes are outstanding. At most one overlapped read
// and one overlapped write are in flight; the head write request is sent one
// buffer per operation, header prefix first, then each payload slice. All
// methods must be called on the loop thread.
type Pipe struct {
	loop.Handle

	h      windows.Handle
	server bool
	port   *reactor.IOCP
	log    *logging.Logger

	dec      *Decoder
	rbuf     []byte
	leftover []byte
	readErr  error
	writeErr error

	rop, wop         reactor.Operation
	reading, writing bool

	writes *queue.Queue
	status WriteRequest

	done  *queue.Queue
	flush loop.Todo

	closeCb func(*Pipe)
}

// NewPair creates a connected named pipe, local to this machine, and opens
// both ends on l.
func NewPair(l *loop.Loop) (*Pipe, *Pipe, error) {
	if _, ok := l.Backend().(*reactor.IOCP); !ok {
		return nil, nil, api.ErrNotSupported.WithOp("ipc pipe pair")
	}
	name := fmt.Sprintf(`\\.\pipe\hioload-ev-%d-%d`, windows.GetCurrentProcessId(), pipeSeq.Inc())
	path, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, nil, api.TranslateOp("ipc pipe pair", err)
	}
	srv, err := windows.CreateNamedPipe(path,
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED|windows.FILE_FLAG_FIRST_PIPE_INSTANCE,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT|windows.PIPE_REJECT_REMOTE_CLIENTS,
		1, readBufferSize, readBufferSize, 0, nil)
	if err != nil {
		return nil, nil, api.TranslateOp("CreateNamedPipe", err)
	}
	cli, err := windows.CreateFile(path, windows.GENERIC_READ|windows.GENERIC_WRITE, 0, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		windows.CloseHandle(srv)
		return nil, nil, api.TranslateOp("CreateFile", err)
	}
	// The client is already attached, so the connect completes at once.
	var ov windows.Overlapped
	if err := windows.ConnectNamedPipe(srv, &ov); err != nil && err != windows.ERROR_PIPE_CONNECTED {
		windows.CloseHandle(srv)
		windows.CloseHandle(cli)
		return nil, nil, api.TranslateOp("ConnectNamedPipe", err)
	}

	a, err := Open(l, int(srv))
	if err != nil {
		windows.CloseHandle(cli)
		return nil, nil, err
	}
	b, err := Open(l, int(cli))
	if err != nil {
		a.Exit(nil)
		return nil, nil, err
	}
	return a, b, nil
}

// Open wraps a connected pipe handle opened for overlapped I/O and announces
// the current process id to the peer. The pipe takes ownership of fd; it is
// closed when Open fails.
func Open(l *loop.Loop, fd int) (*Pipe, error) {
	h := windows.Handle(fd)
	port, ok := l.Backend().(*reactor.IOCP)
	if !ok {
		windows.CloseHandle(h)
		return nil, api.ErrNotSupported.WithOp("ipc open")
	}
	var flags uint32
	if err := windows.GetNamedPipeInfo(h, &flags, nil, nil, nil); err != nil {
		windows.CloseHandle(h)
		return nil, api.TranslateOp("ipc open", err)
	}
	if err := port.Associate(h, 0); err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	p := &Pipe{
		h:      h,
		server: flags&windows.PIPE_SERVER_END != 0,
		port:   port,
		log:    l.Logger(),
		dec:    NewDecoder(),
		rbuf:   l.Allocator().Alloc(readBufferSize),
		writes: queue.New(),
		done:   queue.New(),
	}
	p.dec.importHandle = importSocket
	p.rop.Callback = p.onRead
	p.wop.Callback = p.onWrite
	p.Handle.Init(l, loop.RolePipe)
	p.Handle.Data = p
	p.OnClose(p.release)

	if err := p.queueWrite(&p.status, StatusExtension(int(windows.GetCurrentProcessId())), nil, -1); err != nil {
		p.Exit(nil)
		return nil, err
	}
	p.log.Debug().Uint64("handle", uint64(h)).Bool("server", p.server).Log("ipc pipe opened")
	return p, nil
}

// Fd returns the pipe handle, or -1 once closed.
func (p *Pipe) Fd() int {
	if p.h == windows.InvalidHandle {
		return -1
	}
	return int(p.h)
}

// PeerPid returns the process id the peer announced, once received.
func (p *Pipe) PeerPid() (pid int, ok bool) { return p.dec.PeerPid() }

// Write queues one frame carrying the concatenation of bufs. When sendFd is
// not negative it names a socket that is duplicated for the peer process;
// the caller keeps its own socket. cb runs from the task queue once the frame
// is fully written or has failed.
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
	var ext *Extension
	if sendFd >= 0 {
		desc, err := p.duplicate(sendFd)
		if err != nil {
			return err
		}
		ext = HandleExtension(desc)
	}
	req.Callback = cb
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
	req.fdSent = sendFd >= 0
	req.queued = true
	p.writes.Add(req)
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
// api.ErrCanceled before cb runs. Sockets received but never claimed by a
// read are closed. Closing through the embedded Handle does the same.
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

// release cancels in-flight operations and waits for the kernel to let go of
// their buffers. The aborted completions still reach the port later and are
// ignored.
func (p *Pipe) release() {
	for _, req := range p.dec.Drain() {
		p.completeRead(req, api.ErrCanceled.WithOp("ipc read"))
	}
	for _, s := range p.dec.DrainHandles() {
		windows.Closesocket(windows.Handle(s))
	}
	if h := p.h; h != windows.InvalidHandle {
		if p.reading || p.writing {
			windows.CancelIoEx(h, nil)
			var n uint32
			if p.reading {
				windows.GetOverlappedResult(h, &p.rop.Overlapped, &n, true)
			}
			if p.writing {
				windows.GetOverlappedResult(h, &p.wop.Overlapped, &n, true)
			}
		}
		p.h = windows.InvalidHandle
		if err := windows.CloseHandle(h); err != nil {
			p.log.Warning().Uint64("handle", uint64(h)).Err(err).Log("ipc close failed")
		}
	}
	p.failWrites(api.ErrCanceled.WithOp("ipc write"))
	p.Loop().Allocator().Free(p.rbuf)
	p.rbuf, p.leftover = nil, nil
}

func (p *Pipe) duplicate(sock int) ([]byte, error) {
	if err := wsaStartup(); err != nil {
		return nil, err
	}
	pid, err := p.peerPid()
	if err != nil {
		return nil, err
	}
	var info windows.WSAProtocolInfo
	if err := windows.WSADuplicateSocket(windows.Handle(sock), pid, &info); err != nil {
		return nil, api.TranslateOp("WSADuplicateSocket", err)
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&info)), unsafe.Sizeof(info))
	return append([]byte(nil), raw...), nil
}

// peerPid prefers the announced id and falls back to asking the kernel
// while the status frame is still in flight.
func (p *Pipe) peerPid() (uint32, error) {
	if pid, ok := p.dec.PeerPid(); ok {
		return uint32(pid), nil
	}
	var pid uint32
	var err error
	if p.server {
		err = windows.GetNamedPipeClientProcessId(p.h, &pid)
	} else {
		err = windows.GetNamedPipeServerProcessId(p.h, &pid)
	}
	if err != nil {
		return 0, api.TranslateOp("ipc peer pid", err)
	}
	return pid, nil
}

// importSocket rebuilds a socket from duplicated protocol info.
func importSocket(desc []byte) (int, error) {
	var info windows.WSAProtocolInfo
	if len(desc) != int(unsafe.Sizeof(info)) {
		return -1, api.ErrProtocol.WithOp("ipc socket info size")
	}
	if err := wsaStartup(); err != nil {
		return -1, err
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&info)), len(desc)), desc)
	s, err := windows.WSASocket(fromProtocolInfo, fromProtocolInfo, fromProtocolInfo, &info, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return -1, api.TranslateOp("WSASocket", err)
	}
	return int(s), nil
}

func (p *Pipe) startRead() {
	if p.reading || p.h == windows.InvalidHandle || p.dec.Pending() == 0 ||
		len(p.leftover) != 0 || p.readErr != nil {
		return
	}
	p.rop.Overlapped = windows.Overlapped{}
	p.port.Track(&p.rop)
	var n uint32
	if err := windows.ReadFile(p.h, p.rbuf, &n, &p.rop.Overlapped); err != nil && err != windows.ERROR_IO_PENDING {
		p.port.Untrack(&p.rop)
		p.failReads(readError(err))
		return
	}
	p.reading = true
}

func (p *Pipe) onRead(_ *reactor.Operation, n uint32, err error) {
	p.reading = false
	if p.h == windows.InvalidHandle {
		return
	}
	if err != nil {
		p.failReads(readError(err))
	} else if n != 0 {
		used := p.feed(p.rbuf[:n])
		if used < int(n) {
			p.leftover = append(p.leftover[:0], p.rbuf[used:n]...)
		}
	}
	p.update()
}

// readError maps a closed peer to end of stream.
func readError(err error) error {
	switch api.CodeOf(api.Translate(err)) {
	case api.BrokenPipe, api.EOF:
		return api.ErrEOF.WithOp("ipc read")
	}
	return api.TranslateOp("ipc read", err)
}

func (p *Pipe) startWrite() {
	if p.writing || p.h == windows.InvalidHandle || p.writes.Length() == 0 {
		return
	}
	req := p.writes.Peek().(*WriteRequest)
	p.wop.Overlapped = windows.Overlapped{}
	p.port.Track(&p.wop)
	var n uint32
	if err := windows.WriteFile(p.h, req.bufs[0], &n, &p.wop.Overlapped); err != nil && err != windows.ERROR_IO_PENDING {
		p.port.Untrack(&p.wop)
		p.writeErr = api.TranslateOp("ipc write", err)
		p.failWrites(p.writeErr)
		return
	}
	p.writing = true
}

func (p *Pipe) onWrite(_ *reactor.Operation, n uint32, err error) {
	p.writing = false
	if p.h == windows.InvalidHandle {
		return
	}
	if err != nil {
		p.writeErr = api.TranslateOp("ipc write", err)
		p.failWrites(p.writeErr)
		p.update()
		return
	}
	req := p.writes.Peek().(*WriteRequest)
	req.advance(int(n))
	if !req.remaining() {
		p.writes.Remove()
		req.queued = false
		req.bufs = req.bufs[:0]
		if req.Callback != nil {
			cb := req.Callback
			p.later(func() { cb(req, nil) })
		}
	}
	p.update()
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
		p.log.Err().Err(err).Log("ipc stream corrupted")
		p.failReads(err)
		return len(b)
	}
	return used
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

func (p *Pipe) later(fn func()) {
	p.done.Add(fn)
	p.kick()
}

func (p *Pipe) kick() {
	if !p.flush.Pending() {
		p.Loop().SubmitTodo(&p.flush, p.runDone)
	}
}

func (p *Pipe) runDone(*loop.Todo) {
	if p.h != windows.InvalidHandle && p.dec.Pending() != 0 && len(p.leftover) != 0 {
		p.feedLeftover()
	}
	for p.done.Length() != 0 {
		p.done.Remove().(func())()
	}
	p.update()
}

// update issues the next read and write and aligns the handle's active state
// with the outstanding requests.
func (p *Pipe) update() {
	if p.IsClosing() {
		return
	}
	p.startRead()
	p.startWrite()
	if p.dec.Pending() != 0 || p.writes.Length() != 0 {
		p.Active()
	} else {
		p.Deactive()
	}
}
