//go:build windows

package ipc_test

import (
	"bytes"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/ipc"
	"github.com/momentics/hioload-ev/loop"
)

func pair(t *testing.T) (*loop.Loop, *ipc.Pipe, *ipc.Pipe) {
	t.Helper()
	l, err := loop.New()
	require.NoError(t, err)
	a, b, err := ipc.NewPair(l)
	require.NoError(t, err)
	assert.Equal(t, loop.RolePipe, a.Role())
	return l, a, b
}

func closeAll(t *testing.T, l *loop.Loop, pipes ...*ipc.Pipe) {
	t.Helper()
	for _, p := range pipes {
		if !p.IsClosing() {
			p.Exit(nil)
		}
	}
	l.Run(loop.RunDefault, -1)
	require.NoError(t, l.Exit())
}

func TestPipeMessageRoundTrip(t *testing.T) {
	l, a, b := pair(t)

	var wreq ipc.WriteRequest
	writes := 0
	require.NoError(t, a.Write(&wreq, [][]byte{[]byte("pi"), []byte("ng")}, -1, func(_ *ipc.WriteRequest, err error) {
		assert.NoError(t, err)
		writes++
	}))

	var rreq ipc.ReadRequest
	buf := make([]byte, 32)
	var got string
	require.NoError(t, b.Read(&rreq, [][]byte{buf}, func(_ *ipc.ReadRequest, n int, err error) {
		require.NoError(t, err)
		got = string(buf[:n])
	}))

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.Equal(t, 1, writes)
	assert.Equal(t, "ping", got)

	pid, ok := b.PeerPid()
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	closeAll(t, l, a, b)
}

func TestPipeLargeMessage(t *testing.T) {
	l, a, b := pair(t)

	payload := bytes.Repeat([]byte("hioload-ev/ipc!!"), 64<<10)
	var wreq ipc.WriteRequest
	wrote := false
	require.NoError(t, a.Write(&wreq, [][]byte{payload[:1<<20], payload[1<<20:]}, -1, func(_ *ipc.WriteRequest, err error) {
		require.NoError(t, err)
		wrote = true
	}))

	var received []byte
	chunk := make([]byte, 48<<10)
	var rreq ipc.ReadRequest
	var onRead ipc.ReadFunc
	onRead = func(r *ipc.ReadRequest, n int, err error) {
		require.NoError(t, err)
		received = append(received, chunk[:n]...)
		if len(received) < len(payload) {
			require.NoError(t, b.Read(r, [][]byte{chunk}, onRead))
		}
	}
	require.NoError(t, b.Read(&rreq, [][]byte{chunk}, onRead))

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.True(t, wrote)
	assert.True(t, bytes.Equal(payload, received))

	closeAll(t, l, a, b)
}

func TestPipeTransfersSocket(t *testing.T) {
	l, a, b := pair(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	raw, err := ln.(*net.TCPListener).SyscallConn()
	require.NoError(t, err)

	var wreq ipc.WriteRequest
	require.NoError(t, raw.Control(func(fd uintptr) {
		require.NoError(t, a.Write(&wreq, [][]byte{[]byte("sock")}, int(fd), func(_ *ipc.WriteRequest, err error) {
			require.NoError(t, err)
		}))
	}))

	var rreq ipc.ReadRequest
	buf := make([]byte, 8)
	received := -1
	require.NoError(t, b.Read(&rreq, [][]byte{buf}, func(req *ipc.ReadRequest, n int, err error) {
		require.NoError(t, err)
		assert.Equal(t, "sock", string(buf[:n]))
		s, ok := req.Handle()
		require.True(t, ok)
		received = s
	}))

	l.Run(loop.RunDefault, -1)
	require.GreaterOrEqual(t, received, 0)
	sa, err := windows.Getsockname(windows.Handle(received))
	require.NoError(t, err)
	in4, ok := sa.(*windows.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, ln.Addr().(*net.TCPAddr).Port, in4.Port)
	require.NoError(t, windows.Closesocket(windows.Handle(received)))

	closeAll(t, l, a, b)
}

func TestPipeEndOfStream(t *testing.T) {
	l, a, b := pair(t)

	var rreq ipc.ReadRequest
	var got error
	require.NoError(t, b.Read(&rreq, [][]byte{make([]byte, 8)}, func(_ *ipc.ReadRequest, _ int, err error) {
		got = err
	}))
	a.Exit(nil)

	assert.False(t, l.Run(loop.RunDefault, -1))
	assert.ErrorIs(t, got, api.ErrEOF)

	closeAll(t, l, b)
}

func TestPipeExitCancelsPendingOperations(t *testing.T) {
	l, a, b := pair(t)

	var order []string
	var rreq ipc.ReadRequest
	require.NoError(t, b.Read(&rreq, [][]byte{make([]byte, 8)}, func(_ *ipc.ReadRequest, _ int, err error) {
		assert.ErrorIs(t, err, api.ErrCanceled)
		order = append(order, "read")
	}))
	b.Exit(func(p *ipc.Pipe) {
		assert.Same(t, b, p)
		order = append(order, "close")
	})
	assert.Equal(t, -1, b.Fd())

	var late ipc.ReadRequest
	assert.ErrorIs(t, b.Read(&late, [][]byte{make([]byte, 1)}, func(*ipc.ReadRequest, int, error) {}), api.ErrCanceled)

	l.Run(loop.RunDefault, -1)
	assert.Equal(t, []string{"read", "close"}, order)

	closeAll(t, l, a)
}
