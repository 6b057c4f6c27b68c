package ipc_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/ipc"
)

func TestHeaderLayout(t *testing.T) {
	h, err := ipc.InitFrameHeader(8, 300)
	require.NoError(t, err)
	assert.True(t, h.HasExtension())

	b := make([]byte, ipc.HeaderSize)
	h.Marshal(b)
	assert.Equal(t, ipc.Magic, binary.NativeEndian.Uint32(b[0:]))
	assert.Equal(t, ipc.FlagInformation, b[4])
	assert.Equal(t, ipc.Version, b[5])
	assert.Equal(t, uint16(8), binary.NativeEndian.Uint16(b[6:]))
	assert.Equal(t, uint32(300), binary.NativeEndian.Uint32(b[8:]))
	assert.Equal(t, uint32(0), binary.NativeEndian.Uint32(b[12:]))

	got, err := ipc.ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	plain, err := ipc.InitFrameHeader(0, 5)
	require.NoError(t, err)
	assert.False(t, plain.HasExtension())
}

func TestHeaderLimits(t *testing.T) {
	_, err := ipc.InitFrameHeader(ipc.MaxExtraSize+1, 0)
	assert.ErrorIs(t, err, api.ErrMsgTooBig)
	_, err = ipc.InitFrameHeader(-1, 0)
	assert.ErrorIs(t, err, api.ErrInvalid)
}

func TestParseHeaderRejectsCorruption(t *testing.T) {
	b := ipc.Header{DataSize: 1}.AppendTo(nil)

	bad := bytes.Clone(b)
	bad[0] ^= 0xff
	assert.False(t, ipc.CheckFrameHeader(bad))
	_, err := ipc.ParseHeader(bad)
	assert.ErrorIs(t, err, api.ErrProtocol)

	unflagged := bytes.Clone(b)
	binary.NativeEndian.PutUint16(unflagged[6:], 4)
	_, err = ipc.ParseHeader(unflagged)
	assert.ErrorIs(t, err, api.ErrProtocol)

	short := bytes.Clone(b)
	short[4] = ipc.FlagInformation
	_, err = ipc.ParseHeader(short)
	assert.ErrorIs(t, err, api.ErrProtocol)

	_, err = ipc.ParseHeader(b[:ipc.HeaderSize-1])
	assert.ErrorIs(t, err, api.ErrInvalid)
}

func TestParseHeaderIgnoresVersion(t *testing.T) {
	b := ipc.Header{DataSize: 3}.AppendTo(nil)
	b[5] = 7
	h, err := ipc.ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.DataSize)
}

func TestExtensionCodec(t *testing.T) {
	st := ipc.StatusExtension(4242)
	assert.Equal(t, 8, st.Size())
	got, err := ipc.ParseExtension(st.AppendTo(nil))
	require.NoError(t, err)
	assert.Equal(t, ipc.ExtStatus, got.Type)
	assert.Equal(t, uint32(4242), got.Pid)

	hd := ipc.HandleExtension([]byte{1, 2, 3})
	got, err = ipc.ParseExtension(hd.AppendTo(nil))
	require.NoError(t, err)
	assert.Equal(t, ipc.ExtHandle, got.Type)
	assert.Equal(t, []byte{1, 2, 3}, got.Descriptor)

	unknown := binary.NativeEndian.AppendUint32(nil, 99)
	_, err = ipc.ParseExtension(unknown)
	assert.ErrorIs(t, err, api.ErrProtocol)

	_, err = ipc.ParseExtension(binary.NativeEndian.AppendUint32(nil, uint32(ipc.ExtStatus)))
	assert.ErrorIs(t, err, api.ErrProtocol)
}

func TestEncoderMatchesAppendFrame(t *testing.T) {
	var buf bytes.Buffer
	enc := ipc.NewEncoder(&buf)

	require.NoError(t, enc.WriteFrame(nil, []byte("ab"), []byte("cde")))
	require.NoError(t, enc.WriteFrame(ipc.StatusExtension(9)))

	want, err := ipc.AppendFrame(nil, nil, []byte("abcde"))
	require.NoError(t, err)
	want, err = ipc.AppendFrame(want, ipc.StatusExtension(9))
	require.NoError(t, err)
	assert.Equal(t, want, buf.Bytes())
}

func TestEncoderEnforcesDeclaredSize(t *testing.T) {
	var buf bytes.Buffer
	enc := ipc.NewEncoder(&buf)

	require.NoError(t, enc.Begin(nil, 4))
	assert.ErrorIs(t, enc.Begin(nil, 1), api.ErrInProgress)
	_, err := enc.Write([]byte("12345"))
	assert.ErrorIs(t, err, api.ErrMsgTooBig)

	n, err := enc.Write([]byte("12"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, enc.End(), api.ErrProtocol)

	_, err = enc.Write([]byte("34"))
	require.NoError(t, err)
	require.NoError(t, enc.End())
	assert.Equal(t, ipc.HeaderSize+4, buf.Len())

	_, err = enc.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrInvalid)
}

// failAfter accepts n writes, then fails every one.
type failAfter struct {
	n   int
	err error
}

func (w *failAfter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, w.err
	}
	w.n--
	return len(p), nil
}

func TestEncoderWriteErrorIsSticky(t *testing.T) {
	boom := errors.New("boom")
	enc := ipc.NewEncoder(&failAfter{n: 1, err: boom})

	err := enc.WriteFrame(nil, []byte("payload"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, enc.Err(), boom)

	assert.ErrorIs(t, enc.Begin(nil, 1), boom)
	_, err = enc.Write([]byte("x"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, enc.End(), boom)
	assert.ErrorIs(t, enc.WriteFrame(nil), boom)
}
