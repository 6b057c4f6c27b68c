// File: ipc/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed frame header codec.

package ipc

import (
	"encoding/binary"
	"math"

	"github.com/momentics/hioload-ev/api"
)

const (
	// HeaderSize is the fixed header length.
	HeaderSize = 16

	// Magic opens every frame. It is compared in native byte order, so peers
	// must share endianness.
	Magic uint32 = 0x49504346

	// FlagInformation marks a frame carrying an extension block.
	FlagInformation uint8 = 1 << 0

	// Version is the header version written by this package.
	Version uint8 = 0

	// MaxExtraSize and MaxDataSize are bounded by the header field widths.
	MaxExtraSize = math.MaxUint16
	MaxDataSize  = math.MaxUint32
)

var order = binary.NativeEndian

// Header is a decoded frame header.
type Header struct {
	Flags     uint8
	Version   uint8
	ExtraSize uint16
	DataSize  uint32
}

// InitFrameHeader returns the header for a frame with the given extension
// block and payload sizes. The information flag is set when extraSize is
// non-zero.
func InitFrameHeader(extraSize, dataSize int) (Header, error) {
	if extraSize < 0 || dataSize < 0 {
		return Header{}, api.ErrInvalid.WithOp("ipc header")
	}
	if extraSize > MaxExtraSize || int64(dataSize) > MaxDataSize {
		return Header{}, api.ErrMsgTooBig.WithOp("ipc header")
	}
	h := Header{Version: Version, ExtraSize: uint16(extraSize), DataSize: uint32(dataSize)}
	if extraSize > 0 {
		h.Flags |= FlagInformation
	}
	return h, nil
}

// HasExtension reports whether an extension block follows the header.
func (h Header) HasExtension() bool { return h.Flags&FlagInformation != 0 }

// Marshal writes h into b, which must hold HeaderSize bytes.
func (h Header) Marshal(b []byte) {
	_ = b[HeaderSize-1]
	order.PutUint32(b[0:], Magic)
	b[4] = h.Flags
	b[5] = h.Version
	order.PutUint16(b[6:], h.ExtraSize)
	order.PutUint32(b[8:], h.DataSize)
	order.PutUint32(b[12:], 0)
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	var b [HeaderSize]byte
	h.Marshal(b[:])
	return append(dst, b[:]...)
}

// CheckFrameHeader reports whether b starts with a complete header carrying
// the frame magic.
func CheckFrameHeader(b []byte) bool {
	return len(b) >= HeaderSize && order.Uint32(b) == Magic
}

// ParseHeader decodes the header at the start of b. A bad magic, or flags
// that disagree with extra_size, is api.ErrProtocol. The version byte is not
// checked.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, api.ErrInvalid.WithOp("ipc parse header")
	}
	if !CheckFrameHeader(b) {
		return Header{}, api.ErrProtocol.WithOp("ipc bad magic")
	}
	h := Header{
		Flags:     b[4],
		Version:   b[5],
		ExtraSize: order.Uint16(b[6:]),
		DataSize:  order.Uint32(b[8:]),
	}
	switch {
	case h.HasExtension() && h.ExtraSize < extTagSize:
		return Header{}, api.ErrProtocol.WithOp("ipc short extension")
	case !h.HasExtension() && h.ExtraSize != 0:
		return Header{}, api.ErrProtocol.WithOp("ipc unflagged extension")
	}
	return h, nil
}
