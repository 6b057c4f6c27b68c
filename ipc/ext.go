// File: ipc/ext.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Extension block codec.

package ipc

import (
	"fmt"

	"github.com/momentics/hioload-ev/api"
)

// ExtType tags an extension block.
type ExtType uint32

const (
	// ExtStatus announces the sender's process id.
	ExtStatus ExtType = 1
	// ExtHandle accompanies a transferred descriptor. On POSIX its body is
	// empty; the completion backend carries duplicated protocol info.
	ExtHandle ExtType = 2
)

const extTagSize = 4

func (t ExtType) String() string {
	switch t {
	case ExtStatus:
		return "status"
	case ExtHandle:
		return "handle"
	}
	return fmt.Sprintf("ext(%d)", uint32(t))
}

// Extension is a decoded extension block.
type Extension struct {
	Type ExtType
	// Pid is set for ExtStatus.
	Pid uint32
	// Descriptor is the opaque body of ExtHandle.
	Descriptor []byte
}

// StatusExtension announces pid.
func StatusExtension(pid int) *Extension {
	return &Extension{Type: ExtStatus, Pid: uint32(pid)}
}

// HandleExtension marks a frame carrying a descriptor.
func HandleExtension(descriptor []byte) *Extension {
	return &Extension{Type: ExtHandle, Descriptor: descriptor}
}

// Size returns the encoded length, tag included.
func (e *Extension) Size() int {
	switch e.Type {
	case ExtStatus:
		return extTagSize + 4
	default:
		return extTagSize + len(e.Descriptor)
	}
}

// AppendTo appends the encoded block to dst.
func (e *Extension) AppendTo(dst []byte) []byte {
	dst = order.AppendUint32(dst, uint32(e.Type))
	switch e.Type {
	case ExtStatus:
		dst = order.AppendUint32(dst, e.Pid)
	default:
		dst = append(dst, e.Descriptor...)
	}
	return dst
}

// ParseExtension decodes a whole extension block. Unknown tags and malformed
// bodies are api.ErrProtocol.
func ParseExtension(b []byte) (Extension, error) {
	if len(b) < extTagSize {
		return Extension{}, api.ErrProtocol.WithOp("ipc short extension")
	}
	e := Extension{Type: ExtType(order.Uint32(b))}
	body := b[extTagSize:]
	switch e.Type {
	case ExtStatus:
		if len(body) != 4 {
			return Extension{}, api.ErrProtocol.WithOp("ipc status extension")
		}
		e.Pid = order.Uint32(body)
	case ExtHandle:
		if len(body) > 0 {
			e.Descriptor = append([]byte(nil), body...)
		}
	default:
		return Extension{}, api.Wrap(api.Protocol, "ipc extension", fmt.Errorf("unknown type %d", uint32(e.Type)))
	}
	return e, nil
}
