// Package ipc
// Author: momentics <momentics@gmail.com>
//
// IPC framing for duplex pipes between processes.
//
// Every logical message is one frame: a 16-byte header in native byte order,
// an optional extension block and the payload.
//
//	offset 0   u32 magic
//	offset 4   u8  flags      bit 0: extension block present
//	offset 5   u8  version    written as 0, ignored on receive
//	offset 6   u16 extra_size bytes of extension block
//	offset 8   u32 data_size  bytes of payload
//	offset 12  u32 reserved   written as 0
//
// The extension block starts with a u32 type tag. A status extension
// announces the sender's process id; a handle extension accompanies a
// transferred descriptor, which on POSIX travels as SCM_RIGHTS ancillary
// data with the bytes of the header. On Windows the extension body carries
// the WSAPROTOCOL_INFO of a socket duplicated for the peer process.
package ipc
