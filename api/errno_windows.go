//go:build windows

// Package api
// Author: momentics <momentics@gmail.com>
//
// Win32 / Winsock error table.

package api

import (
	"syscall"

	"golang.org/x/sys/windows"
)

var nativeErrno = map[syscall.Errno]Errno{
	windows.ERROR_ALREADY_EXISTS:          AlreadyExists,
	windows.ERROR_FILE_EXISTS:             AlreadyExists,
	windows.ERROR_BUSY:                    Busy,
	windows.ERROR_INVALID_PARAMETER:       Invalid,
	windows.ERROR_INVALID_HANDLE:          Invalid,
	windows.ERROR_FILE_NOT_FOUND:          NotFound,
	windows.ERROR_PATH_NOT_FOUND:          NotFound,
	windows.ERROR_NOT_ENOUGH_MEMORY:       NoMemory,
	windows.ERROR_OUTOFMEMORY:             NoMemory,
	windows.ERROR_TOO_MANY_OPEN_FILES:     TooManyOpen,
	windows.ERROR_NOT_SUPPORTED:           NotSupported,
	windows.WSAEADDRNOTAVAIL:              NotAvailable,
	windows.ERROR_IO_PENDING:              InProgress,
	windows.WSAEALREADY:                   Already,
	windows.ERROR_OPERATION_ABORTED:       Canceled,
	syscall.Errno(windows.WAIT_TIMEOUT):   TimedOut,
	windows.WSAEWOULDBLOCK:                Again,
	windows.ERROR_BROKEN_PIPE:             BrokenPipe,
	windows.ERROR_NO_DATA:                 BrokenPipe,
	windows.WSAECONNRESET:                 ConnReset,
	windows.ERROR_NETNAME_DELETED:         ConnReset,
	windows.ERROR_HANDLE_EOF:              EOF,
	windows.WSAEMSGSIZE:                   MsgTooBig,
}
