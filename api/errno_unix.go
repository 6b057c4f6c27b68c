//go:build unix

// Package api
// Author: momentics <momentics@gmail.com>
//
// POSIX errno table.

package api

import (
	"syscall"

	"golang.org/x/sys/unix"
)

var nativeErrno = map[syscall.Errno]Errno{
	unix.EEXIST:        AlreadyExists,
	unix.EBUSY:         Busy,
	unix.EINVAL:        Invalid,
	unix.ENOENT:        NotFound,
	unix.ENOMEM:        NoMemory,
	unix.EMFILE:        TooManyOpen,
	unix.ENFILE:        TooManyOpen,
	unix.EOPNOTSUPP:    NotSupported,
	unix.EADDRNOTAVAIL: NotAvailable,
	unix.EINPROGRESS:   InProgress,
	unix.EALREADY:      Already,
	unix.ECANCELED:     Canceled,
	unix.ETIMEDOUT:     TimedOut,
	unix.EAGAIN:        Again,
	unix.EPIPE:         BrokenPipe,
	unix.ECONNRESET:    ConnReset,
	unix.EPROTO:        Protocol,
	unix.EMSGSIZE:      MsgTooBig,
}
