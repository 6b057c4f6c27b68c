// Package api
// Author: momentics <momentics@gmail.com>
//
// Portable error taxonomy shared by the loop, the backends, the thread pool
// and the IPC layer.

package api

import (
	"errors"
	"fmt"
)

// Errno is the portable error code. Values follow POSIX errno naming plus a
// few extensions (EOF, Unknown, NoThreadPool) that have no errno equivalent.
type Errno int

const (
	OK Errno = iota
	AlreadyExists
	Busy
	Invalid
	NotFound
	NoMemory
	TooManyOpen
	NotSupported
	NotAvailable
	InProgress
	Already
	Canceled
	TimedOut
	Again
	BrokenPipe
	ConnReset
	EOF
	Protocol
	MsgTooBig
	NoThreadPool
	Unknown
)

var errnoNames = [...]string{
	OK:            "ok",
	AlreadyExists: "already exists",
	Busy:          "resource busy",
	Invalid:       "invalid argument",
	NotFound:      "not found",
	NoMemory:      "out of memory",
	TooManyOpen:   "too many open files",
	NotSupported:  "operation not supported",
	NotAvailable:  "not available",
	InProgress:    "operation in progress",
	Already:       "operation already in progress",
	Canceled:      "operation canceled",
	TimedOut:      "timed out",
	Again:         "resource temporarily unavailable",
	BrokenPipe:    "broken pipe",
	ConnReset:     "connection reset",
	EOF:           "end of file",
	Protocol:      "protocol error",
	MsgTooBig:     "message too long",
	NoThreadPool:  "no thread pool linked",
	Unknown:       "unknown error",
}

func (e Errno) String() string {
	if e >= 0 && int(e) < len(errnoNames) {
		return errnoNames[e]
	}
	return fmt.Sprintf("errno(%d)", int(e))
}

// Common errors used across the library. errors.Is matches any *Error with the
// same code, so callers compare against these regardless of wrapping.
var (
	ErrAlreadyExists = NewError(AlreadyExists, "")
	ErrBusy          = NewError(Busy, "")
	ErrInvalid       = NewError(Invalid, "")
	ErrNotFound      = NewError(NotFound, "")
	ErrNoMemory      = NewError(NoMemory, "")
	ErrTooManyOpen   = NewError(TooManyOpen, "")
	ErrNotSupported  = NewError(NotSupported, "")
	ErrNotAvailable  = NewError(NotAvailable, "")
	ErrInProgress    = NewError(InProgress, "")
	ErrAlready       = NewError(Already, "")
	ErrCanceled      = NewError(Canceled, "")
	ErrTimedOut      = NewError(TimedOut, "")
	ErrAgain         = NewError(Again, "")
	ErrBrokenPipe    = NewError(BrokenPipe, "")
	ErrConnReset     = NewError(ConnReset, "")
	ErrEOF           = NewError(EOF, "")
	ErrProtocol      = NewError(Protocol, "")
	ErrMsgTooBig     = NewError(MsgTooBig, "")
	ErrNoThreadPool  = NewError(NoThreadPool, "")
	ErrUnknown       = NewError(Unknown, "")
)

// Error represents a structured error with a portable code, the operation that
// failed and the native cause, if any.
type Error struct {
	Code Errno
	Op   string
	Err  error
}

// NewError creates a new structured error.
func NewError(code Errno, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

// Unwrap exposes the native cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithOp returns a copy of e annotated with op.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// Wrap returns a new *Error with the given code, op and cause.
func Wrap(code Errno, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf extracts the portable code from err. A nil error is OK; an error that
// carries no *Error is Unknown.
func CodeOf(err error) Errno {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
