// Package api
// Author: momentics <momentics@gmail.com>
//
// Native error translation. The per-platform tables live in
// errno_unix.go and errno_windows.go.

package api

import (
	"errors"
	"io"
	"syscall"
)

// Translate maps a native error to the portable taxonomy. Errors that already
// carry an *Error pass through unchanged; io.EOF becomes EOF; a syscall.Errno
// is looked up in the platform table and falls back to Unknown with the native
// error preserved as the cause.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return &Error{Code: EOF, Err: err}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if code, ok := nativeErrno[errno]; ok {
			return &Error{Code: code, Err: err}
		}
	}
	return &Error{Code: Unknown, Err: err}
}

// TranslateOp is Translate with the failing operation recorded.
func TranslateOp(op string, err error) error {
	err = Translate(err)
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		return e.WithOp(op)
	}
	return err
}
