//go:build !linux && !windows

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-ev/api"

// New returns an error for unsupported platforms.
func New(Config) (Backend, error) {
	return nil, api.ErrNotSupported.WithOp("reactor")
}
