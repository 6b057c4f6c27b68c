//go:build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows factory: I/O completion ports.

package reactor

// New constructs the platform backend.
func New(cfg Config) (Backend, error) {
	return NewIOCP(cfg)
}
