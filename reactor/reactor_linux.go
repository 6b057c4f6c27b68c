//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux factory: epoll(7).

package reactor

// New constructs the platform backend.
func New(cfg Config) (Backend, error) {
	return NewEpoll(cfg)
}
