//go:build linux

// File: process/process_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package process

import "golang.org/x/sys/unix"

func wait(pid int) (Status, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Status{ExitCode: -1}, err
		}
		break
	}
	if ws.Signaled() {
		return Status{ExitCode: -1, Signal: int(ws.Signal())}, nil
	}
	return Status{ExitCode: ws.ExitStatus()}, nil
}

func kill(pid, sig int) error {
	return unix.Kill(pid, unix.Signal(sig))
}
