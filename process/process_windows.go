//go:build windows

// File: process/process_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package process

import "golang.org/x/sys/windows"

func wait(pid int) (Status, error) {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return Status{ExitCode: -1}, err
	}
	defer windows.CloseHandle(h)

	if _, err := windows.WaitForSingleObject(h, windows.INFINITE); err != nil {
		return Status{ExitCode: -1}, err
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return Status{ExitCode: -1}, err
	}
	return Status{ExitCode: int(code)}, nil
}

func kill(pid, _ int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
