//go:build !linux && !windows

// File: process/process_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package process

import "github.com/momentics/hioload-ev/api"

func wait(int) (Status, error) { return Status{ExitCode: -1}, api.ErrNotSupported }

func kill(int, int) error { return api.ErrNotSupported }
