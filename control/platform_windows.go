//go:build windows

// control/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific debug probes.

package control

import (
	"runtime"

	"golang.org/x/sys/windows"
)

// RegisterPlatformProbes sets Windows-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.backend", func() any {
		return "iocp"
	})
	dp.RegisterProbe("platform.version", func() any {
		maj, min, build := windows.RtlGetNtVersionNumbers()
		return [3]uint32{maj, min, build}
	})
}
