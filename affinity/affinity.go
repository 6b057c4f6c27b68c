// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-ev/api"
)

// SetAffinity pins the current OS thread to a given logical CPU. The caller
// must have locked the goroutine to its thread. cpuID is reduced modulo the
// number of CPUs so that worker indices can be passed directly.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return api.ErrInvalid.WithOp("affinity")
	}
	return setAffinityPlatform(cpuID % runtime.NumCPU())
}
