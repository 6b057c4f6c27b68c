//go:build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"os"

	"github.com/momentics/hioload-ev/api"
	"golang.org/x/sys/unix"
)

// setAffinityPlatform pins the calling thread to the index-th CPU allowed
// for the process, so indices stay valid inside a restricted cpuset.
func setAffinityPlatform(index int) error {
	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(os.Getpid(), &allowed); err != nil {
		return api.TranslateOp("sched_getaffinity", err)
	}
	cpu := -1
	for i, seen := 0, 0; i < len(allowed)*64; i++ {
		if !allowed.IsSet(i) {
			continue
		}
		if seen == index%allowed.Count() {
			cpu = i
			break
		}
		seen++
	}
	if cpu < 0 {
		return api.ErrInvalid.WithOp("affinity")
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 addresses the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return api.TranslateOp("sched_setaffinity", err)
	}
	return nil
}
