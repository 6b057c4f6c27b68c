// File: loop/probes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import "github.com/momentics/hioload-ev/control"

// RegisterProbes exposes the loop counters under prefix, plus the shared
// platform.* probes. Probes may be evaluated from any goroutine; they read
// only atomics.
func (l *Loop) RegisterProbes(dp *control.DebugProbes, prefix string) {
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe(prefix+".backend", func() any { return l.backend.Name() })
	dp.RegisterProbe(prefix+".iterations", func() any { return l.stats.iterations.Load() })
	dp.RegisterProbe(prefix+".timers_fired", func() any { return l.stats.timers.Load() })
	dp.RegisterProbe(prefix+".todos_run", func() any { return l.stats.todos.Load() })
	dp.RegisterProbe(prefix+".inbound_run", func() any { return l.stats.inbound.Load() })
	dp.RegisterProbe(prefix+".inbound_pending", func() any { return l.inbound.pending.Load() })
}
