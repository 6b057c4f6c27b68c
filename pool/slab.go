// File: pool/slab.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-class slab allocator.

package pool

import (
	"math/bits"

	"go.uber.org/atomic"

	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/control"
)

const (
	minClassShift = 8  // 256 B
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1

	// MinClass and MaxClass bound the pooled sizes. Larger requests go to
	// the heap and are dropped on Free.
	MinClass = 1 << minClassShift
	MaxClass = 1 << maxClassShift
)

type slabStats struct {
	allocs   *atomic.Int64
	frees    *atomic.Int64
	misses   *atomic.Int64
	oversize *atomic.Int64
}

// Slab hands out byte slices rounded up to a power-of-two class. It is safe
// for concurrent use.
type Slab struct {
	classes [numClasses]*SyncPool[*[]byte]
	stats   slabStats
}

var _ api.Allocator = (*Slab)(nil)

// NewSlab returns an allocator publishing its counters into m, which may be
// nil.
func NewSlab(m *control.MetricsRegistry) *Slab {
	s := &Slab{stats: slabStats{
		allocs:   m.Counter("pool.allocs"),
		frees:    m.Counter("pool.frees"),
		misses:   m.Counter("pool.misses"),
		oversize: m.Counter("pool.oversize"),
	}}
	for i := range s.classes {
		size := MinClass << i
		s.classes[i] = NewSyncPool(func() *[]byte {
			s.stats.misses.Inc()
			b := make([]byte, size)
			return &b
		})
	}
	return s
}

// classOf returns the class index holding n bytes, or -1 when n exceeds
// MaxClass.
func classOf(n int) int {
	if n <= MinClass {
		return 0
	}
	if n > MaxClass {
		return -1
	}
	return bits.Len(uint(n-1)) - minClassShift
}

// Alloc returns a slice of length n whose capacity is n's class size.
func (s *Slab) Alloc(n int) []byte {
	if n < 0 {
		api.Violate("pool: negative allocation size %d", n)
	}
	c := classOf(n)
	if c < 0 {
		s.stats.oversize.Inc()
		return make([]byte, n)
	}
	s.stats.allocs.Inc()
	return (*s.classes[c].Get())[:n]
}

// Free returns b to its class. Slices whose capacity is not a class size,
// oversize ones included, are left to the GC.
func (s *Slab) Free(b []byte) {
	c := cap(b)
	if c < MinClass || c > MaxClass || c&(c-1) != 0 {
		return
	}
	b = b[:c]
	s.stats.frees.Inc()
	s.classes[classOf(c)].Put(&b)
}

// Stats returns the allocator counters.
func (s *Slab) Stats() map[string]int64 {
	return map[string]int64{
		"allocs":   s.stats.allocs.Load(),
		"frees":    s.stats.frees.Load(),
		"misses":   s.stats.misses.Load(),
		"oversize": s.stats.oversize.Load(),
	}
}
