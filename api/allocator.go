// Package api
// Author: momentics <momentics@gmail.com>
//
// Allocator capability injected at construction time.

package api

// Allocator provides the byte buffers used for I/O scratch space. It is bound
// to a loop or pool when that object is constructed and cannot be replaced
// afterwards.
type Allocator interface {
	// Alloc returns a slice of length n. Contents are unspecified.
	Alloc(n int) []byte
	// Free returns b to the allocator. b must not be used afterwards.
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap and leaves reclamation to the GC.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(n int) []byte { return make([]byte, n) }

func (HeapAllocator) Free([]byte) {}
