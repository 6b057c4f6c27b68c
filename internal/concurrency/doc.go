// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Synchronization primitives for the thread pool: a counting semaphore and
// OS-thread-locked workers with optional CPU pinning and join.
package concurrency
