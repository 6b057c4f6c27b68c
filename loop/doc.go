// Package loop
// Author: momentics <momentics@gmail.com>
//
// Single-threaded event loop core.
//
// A Loop owns the handle sets, the timer heap, the deferred task queue and a
// platform backend. Every handle (timer, async, work item, pipe, process
// watcher) embeds a Handle and moves through the states
//
//	IDLE -> ACTIVE -> IDLE ... -> CLOSING -> CLOSED
//
// Exit with a close callback defers that callback to the task queue, so it
// never runs inside the call that requested the close.
//
// Only Async.Wakeup and Loop.Post may be called from goroutines other than
// the one running the loop.
package loop
