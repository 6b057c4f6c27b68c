// File: loop/todo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deferred task queue: callbacks run on a later drain, never inside the call
// that scheduled them.

package loop

import (
	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/list"
)

// Todo is a task token embedded in the object that needs a deferred
// callback. A token is in the queue at most once.
type Todo struct {
	node list.Node[*Todo]
	cb   func(*Todo)
}

// Pending reports whether the token is queued.
func (t *Todo) Pending() bool { return t.node.Linked() }

// SubmitTodo queues cb behind every task already queued. Submitting a token
// that is still queued is a contract violation.
func (l *Loop) SubmitTodo(t *Todo, cb func(*Todo)) {
	if t.node.Linked() {
		api.Violate("todo: token submitted twice")
	}
	if cb == nil {
		api.Violate("todo: nil callback")
	}
	t.cb = cb
	t.node.Value = t
	l.todo.PushBack(&t.node)
}

// CancelTodo removes a queued token. It reports false when the token is not
// queued on l, including once its callback has started.
func (l *Loop) CancelTodo(t *Todo) bool {
	if !l.todo.Remove(&t.node) {
		return false
	}
	t.cb = nil
	return true
}

// runTodo drains the queue to empty. Tasks queued by a running task are
// picked up by the same drain.
func (l *Loop) runTodo() {
	for {
		n := l.todo.PopFront()
		if n == nil {
			return
		}
		t := n.Value
		cb := t.cb
		t.cb = nil
		l.stats.todos.Inc()
		cb(t)
	}
}
