// File: loop/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle base embedded in every loop-managed object.

package loop

import (
	"github.com/momentics/hioload-ev/api"
	"github.com/momentics/hioload-ev/internal/list"
)

// Role tags the concrete type embedding a Handle.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleTimer
	RoleAsync
	RoleWork
	RolePipe
	RoleTCP
	RoleUDP
	RoleFile
	RoleProcess
	RoleCustom
)

var roleNames = [...]string{
	RoleUnknown: "unknown",
	RoleTimer:   "timer",
	RoleAsync:   "async",
	RoleWork:    "work",
	RolePipe:    "pipe",
	RoleTCP:     "tcp",
	RoleUDP:     "udp",
	RoleFile:    "file",
	RoleProcess: "process",
	RoleCustom:  "custom",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "role?"
}

type handleFlags uint8

const (
	flagActive handleFlags = 1 << iota
	flagClosing
	flagClosed
	// flagInternal handles belong to the loop itself. They are neither walked
	// nor counted when deciding whether the loop is alive.
	flagInternal
)

// Handle is the common header of every loop-managed object. The loop links
// the handle into its idle or active set but never owns its memory.
type Handle struct {
	loop    *Loop
	role    Role
	flags   handleFlags
	node    list.Node[*Handle]
	closing Todo
	closeCb func(*Handle)
	onClose func()

	// Data is reserved for the owner.
	Data any
}

// Init binds h to l in the IDLE state. A handle may be initialised again
// only after it reached CLOSED.
func (h *Handle) Init(l *Loop, role Role) {
	h.init(l, role, 0)
}

func (h *Handle) init(l *Loop, role Role, extra handleFlags) {
	if h.node.Linked() || (h.loop != nil && h.flags&flagClosed == 0) {
		api.Violate("handle: init of a %s handle that is still open", h.role)
	}
	h.loop = l
	h.role = role
	h.flags = extra
	h.closeCb = nil
	h.onClose = nil
	h.node.Value = h
	l.setFor(h, false).PushBack(&h.node)
}

// OnClose registers fn to release the resources of the embedding type. It
// runs once, from Exit, after the handle is marked CLOSING and before it
// leaves the active set, whichever type's Exit was called. Init clears it.
func (h *Handle) OnClose(fn func()) { h.onClose = fn }

// Loop returns the owning loop.
func (h *Handle) Loop() *Loop { return h.loop }

// Role returns the role tag given at Init.
func (h *Handle) Role() Role { return h.role }

// IsActive reports whether the handle has outstanding work.
func (h *Handle) IsActive() bool { return h.flags&flagActive != 0 }

// IsClosing reports whether Exit has been called, including after the close
// completed.
func (h *Handle) IsClosing() bool { return h.flags&(flagClosing|flagClosed) != 0 }

// IsClosed reports whether the close callback has run.
func (h *Handle) IsClosed() bool { return h.flags&flagClosed != 0 }

// Active moves h to the active set. It is a no-op when already active.
// Activating a closing handle is a contract violation; protocol layers check
// IsClosing first and fail the operation with api.ErrCanceled.
func (h *Handle) Active() {
	if h.IsClosing() {
		api.Violate("handle: activating a closing %s handle", h.role)
	}
	if h.flags&flagActive != 0 {
		return
	}
	h.flags |= flagActive
	list.MoveTo(h.loop.setFor(h, true), &h.node)
}

// Deactive moves h back to the idle set. It is a no-op when already idle.
func (h *Handle) Deactive() {
	if h.flags&flagActive == 0 {
		return
	}
	h.flags &^= flagActive
	if h.flags&flagClosed != 0 {
		return
	}
	list.MoveTo(h.loop.setFor(h, false), &h.node)
}

// Exit closes h. With a nil cb the handle is CLOSED and unlinked on return.
// Otherwise it becomes CLOSING and cb runs from the task queue on a later
// drain. Closing a handle twice is a contract violation.
func (h *Handle) Exit(cb func(*Handle)) {
	if h.loop == nil {
		api.Violate("handle: exit of an uninitialised handle")
	}
	if h.IsClosing() {
		api.Violate("handle: %s handle closed twice", h.role)
	}
	h.flags |= flagClosing
	if fn := h.onClose; fn != nil {
		h.onClose = nil
		fn()
	}
	h.Deactive()
	if cb == nil {
		h.finishClose()
		return
	}
	h.closeCb = cb
	h.loop.SubmitTodo(&h.closing, func(*Todo) {
		h.finishClose()
		fn := h.closeCb
		h.closeCb = nil
		fn(h)
	})
}

func (h *Handle) finishClose() {
	h.flags = h.flags&^flagClosing | flagClosed
	if owner := h.node.Owner(); owner != nil {
		owner.Remove(&h.node)
	}
	h.loop.log.Trace().Str("role", h.role.String()).Log("handle closed")
}
