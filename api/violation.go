// Package api
// Author: momentics <momentics@gmail.com>
//
// Contract violations are caller bugs, not runtime conditions. They panic.

package api

import "fmt"

// ContractViolation is the panic value raised when a caller breaks an API
// contract: closing a handle twice, queueing a todo token that is already
// queued, tearing down a loop that still owns handles, and so on.
type ContractViolation struct {
	Msg string
}

func (v *ContractViolation) Error() string {
	return "contract violation: " + v.Msg
}

// Violate panics with a *ContractViolation.
func Violate(format string, args ...any) {
	panic(&ContractViolation{Msg: fmt.Sprintf(format, args...)})
}
