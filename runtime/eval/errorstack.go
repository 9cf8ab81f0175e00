package eval

import (
	"github.com/opal-lang/shellcore/core/invariant"
)

// ErrorHandler is one pushed try/catch-style region: an instruction index to
// branch to on error, and the variable id (if any) the labeled error record
// is bound into before branching.
type ErrorHandler struct {
	TargetPC  int
	VarID     uint32
	HasVar    bool
}

// ErrorHandlerStack is a parallel stack to the argument stack with
// identical frame discipline: entering a block pushes a handler frame,
// leaving truncates to that base. Unlike the argument stack it is a stack
// of handler *frames* (each frame may hold zero or one active handler,
// mirroring nested block scopes), so LeaveFrame after a block with no
// handler installed is simply a no-op pop.
type ErrorHandlerStack struct {
	handlers []ErrorHandler
}

// PushFrame records the current height, to be restored by LeaveFrame.
func (s *ErrorHandlerStack) PushFrame() int { return len(s.handlers) }

// Push installs a handler for the region about to be entered.
func (s *ErrorHandlerStack) Push(h ErrorHandler) { s.handlers = append(s.handlers, h) }

// Active returns the innermost installed handler, if any.
func (s *ErrorHandlerStack) Active() (ErrorHandler, bool) {
	if len(s.handlers) == 0 {
		return ErrorHandler{}, false
	}
	return s.handlers[len(s.handlers)-1], true
}

// LeaveFrame truncates the stack back to base. Leaving below the base is a
// hard evaluator bug: the specification calls for a panic in debug builds,
// which invariant.Invariant provides uniformly (this module makes no
// separate release/debug distinction).
func (s *ErrorHandlerStack) LeaveFrame(base int) {
	invariant.NonNegative(base, "error_handler_base")
	invariant.Invariant(base <= len(s.handlers), "leave_frame base %d exceeds handler stack height %d", base, len(s.handlers))
	s.handlers = s.handlers[:base]
}

// Len reports the current stack height.
func (s *ErrorHandlerStack) Len() int { return len(s.handlers) }
